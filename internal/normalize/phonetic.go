package normalize

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultSnapThreshold = 0.88
	minSnapTokenLength   = 5
)

// Snapper corrects garbled domain vocabulary that the whole-word rule table
// cannot anticipate: a token that is phonetically and textually close to a
// canonical term is snapped onto it. It runs before the dictionary so that
// the rule table sees canonical spellings.
//
// The pass is deliberately conservative — Double Metaphone codes must
// overlap AND Jaro-Winkler similarity must clear the threshold — because a
// false snap in a clinical transcript is worse than a missed one. Snapping
// is idempotent: canonical terms snap to themselves.
//
// Snapper is read-only after construction and safe for concurrent use.
type Snapper struct {
	terms     []string
	codes     []map[string]struct{}
	threshold float64
}

// SnapperOption is a functional option for configuring a [Snapper].
type SnapperOption func(*Snapper)

// WithSnapThreshold sets the minimum Jaro-Winkler score required for a snap.
// Default: 0.88.
func WithSnapThreshold(threshold float64) SnapperOption {
	return func(s *Snapper) {
		s.threshold = threshold
	}
}

// DefaultVocabulary is the canonical single-word domain vocabulary used for
// phonetic snapping.
func DefaultVocabulary() []string {
	return []string{
		"wątroba", "nerka", "nerki", "śledziona", "trzustka", "żołądek",
		"jelita", "dwunastnica", "pęcherz", "moczowody", "macica",
		"echogeniczność", "hiperechogeniczny", "hipoechogeniczny",
		"jednorodna", "niejednorodna", "perystaltyka", "złogi",
		"torbiel", "zwapnienie", "miedniczka",
	}
}

// NewSnapper precomputes phonetic codes for the canonical term list.
func NewSnapper(terms []string, opts ...SnapperOption) *Snapper {
	s := &Snapper{
		terms:     make([]string, 0, len(terms)),
		threshold: defaultSnapThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		s.terms = append(s.terms, t)
		s.codes = append(s.codes, metaphoneCodes(t))
	}
	return s
}

// Snap rewrites tokens of text that phonetically match a canonical term,
// returning the corrected text and the number of snaps applied. Punctuation
// adjacent to a token is preserved.
func (s *Snapper) Snap(text string) (string, int) {
	if len(s.terms) == 0 {
		return text, 0
	}

	fields := strings.Fields(text)
	snapped := 0
	for i, f := range fields {
		core, prefix, suffix := trimPunct(f)
		if len([]rune(core)) < minSnapTokenLength {
			continue
		}
		if term, ok := s.match(strings.ToLower(core)); ok && !strings.EqualFold(core, term) {
			fields[i] = prefix + term + suffix
			snapped++
		}
	}
	if snapped == 0 {
		return text, 0
	}
	return strings.Join(fields, " "), snapped
}

// match finds the best canonical term for token, requiring both a phonetic
// code overlap and a Jaro-Winkler score above the threshold.
func (s *Snapper) match(token string) (string, bool) {
	tokenCodes := metaphoneCodes(token)

	best := ""
	bestScore := 0.0
	for i, term := range s.terms {
		if !codesOverlap(tokenCodes, s.codes[i]) {
			continue
		}
		if score := matchr.JaroWinkler(token, term, false); score >= s.threshold && score > bestScore {
			best = term
			bestScore = score
		}
	}
	return best, best != ""
}

// metaphoneCodes returns the Double Metaphone codes of a token, excluding
// empty codes.
func metaphoneCodes(token string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, sec := matchr.DoubleMetaphone(token)
	if p != "" {
		codes[p] = struct{}{}
	}
	if sec != "" {
		codes[sec] = struct{}{}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// trimPunct splits a field into leading punctuation, the core token, and
// trailing punctuation.
func trimPunct(field string) (core, prefix, suffix string) {
	core = field
	for len(core) > 0 && strings.ContainsRune(`"'([{`, rune(core[0])) {
		prefix += string(core[0])
		core = core[1:]
	}
	for len(core) > 0 {
		last := core[len(core)-1]
		if !strings.ContainsRune(`.,;:!?)]}"'`, rune(last)) {
			break
		}
		suffix = string(last) + suffix
		core = core[:len(core)-1]
	}
	return core, prefix, suffix
}
