package synth

import (
	"regexp"
	"strings"
	"unicode"
)

// Rewrite is one (pattern, replacement) entry of the vocabulary sanitizer.
// Patterns are matched case-insensitively against whole words.
type Rewrite struct {
	Name        string
	Pattern     string
	Replacement string

	re *regexp.Regexp
}

// DefaultRewrites neutralizes diagnostic-sounding vocabulary the synthesis
// model tends to slip into the narrative. The clinical scope of this table
// is operator policy, not a fixed requirement; deployments override it via
// [WithRewrites].
func DefaultRewrites() []Rewrite {
	return []Rewrite{
		{Name: "neoplastic", Pattern: `nowotw[oó]r\p{L}*|rak\b|guz\p{L}*|tumor\p{L}*|neoplas\p{L}*`, Replacement: "zmiana ogniskowa (do weryfikacji)"},
		{Name: "malignant", Pattern: `złośliw\p{L}*|malignan\p{L}*`, Replacement: "o niejednoznacznym charakterze"},
		{Name: "inflammatory", Pattern: `zapaleni\p{L}*|zapaln\p{L}*|inflammat\p{L}*`, Replacement: "zmiany o charakterze odczynowym"},
		{Name: "metastatic", Pattern: `przerzut\p{L}*|metasta\p{L}*`, Replacement: "dodatkowe zmiany ogniskowe"},
	}
}

// Sanitizer rewrites diagnostic vocabulary into neutral phrasing and strips
// characters from non-Latin scripts. It is read-only after construction.
type Sanitizer struct {
	rewrites []Rewrite
}

// NewSanitizer compiles the rewrite table.
func NewSanitizer(rewrites []Rewrite) (*Sanitizer, error) {
	compiled := make([]Rewrite, len(rewrites))
	for i, r := range rewrites {
		// The captured guard replaces \b, which is ASCII-only in RE2 and
		// blind to Polish letters.
		re, err := regexp.Compile(`(?i)(^|[^\p{L}])(?:` + r.Pattern + `)`)
		if err != nil {
			return nil, err
		}
		r.re = re
		compiled[i] = r
	}
	return &Sanitizer{rewrites: compiled}, nil
}

// Apply sanitizes one narrative string.
func (s *Sanitizer) Apply(text string) string {
	text = stripNonLatin(text)
	for _, r := range s.rewrites {
		text = r.re.ReplaceAllString(text, "${1}"+r.Replacement)
	}
	return text
}

// stripNonLatin removes letters outside the Latin script, a defense against
// the model answering in an unexpected language. Digits, punctuation and
// whitespace pass through.
func stripNonLatin(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
