// Package quality scores ultrasound exam transcripts on a 0–100 scale from
// token-level heuristics. The scorer is a pure function of its inputs — no
// side effects, no hidden state — so the transcription orchestrator can call
// it on every run and compare scores deterministically.
package quality

import (
	"math"
	"regexp"
	"strings"

	"github.com/pkruczek/vetsono/pkg/types"
)

// Score weights. Organ coverage dominates because a transcript that never
// names the checklist organs is useless regardless of fluency.
const (
	weightOrganCoverage = 0.45
	weightUnknownTokens = 0.25
	weightRepetition    = 0.20
	weightLength        = 0.10

	unknownPenaltyGain    = 6.0
	repetitionPenaltyGain = 2.5
	lengthSaturation      = 600.0

	lowScoreThreshold     = 60
	lowOrganHitThreshold  = 1
	highRepetitionFlag    = 0.30
	manyUnknownTokensFlag = 0.15
	weirdTokenMinLength   = 20
)

// fillerWords are backchannel tokens excluded from repetition scoring:
// a clinician saying "dobrze, dobrze" is not an STT loop.
var fillerWords = map[string]struct{}{
	"ok": {}, "okej": {}, "okay": {},
	"dobrze": {}, "dobra": {},
	"tak": {}, "no": {}, "mhm": {}, "aha": {},
	"yes": {}, "yeah": {},
	"i": {}, "a": {}, "to": {},
}

// organChecklist is the fixed 7-item anatomical checklist used as the
// coverage signal for abdominal exams. Patterns tolerate inflected forms and
// adjacent qualifying words ("lewa nerka", "wątroby"). The explicit
// word-start guard is used instead of \b, which is ASCII-only in RE2 and
// blind to Polish letters.
var organChecklist = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"liver", regexp.MustCompile(`(?i)(?:^|[^\p{L}])(wątrob|liver)`)},
	{"kidneys", regexp.MustCompile(`(?i)(?:^|[^\p{L}])(nerk|kidney)`)},
	{"spleen", regexp.MustCompile(`(?i)(?:^|[^\p{L}])(śledzion|spleen)`)},
	{"bladder", regexp.MustCompile(`(?i)(?:^|[^\p{L}])(pęcherz|bladder)`)},
	{"stomach", regexp.MustCompile(`(?i)(?:^|[^\p{L}])(żołąd|stomach)`)},
	{"intestine", regexp.MustCompile(`(?i)(?:^|[^\p{L}])(jelit|dwunastnic|intestin|bowel)`)},
	{"pancreas", regexp.MustCompile(`(?i)(?:^|[^\p{L}])(trzustk|pancrea)`)},
}

// suspiciousPatterns are phrases known to appear when the STT model
// hallucinates on silence or music (the usual Polish/whisper artifacts).
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)napisy stworzone przez`),
	regexp.MustCompile(`(?i)dziękuj\w* za (uwagę|oglądanie)`),
	regexp.MustCompile(`(?i)zapraszam(y)? na (kolejny|następny)`),
	regexp.MustCompile(`(?i)subskrybuj`),
	regexp.MustCompile(`(?i)thanks for watching`),
	regexp.MustCompile(`(?i)\[(muzyka|music|applause)\]`),
}

// garbageSubstrings mark tokens as STT junk when present.
var garbageSubstrings = []string{"�", "###", "<unk>", "[_", "_]"}

var vowels = "aeiouyąęóéíáú"

// Score computes the [types.TranscriptQuality] of a transcription run. clean
// is the post-processed transcript the heuristics run on; raw is the
// unprocessed STT output, consulted only for suspicious-phrase hits that the
// cleanup may have removed. Identical inputs always yield identical output.
//
// An empty clean transcript short-circuits: score 0, EMPTY_TRANSCRIPT flag,
// zeroed metrics.
func Score(raw, clean string) types.TranscriptQuality {
	if strings.TrimSpace(clean) == "" {
		return types.TranscriptQuality{
			Score: 0,
			Flags: []string{types.FlagEmptyTranscript},
		}
	}

	tokens := tokenize(clean)

	m := types.QualityMetrics{
		TokenCount:          len(tokens),
		RepetitionScore:     repetitionScore(tokens),
		UnknownTokenRatio:   unknownTokenRatio(tokens),
		SuspiciousTermCount: suspiciousTermCount(raw) + suspiciousTermCount(clean),
	}

	for _, organ := range organChecklist {
		if organ.pattern.MatchString(clean) {
			m.OrganHitCount++
		}
	}
	m.OrganHitRatio = float64(m.OrganHitCount) / float64(len(organChecklist))

	score := weightOrganCoverage*m.OrganHitRatio +
		weightUnknownTokens*(1-math.Min(1, m.UnknownTokenRatio*unknownPenaltyGain)) +
		weightRepetition*(1-math.Min(1, m.RepetitionScore*repetitionPenaltyGain)) +
		weightLength*math.Min(1, float64(len(clean))/lengthSaturation)

	q := types.TranscriptQuality{
		Score:   int(math.Round(100 * clamp01(score))),
		Flags:   []string{},
		Metrics: m,
	}

	if m.OrganHitCount <= lowOrganHitThreshold {
		q.Flags = append(q.Flags, types.FlagVeryLowOrganCoverage)
	}
	if m.RepetitionScore >= highRepetitionFlag {
		q.Flags = append(q.Flags, types.FlagHighRepetition)
	}
	if m.UnknownTokenRatio >= manyUnknownTokensFlag {
		q.Flags = append(q.Flags, types.FlagManyUnknownTokens)
	}
	if m.SuspiciousTermCount > 0 {
		q.Flags = append(q.Flags, types.FlagSuspiciousTerms)
	}
	if q.Score < lowScoreThreshold {
		q.Flags = append(q.Flags, types.FlagQualityLow)
	}

	return q
}

// tokenize lowercases the text, strips every rune outside letters, digits and
// hyphens, and splits on whitespace.
func tokenize(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r > 127 && isLetter(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

func isLetter(r rune) bool {
	return strings.ContainsRune("ąćęłńóśźżéíáú", r) || (r >= 'à' && r <= 'ÿ')
}

// repetitionScore is the fraction of tokens that repeat their immediate
// predecessor or the token two positions back. Filler words are excluded on
// both sides of the comparison.
func repetitionScore(tokens []string) float64 {
	if len(tokens) < 2 {
		return 0
	}

	repeats := 0
	counted := 0
	for i, tok := range tokens {
		if _, filler := fillerWords[tok]; filler {
			continue
		}
		counted++
		if i >= 1 && tokens[i-1] == tok {
			repeats++
			continue
		}
		if i >= 2 && tokens[i-2] == tok {
			repeats++
		}
	}
	if counted == 0 {
		return 0
	}
	return float64(repeats) / float64(counted)
}

// unknownTokenRatio is the fraction of tokens that look like STT garbage:
// over-long, vowel-less all-letter tokens, or known junk substrings.
func unknownTokenRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	weird := 0
	for _, tok := range tokens {
		if isWeirdToken(tok) {
			weird++
		}
	}
	return float64(weird) / float64(len(tokens))
}

func isWeirdToken(tok string) bool {
	if len([]rune(tok)) >= weirdTokenMinLength {
		return true
	}
	for _, junk := range garbageSubstrings {
		if strings.Contains(tok, junk) {
			return true
		}
	}
	if isAllLetters(tok) && len(tok) > 2 && !strings.ContainsAny(tok, vowels) {
		return true
	}
	return false
}

func isAllLetters(tok string) bool {
	for _, r := range tok {
		if r >= '0' && r <= '9' || r == '-' {
			return false
		}
	}
	return len(tok) > 0
}

func suspiciousTermCount(s string) int {
	n := 0
	for _, p := range suspiciousPatterns {
		n += len(p.FindAllStringIndex(s, -1))
	}
	return n
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
