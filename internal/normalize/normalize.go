// Package normalize applies deterministic text corrections to raw exam
// transcripts before any model sees them: a phonetic snap of garbled domain
// vocabulary, an ordered whole-word replacement table for recurring STT
// errors, and an anti-loop pass that collapses stutter repetitions. It also
// derives the visit-reason and patient-name weak signals without a language
// model.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Rule is one (wrong, correct) whole-word replacement. Rules are applied in
// order, case-insensitively, and the application is idempotent: once every
// wrong token is replaced, a second pass changes nothing.
type Rule struct {
	// Name identifies the rule in telemetry.
	Name string

	// Wrong is the misrecognized token or phrase (whole-word match).
	Wrong string

	// Correct is the replacement text.
	Correct string

	re *regexp.Regexp
}

// DefaultRules is the stock correction table for Polish veterinary
// ultrasound vocabulary, ordered longest-phrase first so multi-word fixes
// win over their single-word substrings.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "miąższ-phrase", Wrong: "miąż wątroby", Correct: "miąższ wątroby"},
		{Name: "pęcherz-moczowy", Wrong: "pęcherz mroczowy", Correct: "pęcherz moczowy"},
		{Name: "echogeniczność", Wrong: "echo geniczność", Correct: "echogeniczność"},
		{Name: "hiperechogeniczny", Wrong: "hiper echogeniczny", Correct: "hiperechogeniczny"},
		{Name: "hipoechogeniczny", Wrong: "hipo echogeniczny", Correct: "hipoechogeniczny"},
		{Name: "wątroba", Wrong: "wontroba", Correct: "wątroba"},
		{Name: "śledziona", Wrong: "sledziona", Correct: "śledziona"},
		{Name: "nerka", Wrong: "merka", Correct: "nerka"},
		{Name: "moczowody", Wrong: "mocze wody", Correct: "moczowody"},
		{Name: "trzustka", Wrong: "trzuska", Correct: "trzustka"},
		{Name: "perystaltyka", Wrong: "perystaltyga", Correct: "perystaltyka"},
		{Name: "złogi", Wrong: "z łogi", Correct: "złogi"},
		{Name: "cień-akustyczny", Wrong: "cień agustyczny", Correct: "cień akustyczny"},
		{Name: "jednorodna", Wrong: "jedno rodna", Correct: "jednorodna"},
	}
}

// Dictionary applies an ordered rule table to transcript text.
type Dictionary struct {
	rules []Rule
}

// NewDictionary compiles the rule table. Identical behaviour over identical
// input is guaranteed; the compiled patterns are whole-word and
// case-insensitive.
func NewDictionary(rules []Rule) (*Dictionary, error) {
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		if r.Wrong == "" {
			return nil, fmt.Errorf("normalize: rule %q has empty pattern", r.Name)
		}
		first, _ := utf8.DecodeRuneInString(r.Wrong)
		last, _ := utf8.DecodeLastRuneInString(r.Wrong)
		re, err := regexp.Compile(`(?i)` + wordAnchor(first) + regexp.QuoteMeta(r.Wrong) + wordAnchor(last))
		if err != nil {
			return nil, fmt.Errorf("normalize: rule %q: %w", r.Name, err)
		}
		r.re = re
		compiled[i] = r
	}
	return &Dictionary{rules: compiled}, nil
}

// wordAnchor returns a word-boundary anchor for a pattern edge. RE2's \b is
// ASCII-only and can never match next to a Polish letter, so such edges get
// no anchor.
func wordAnchor(edge rune) string {
	if edge < utf8.RuneSelf {
		return `\b`
	}
	return ""
}

// Apply runs every rule in order and returns the corrected text together
// with the names of the rules that fired, for telemetry. Fired is always
// non-nil.
func (d *Dictionary) Apply(text string) (corrected string, fired []string) {
	fired = []string{}
	for _, r := range d.rules {
		if !r.re.MatchString(text) {
			continue
		}
		text = r.re.ReplaceAllString(text, r.Correct)
		fired = append(fired, r.Name)
	}
	return text, fired
}

// AntiLoopConfig tunes the duplicate-line collapser.
type AntiLoopConfig struct {
	// Threshold is the repeat count above which a key is collapsed.
	// Default: 2.
	Threshold int

	// Keep is how many occurrences of a collapsed key survive. Default: 1.
	Keep int
}

// CollapseLoops splits text into lines (falling back to sentences for
// single-line input), counts repeats of a normalized key, and for any key
// exceeding cfg.Threshold keeps only the first cfg.Keep occurrences. This
// defends against STT stutter artifacts where the decoder emits the same
// sentence dozens of times.
func CollapseLoops(text string, cfg AntiLoopConfig) string {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 2
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 1
	}

	lines := splitUnits(text)
	if len(lines) == 0 {
		return text
	}

	counts := make(map[string]int, len(lines))
	for _, l := range lines {
		counts[loopKey(l)]++
	}

	seen := make(map[string]int, len(counts))
	var out []string
	for _, l := range lines {
		key := loopKey(l)
		seen[key]++
		if counts[key] > cfg.Threshold && seen[key] > cfg.Keep {
			continue
		}
		out = append(out, l)
	}

	if strings.Contains(text, "\n") {
		return strings.Join(out, "\n")
	}
	return strings.Join(out, " ")
}

// splitUnits splits on newlines when present, otherwise on sentence
// boundaries, dropping blank units.
func splitUnits(text string) []string {
	var parts []string
	if strings.Contains(text, "\n") {
		parts = strings.Split(text, "\n")
	} else {
		parts = splitSentences(text)
	}

	units := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			units = append(units, p)
		}
	}
	return units
}

var sentenceEndRe = regexp.MustCompile(`([.!?])\s+`)

// splitSentences breaks single-line text on terminal punctuation, keeping
// the punctuation with its sentence.
func splitSentences(text string) []string {
	marked := sentenceEndRe.ReplaceAllString(text, "$1\x00")
	return strings.Split(marked, "\x00")
}

var spaceRe = regexp.MustCompile(`\s+`)

// loopKey normalizes a line for repeat counting: lowercased, trailing
// punctuation stripped, inner whitespace collapsed.
func loopKey(line string) string {
	s := strings.ToLower(strings.TrimSpace(line))
	s = strings.TrimRight(s, ".,;:!? ")
	return spaceRe.ReplaceAllString(s, " ")
}
