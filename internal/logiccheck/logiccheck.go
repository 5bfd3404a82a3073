// Package logiccheck filters extracted findings through deterministic
// anatomical consistency rules. It makes no model calls and never halts the
// pipeline: inconsistent findings are dropped with a logged reason, dubious
// ones are kept with a review warning.
package logiccheck

import (
	"fmt"
	"regexp"
	"strings"
)

// Rejection records one finding dropped by a validation rule.
type Rejection struct {
	// Organ is the text before the first colon of the finding.
	Organ string `json:"organ"`

	// Finding is the full rejected line.
	Finding string `json:"finding"`

	// Reason is a human-readable explanation of the rejection.
	Reason string `json:"reason"`
}

// Warning flags a kept finding for manual review.
type Warning struct {
	Finding string `json:"finding"`
	Reason  string `json:"reason"`
}

// Result is the outcome of one validation pass.
type Result struct {
	// Findings is the filtered list the pipeline proceeds with. Always
	// non-nil.
	Findings []string `json:"findings"`

	Rejections []Rejection `json:"rejections,omitempty"`
	Warnings   []Warning   `json:"warnings,omitempty"`
}

// hollowOrgans lists organs that anatomically have a wall, as lowercase
// stems so inflected forms match ("jelit" covers jelito, jelita, jelit).
// A "wall" finding attached to anything else is physiologically
// inconsistent and dropped.
var hollowOrgans = []string{
	"pęcherz", "żołąd", "jelit", "dwunastnic", "okrężnic", "macic",
	"moczowod", "moczowód",
	"bladder", "gallbladder", "stomach", "intestin", "duodenum", "colon",
	"uterus", "ureter",
}

// wallRe matches wall vocabulary in both languages. The explicit word-start
// guard replaces \b, which is ASCII-only in RE2 and never matches before "ś".
var wallRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(ścian|wall)`)

// shadowRe matches acoustic-shadow mentions including inflected forms
// ("cieniem akustycznym").
var shadowRe = regexp.MustCompile(`(?i)\b(cie[ńn]\p{L}* akustyczn|acoustic shadow)`)

// solidStructureRe matches the stone/concretion/calcification vocabulary
// that legitimately casts an acoustic shadow.
var solidStructureRe = regexp.MustCompile(`(?i)\b(kamie|złog|złóg|zwapnie|stone|concretion|calcul|calcificat)`)

// Validate filters findings formatted "Organ: description". A finding whose
// description contains a wall term is kept only when its organ is hollow; a
// finding mentioning an acoustic shadow without a nearby solid-structure
// keyword is kept but flagged for review.
func Validate(findings []string) Result {
	res := Result{Findings: []string{}}

	for _, f := range findings {
		organ, desc := splitFinding(f)

		// Ungrouped lines carry no organ label; the hollow check then runs
		// over the whole text.
		target := organ
		if target == "" {
			target = desc
		}

		if desc != "" && wallRe.MatchString(desc) && !isHollow(target) {
			res.Rejections = append(res.Rejections, Rejection{
				Organ:   organ,
				Finding: f,
				Reason:  fmt.Sprintf("opis ściany przypisany do narządu miąższowego %q", organ),
			})
			continue
		}

		if shadowRe.MatchString(f) && !solidStructureRe.MatchString(f) {
			res.Warnings = append(res.Warnings, Warning{
				Finding: f,
				Reason:  "cień akustyczny bez widocznej struktury litej, do weryfikacji",
			})
		}

		res.Findings = append(res.Findings, f)
	}

	return res
}

// RuleNames describes the rules that fired, for stage telemetry.
func (r Result) RuleNames() []string {
	names := []string{}
	if len(r.Rejections) > 0 {
		names = append(names, "wall-assignment")
	}
	if len(r.Warnings) > 0 {
		names = append(names, "acoustic-shadow")
	}
	return names
}

// splitFinding separates the organ label from the description. A line
// without a colon has no organ and is validated against its full text.
func splitFinding(f string) (organ, desc string) {
	if i := strings.Index(f, ":"); i >= 0 {
		return strings.TrimSpace(f[:i]), strings.TrimSpace(f[i+1:])
	}
	return "", strings.TrimSpace(f)
}

func isHollow(organ string) bool {
	o := strings.ToLower(organ)
	for _, h := range hollowOrgans {
		if strings.Contains(o, h) {
			return true
		}
	}
	return false
}
