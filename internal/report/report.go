// Package report implements the deterministic report assembler. It renders
// the final clinician-reviewable text from Facts, Impression and Analysis
// with no model call: fixed section order, per-organ aggregation of
// findings, rule-table boilerplate when the clinician stated no plan, and an
// anti-loop pass before the final render. Rendering the same inputs twice
// yields byte-identical text.
package report

import (
	"strings"

	"github.com/pkruczek/vetsono/internal/normalize"
	"github.com/pkruczek/vetsono/pkg/types"
)

// section labels, in render order.
const (
	labelReason          = "POWÓD BADANIA"
	labelConditions      = "WARUNKI BADANIA"
	labelFindings        = "OPIS BADANIA"
	labelMeasurements    = "POMIARY"
	labelConclusions     = "WNIOSKI"
	labelRecommendations = "ZALECENIA"
	labelRedFlags        = "OBJAWY ALARMOWE"
)

// footer is the fixed compliance note closing every report.
const footer = "Raport wygenerowany automatycznie na podstawie nagrania badania. " +
	"Wymaga weryfikacji przez lekarza weterynarii i nie stanowi samodzielnego rozpoznania."

// placeholder renders for a section with no content.
const placeholder = "—"

// Option is a functional option for configuring an [Assembler].
type Option func(*Assembler)

// WithAntiLoop overrides the duplicate-line collapser configuration applied
// before the final render.
func WithAntiLoop(cfg normalize.AntiLoopConfig) Option {
	return func(a *Assembler) {
		a.loop = cfg
	}
}

// Assembler renders reports. It is read-only after construction and safe
// for concurrent use.
type Assembler struct {
	loop normalize.AntiLoopConfig
}

// New returns an [Assembler] with the default anti-loop configuration.
func New(opts ...Option) *Assembler {
	a := &Assembler{loop: normalize.AntiLoopConfig{Threshold: 2, Keep: 1}}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Render produces the final report text. It reads its inputs and never
// mutates them; identical inputs yield identical output.
func (a *Assembler) Render(facts *types.Facts, imp *types.Impression, analysis *types.Analysis) string {
	var b strings.Builder

	writeSection(&b, labelReason, reasonLines(facts))
	writeSection(&b, labelConditions, a.collapse(facts.Conditions))
	writeSection(&b, labelFindings, a.collapse(GroupFindings(facts.Findings)))
	writeSection(&b, labelMeasurements, a.collapse(measurementLines(facts.Measurements)))
	writeSection(&b, labelConclusions, a.collapse(conclusionLines(imp, analysis)))
	writeSection(&b, labelRecommendations, a.collapse(recommendationLines(facts, analysis)))
	writeSection(&b, labelRedFlags, a.collapse(analysis.RedFlags))

	return strings.TrimRight(b.String(), "\n") + "\n\n" + footer + "\n"
}

// collapse runs the anti-loop pass over one section's lines. Single-line
// sections are left alone so narrative prose is never re-split.
func (a *Assembler) collapse(lines []string) []string {
	if len(lines) < 2 {
		return lines
	}
	out := normalize.CollapseLoops(strings.Join(lines, "\n"), a.loop)
	return strings.Split(out, "\n")
}

func writeSection(b *strings.Builder, label string, lines []string) {
	b.WriteString(label)
	b.WriteString(":\n")
	if len(lines) == 0 {
		b.WriteString(placeholder)
		b.WriteString("\n\n")
		return
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func reasonLines(facts *types.Facts) []string {
	if facts.Exam.Reason == nil {
		return nil
	}
	return []string{*facts.Exam.Reason}
}

// GroupFindings aggregates "Organ: description" lines per organ, keyed by
// the text before the first colon. Descriptions are deduplicated
// case-insensitively and joined with "; ", preserving first-seen order of
// both organs and descriptions. Lines without a colon pass through
// unchanged after the grouped ones.
func GroupFindings(findings []string) []string {
	type group struct {
		organ string
		descs []string
		seen  map[string]struct{}
	}

	var order []*group
	byOrgan := map[string]*group{}
	var passthrough []string

	for _, f := range findings {
		i := strings.Index(f, ":")
		if i < 0 {
			passthrough = append(passthrough, strings.TrimSpace(f))
			continue
		}
		organ := strings.TrimSpace(f[:i])
		desc := strings.TrimSpace(f[i+1:])

		key := strings.ToLower(organ)
		g, ok := byOrgan[key]
		if !ok {
			g = &group{organ: organ, seen: map[string]struct{}{}}
			byOrgan[key] = g
			order = append(order, g)
		}

		dkey := strings.ToLower(strings.TrimRight(desc, "."))
		if _, dup := g.seen[dkey]; dup || desc == "" {
			continue
		}
		g.seen[dkey] = struct{}{}
		g.descs = append(g.descs, desc)
	}

	lines := make([]string, 0, len(order)+len(passthrough))
	for _, g := range order {
		lines = append(lines, g.organ+": "+strings.Join(g.descs, "; "))
	}
	lines = append(lines, passthrough...)
	return lines
}

func measurementLines(ms []types.Measurement) []string {
	lines := make([]string, 0, len(ms))
	for _, m := range ms {
		lines = append(lines, m.String())
	}
	return lines
}

// conclusionLines renders the narrative summary followed by the diagnoses
// copied from the clinician's concerns.
func conclusionLines(imp *types.Impression, analysis *types.Analysis) []string {
	var lines []string
	if analysis.Summary != nil && *analysis.Summary != "" {
		lines = append(lines, *analysis.Summary)
	} else if imp.DoctorOverall != nil {
		lines = append(lines, *imp.DoctorOverall)
	}
	for _, d := range analysis.Diagnoses {
		lines = append(lines, "- "+d)
	}
	return lines
}

// recommendationLines prefers the clinician's plan; when it is empty the
// rule table synthesizes conservative boilerplate from the findings, so an
// abnormal exam never renders with a bare placeholder.
func recommendationLines(facts *types.Facts, analysis *types.Analysis) []string {
	if len(analysis.Recommendations) > 0 {
		return analysis.Recommendations
	}
	return synthesizeRecommendations(facts.Findings)
}
