// Package synth implements the analysis synthesizer: one model call turns
// normalized Facts, the Impression and a derived measurement summary into a
// short narrative with a confidence score. The model contributes ONLY the
// narrative and the confidence; diagnoses, recommendations and red flags
// are hard-copied from the Impression, never generated here. When the model
// fails or the material is too thin, a fixed disclaimer keeps the pipeline
// terminating with something renderable.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkruczek/vetsono/internal/llmjson"
	llm "github.com/pkruczek/vetsono/pkg/provider/llm"
	"github.com/pkruczek/vetsono/pkg/types"
)

const systemPrompt = `You are a veterinary ultrasound report assistant.

The user message contains structured data extracted from an abdominal ultrasound exam transcript (usually Polish): objective findings, measurements, and the clinician's own assessment.

Your task: write a short narrative summary of this material, in the language of the material, and rate your confidence that the summary faithfully reflects it.

Rules:
- Summarize ONLY the provided material. NEVER add recommendations, red flags, diagnoses, or findings that are not in it.
- Keep the summary under 120 words, plain prose, no lists.
- "confidence" is an integer 0-100.
- Respond with ONLY a JSON object in the exact schema you were given. No markdown, no prose.`

// Disclaimer replaces an empty narrative so the record is never blank.
const Disclaimer = "Materiał niewystarczający do jednoznacznej analizy. Proszę zweryfikować badanie."

const (
	defaultConfidence  = 80
	fallbackConfidence = 20
)

// Stats is per-call telemetry for the stage metadata sibling.
type Stats struct {
	Attempts         int
	PromptTokens     int
	CompletionTokens int
	Recovery         llmjson.Recovery
}

// Option is a functional option for configuring a [Synthesizer].
type Option func(*Synthesizer)

// WithRewrites overrides the vocabulary sanitizer table. Passing an empty
// slice disables term rewriting; non-Latin stripping always runs.
func WithRewrites(rewrites []Rewrite) Option {
	return func(s *Synthesizer) {
		s.rewrites = rewrites
	}
}

// WithMaxOutputTokens sets the completion budget. Default: 400.
func WithMaxOutputTokens(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxOutputTokens = n
		}
	}
}

// Synthesizer produces the Analysis layer. Safe for concurrent use.
type Synthesizer struct {
	llm             llm.Provider
	sanitizer       *Sanitizer
	rewrites        []Rewrite
	maxOutputTokens int
}

// New returns a [Synthesizer] backed by the given provider.
func New(provider llm.Provider, opts ...Option) (*Synthesizer, error) {
	s := &Synthesizer{
		llm:             provider,
		rewrites:        DefaultRewrites(),
		maxOutputTokens: 400,
	}
	for _, o := range opts {
		o(s)
	}
	san, err := NewSanitizer(s.rewrites)
	if err != nil {
		return nil, fmt.Errorf("synth: compiling sanitizer: %w", err)
	}
	s.sanitizer = san
	return s, nil
}

// wireAnalysis is the decoding shape for the synthesis call.
type wireAnalysis struct {
	Summary    *string `json:"summary"`
	Confidence *int    `json:"confidence"`
}

func schema() *llm.JSONSchemaFormat {
	return &llm.JSONSchemaFormat{
		Name:   "exam_analysis",
		Strict: true,
		Schema: map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"summary", "confidence"},
			"properties": map[string]any{
				"summary":    map[string]any{"type": []string{"string", "null"}},
				"confidence": map[string]any{"type": []string{"integer", "null"}},
			},
		},
	}
}

// Synthesize produces the Analysis for one exam. On model failure it
// returns the deterministic fallback Analysis together with the error, so
// the caller can both render a report and record the failure annotation.
// The three list fields of the result are always verbatim copies of the
// Impression lists.
func (s *Synthesizer) Synthesize(ctx context.Context, facts *types.Facts, imp *types.Impression) (*types.Analysis, Stats, error) {
	stats := Stats{}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: buildMaterial(facts, imp)},
		},
		Temperature:    0,
		MaxTokens:      s.maxOutputTokens,
		ResponseFormat: schema(),
	}

	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		return s.fallback(imp), stats, fmt.Errorf("synth: completion failed: %w: %w", types.ErrUpstream, err)
	}

	stats.Attempts = 1
	stats.PromptTokens = resp.Usage.PromptTokens
	stats.CompletionTokens = resp.Usage.CompletionTokens

	var wire wireAnalysis
	recovery, perr := llmjson.Decode(resp.Content, &wire)
	if perr != nil {
		merr := &types.MalformedOutputError{
			Stage:      "analysis",
			Attempts:   1,
			RawPreview: types.Preview(resp.Content),
			Cause:      perr,
		}
		return s.fallback(imp), stats, merr
	}
	stats.Recovery = recovery

	analysis := &types.Analysis{
		Confidence:      clampConfidence(wire.Confidence),
		Diagnoses:       copyList(imp.DoctorKeyConcerns),
		Recommendations: copyList(imp.DoctorPlan),
		RedFlags:        copyList(imp.DoctorRedFlags),
	}

	summary := ""
	if wire.Summary != nil {
		summary = strings.TrimSpace(s.sanitizer.Apply(*wire.Summary))
	}
	if summary == "" {
		analysis.FallbackUsed = true
		summary = Disclaimer
	}
	analysis.Summary = &summary

	return analysis, stats, nil
}

// fallback is the deterministic Analysis used when the model cannot be
// consulted: disclaimer narrative, copied lists, low confidence.
func (s *Synthesizer) fallback(imp *types.Impression) *types.Analysis {
	summary := Disclaimer
	return &types.Analysis{
		Summary:         &summary,
		Confidence:      fallbackConfidence,
		Diagnoses:       copyList(imp.DoctorKeyConcerns),
		Recommendations: copyList(imp.DoctorPlan),
		RedFlags:        copyList(imp.DoctorRedFlags),
		FallbackUsed:    true,
	}
}

// buildMaterial renders the synthesis input: findings, measurement summary
// and the clinician's assessment, each section skipped when empty.
func buildMaterial(facts *types.Facts, imp *types.Impression) string {
	var b strings.Builder

	writeSection := func(header string, lines []string) {
		if len(lines) == 0 {
			return
		}
		b.WriteString(header)
		b.WriteString(":\n")
		for _, l := range lines {
			b.WriteString("- ")
			b.WriteString(l)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	writeSection("Findings", facts.Findings)
	writeSection("Measurements", MeasurementLines(facts.Measurements))
	writeSection("Exam conditions", facts.Conditions)

	if imp.DoctorOverall != nil {
		b.WriteString("Clinician overall assessment:\n")
		b.WriteString(*imp.DoctorOverall)
		b.WriteString("\n\n")
	}
	writeSection("Clinician key concerns", imp.DoctorKeyConcerns)
	writeSection("Clinician plan", imp.DoctorPlan)
	writeSection("Clinician red flags", imp.DoctorRedFlags)

	if b.Len() == 0 {
		return "(no extracted material)"
	}
	return strings.TrimRight(b.String(), "\n")
}

// MeasurementLines renders measurements in their canonical string shape,
// one line each.
func MeasurementLines(ms []types.Measurement) []string {
	lines := make([]string, 0, len(ms))
	for _, m := range ms {
		lines = append(lines, m.String())
	}
	return lines
}

func clampConfidence(c *int) int {
	if c == nil {
		return defaultConfidence
	}
	if *c < 0 {
		return 0
	}
	if *c > 100 {
		return 100
	}
	return *c
}

func copyList(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
