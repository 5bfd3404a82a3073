// Package extract implements the schema-constrained extraction engine: two
// independent temperature-0 model calls turn a normalized transcript into
// objective Facts and a subjective Impression. Model output is parsed
// defensively, truncation is detected from the finish reason, and each call
// retries at most once with a smaller tail-biased input window before giving
// up with a malformed-output error.
package extract

import (
	"context"
	"fmt"

	"github.com/pkruczek/vetsono/internal/llmjson"
	llm "github.com/pkruczek/vetsono/pkg/provider/llm"
	"github.com/pkruczek/vetsono/pkg/types"
)

const (
	defaultMaxInputChars   = 12000
	defaultMaxOutputTokens = 1500

	// retryShrink divides the input window and output budget on the single
	// bounded retry.
	retryShrink = 2
)

// Stats is per-call telemetry surfaced to the pipeline for the stage
// metadata sibling.
type Stats struct {
	// Attempts counts model calls, including the bounded retry.
	Attempts int

	PromptTokens     int
	CompletionTokens int

	// Recovery names the parse-ladder step that produced the object.
	Recovery llmjson.Recovery

	// Truncated marks that the adopted response reported an abnormal finish
	// reason.
	Truncated bool
}

// Option is a functional option for configuring an [Extractor].
type Option func(*Extractor)

// WithMaxInputChars caps the transcript window sent to the model. The
// window is tail-biased: clinical conclusions tend to appear near the end.
// Default: 12000.
func WithMaxInputChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxInputChars = n
		}
	}
}

// WithMaxOutputTokens sets the per-call completion budget. Default: 1500.
func WithMaxOutputTokens(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxOutputTokens = n
		}
	}
}

// Extractor runs the two extraction calls against an [llm.Provider]. It is
// stateless apart from configuration and safe for concurrent use.
type Extractor struct {
	llm             llm.Provider
	maxInputChars   int
	maxOutputTokens int
}

// New returns an [Extractor] backed by the given provider.
func New(provider llm.Provider, opts ...Option) *Extractor {
	e := &Extractor{
		llm:             provider,
		maxInputChars:   defaultMaxInputChars,
		maxOutputTokens: defaultMaxOutputTokens,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Facts extracts the objective exam data from a normalized transcript.
// A syntactically successful extraction with no usable content returns
// [types.ErrInsufficientData] together with the (empty) Facts.
func (e *Extractor) Facts(ctx context.Context, transcript string) (*types.Facts, Stats, error) {
	var wire wireFacts
	stats, err := e.call(ctx, "facts", factsSystemPrompt, factsSchema(), transcript, &wire)
	if err != nil {
		return nil, stats, err
	}

	facts := cleanFacts(wire)
	if !hasFactsContent(facts) {
		return facts, stats, fmt.Errorf("extract: facts: no usable content: %w", types.ErrInsufficientData)
	}
	return facts, stats, nil
}

// Impression extracts the clinician's subjective assessment.
func (e *Extractor) Impression(ctx context.Context, transcript string) (*types.Impression, Stats, error) {
	var wire types.Impression
	stats, err := e.call(ctx, "impression", impressionSystemPrompt, impressionSchema(), transcript, &wire)
	if err != nil {
		return nil, stats, err
	}

	imp := cleanImpression(wire)
	if !hasImpressionContent(imp) {
		return imp, stats, fmt.Errorf("extract: impression: no usable content: %w", types.ErrInsufficientData)
	}
	return imp, stats, nil
}

// call performs one schema-constrained extraction with the bounded retry
// policy and decodes the response into v.
func (e *Extractor) call(ctx context.Context, stage, system string, schema *llm.JSONSchemaFormat, transcript string, v any) (Stats, error) {
	stats := Stats{}

	window := e.maxInputChars
	budget := e.maxOutputTokens
	instruction := ""

	var lastErr error
	var lastRaw string

	for attempt := 1; attempt <= 2; attempt++ {
		req := llm.CompletionRequest{
			SystemPrompt: system,
			Messages: []llm.Message{
				{Role: "user", Content: tailWindow(transcript, window) + instruction},
			},
			Temperature:    0,
			MaxTokens:      budget,
			ResponseFormat: schema,
		}

		resp, err := e.llm.Complete(ctx, req)
		if err != nil {
			return stats, fmt.Errorf("extract: %s: completion failed: %w: %w", stage, types.ErrUpstream, err)
		}

		stats.Attempts = attempt
		stats.PromptTokens += resp.Usage.PromptTokens
		stats.CompletionTokens += resp.Usage.CompletionTokens

		truncated := resp.FinishReason != llm.FinishStop
		recovery, perr := llmjson.Decode(resp.Content, v)

		if perr == nil && (!truncated || attempt == 2) {
			// A first-attempt truncation signal forces the retry even when
			// the slice parsed; on the retry a parsed object is adopted.
			stats.Recovery = recovery
			stats.Truncated = truncated
			return stats, nil
		}

		if perr != nil {
			lastErr = perr
		} else {
			lastErr = fmt.Errorf("extract: %s: completion truncated (finish reason %q)", stage, resp.FinishReason)
		}
		lastRaw = resp.Content

		window /= retryShrink
		budget /= retryShrink
		instruction = retryInstruction
	}

	return stats, &types.MalformedOutputError{
		Stage:      stage,
		Attempts:   stats.Attempts,
		RawPreview: types.Preview(lastRaw),
		Cause:      lastErr,
	}
}

// tailWindow returns the last max runes of text. The head is dropped
// because dictated conclusions cluster at the end of an exam recording.
func tailWindow(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[len(runes)-max:])
}
