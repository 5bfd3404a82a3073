// Package transcribe implements the transcription orchestrator: it drives
// the external speech-to-text provider at a low search breadth first,
// post-cleans and normalizes the output, scores it, and retries exactly once
// at a wider beam when the result is empty or scores below the configured
// threshold. Whichever run scores higher wins; both runs land in the audit
// history.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkruczek/vetsono/internal/normalize"
	"github.com/pkruczek/vetsono/internal/quality"
	"github.com/pkruczek/vetsono/pkg/provider/stt"
	"github.com/pkruczek/vetsono/pkg/types"
)

const (
	defaultLowBeam        = 2
	defaultHighBeam       = 5
	defaultRetryThreshold = 60
	defaultLanguage       = "pl"
)

// Outcome is the adopted transcription together with the full audit history.
type Outcome struct {
	// Text is the cleaned, normalized transcript of the winning run.
	Text string

	// Quality scores the winning run.
	Quality types.TranscriptQuality

	// Runs lists every attempt in order, including discarded ones. Exactly
	// one run has Adopted set unless all runs failed.
	Runs []types.TranscriptionRun

	// FiredRules names the dictionary rules that fired on the winning run.
	FiredRules []string

	// Snaps counts phonetic vocabulary corrections on the winning run.
	Snaps int
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithBeamSizes sets the low and high search breadths. Defaults: 2 and 5.
func WithBeamSizes(low, high int) Option {
	return func(o *Orchestrator) {
		if low > 0 {
			o.lowBeam = low
		}
		if high > 0 {
			o.highBeam = high
		}
	}
}

// WithRetryThreshold sets the quality score below which the wide-beam retry
// is issued. Default: 60.
func WithRetryThreshold(score int) Option {
	return func(o *Orchestrator) {
		o.retryThreshold = score
	}
}

// WithLanguage sets the transcription language. Default: "pl".
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) {
		if lang != "" {
			o.language = lang
		}
	}
}

// WithTimeout bounds each STT run's wall-clock time. Zero leaves the
// provider default in force.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithAntiLoop overrides the duplicate-line collapser configuration.
func WithAntiLoop(cfg normalize.AntiLoopConfig) Option {
	return func(o *Orchestrator) {
		o.loop = cfg
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Orchestrator runs the transcription stage. Safe for concurrent use.
type Orchestrator struct {
	stt     stt.Provider
	dict    *normalize.Dictionary
	snapper *normalize.Snapper
	loop    normalize.AntiLoopConfig

	lowBeam        int
	highBeam       int
	retryThreshold int
	language       string
	timeout        time.Duration
	logger         *slog.Logger
}

// New returns an [Orchestrator] backed by the given STT provider and
// dictionary.
func New(provider stt.Provider, dict *normalize.Dictionary, snapper *normalize.Snapper, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stt:            provider,
		dict:           dict,
		snapper:        snapper,
		loop:           normalize.AntiLoopConfig{Threshold: 2, Keep: 1},
		lowBeam:        defaultLowBeam,
		highBeam:       defaultHighBeam,
		retryThreshold: defaultRetryThreshold,
		language:       defaultLanguage,
		logger:         slog.Default(),
	}
	for _, op := range opts {
		op(o)
	}
	return o
}

// attempt is one fully processed run before adoption is decided.
type attempt struct {
	run        types.TranscriptionRun
	text       string
	firedRules []string
	snaps      int
	err        error
}

// Transcribe produces the exam transcript. A run that is empty or scores
// below the retry threshold triggers exactly one wide-beam retry; the
// higher-scoring run is adopted, never a merge of the two. When every run
// fails the error wraps [types.ErrUpstream].
func (o *Orchestrator) Transcribe(ctx context.Context, audioPath string) (*Outcome, error) {
	attempts := []attempt{o.runOnce(ctx, audioPath, o.lowBeam)}

	if first := attempts[0]; first.run.Quality.HasFlag(types.FlagEmptyTranscript) || first.run.Quality.Score < o.retryThreshold {
		o.logger.Info("transcription retry at wider beam",
			"score", first.run.Quality.Score,
			"threshold", o.retryThreshold,
			"beam", o.highBeam)

		attempts = append(attempts, o.runOnce(ctx, audioPath, o.highBeam))
	}

	bestIdx := 0
	for i, a := range attempts[1:] {
		cur := attempts[bestIdx]
		if a.run.Quality.Score > cur.run.Quality.Score ||
			(a.run.Quality.Score == cur.run.Quality.Score && cur.err != nil && a.err == nil) {
			bestIdx = i + 1
		}
	}
	best := attempts[bestIdx]

	runs := make([]types.TranscriptionRun, len(attempts))
	for i, a := range attempts {
		runs[i] = a.run
	}

	if best.text == "" && best.err != nil {
		return &Outcome{Runs: runs}, fmt.Errorf("transcribe: all runs failed: %w: %w", types.ErrUpstream, best.err)
	}

	runs[bestIdx].Adopted = true

	return &Outcome{
		Text:       best.text,
		Quality:    best.run.Quality,
		Runs:       runs,
		FiredRules: best.firedRules,
		Snaps:      best.snaps,
	}, nil
}

// runOnce executes one STT pass and post-processes its output. A failed or
// timed-out process is recorded as a produced-nothing run, never as a fatal
// error of the orchestrator.
func (o *Orchestrator) runOnce(ctx context.Context, audioPath string, beam int) attempt {
	started := time.Now()

	res, err := o.stt.Transcribe(ctx, audioPath, stt.TranscribeOptions{
		Language: o.language,
		BeamSize: beam,
		Timeout:  o.timeout,
	})
	if err != nil {
		o.logger.Warn("stt run produced nothing", "beam", beam, "error", err)
		return attempt{
			err: err,
			run: types.TranscriptionRun{
				BeamSize:  beam,
				Quality:   quality.Score("", ""),
				Error:     err.Error(),
				StartedAt: started,
				Duration:  time.Since(started),
			},
		}
	}

	raw := res.Text
	text, fired, snaps := o.normalizeText(raw)
	q := quality.Score(raw, text)

	return attempt{
		text:       text,
		firedRules: fired,
		snaps:      snaps,
		run: types.TranscriptionRun{
			BeamSize:  beam,
			Text:      text,
			Quality:   q,
			StartedAt: started,
			Duration:  time.Since(started),
		},
	}
}

// Normalize runs the post-processing chain over an externally supplied
// transcript, for runs fed text instead of audio.
func (o *Orchestrator) Normalize(raw string) (text string, firedRules []string) {
	text, fired, _ := o.normalizeText(raw)
	return text, fired
}

// normalizeText applies the deterministic post-processing chain: markup
// stripping, phonetic snapping, the dictionary rule table, then the
// anti-loop collapse.
func (o *Orchestrator) normalizeText(raw string) (text string, fired []string, snaps int) {
	text = CleanTranscript(raw)
	if o.snapper != nil {
		text, snaps = o.snapper.Snap(text)
	}
	fired = []string{}
	if o.dict != nil {
		text, fired = o.dict.Apply(text)
	}
	text = normalize.CollapseLoops(text, o.loop)
	return text, fired, snaps
}
