// Package stt defines the Provider interface for speech-to-text backends.
//
// Unlike a realtime voice loop, this pipeline transcribes complete exam
// recordings after the fact, so the interface is a one-shot, blocking file
// transcription with an adjustable search breadth. The transcription
// orchestrator retries once at a wider beam when the first pass scores
// poorly.
package stt

import (
	"context"
	"time"
)

// TranscribeOptions tunes a single transcription run.
type TranscribeOptions struct {
	// Language is the BCP-47 language code (e.g. "pl"). Empty means the
	// provider default.
	Language string

	// BeamSize is the decoder search breadth. Larger values trade time for
	// accuracy; the orchestrator starts low and widens on low quality.
	// Zero means the provider default. Providers without beam control
	// ignore it.
	BeamSize int

	// Timeout bounds the run wall-clock time. Zero means no explicit bound
	// beyond ctx. On expiry the run is terminated and reports an upstream
	// failure; no partial output is trusted beyond what the provider had
	// already flushed.
	Timeout time.Duration
}

// Segment is one timed slice of the transcript.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Result is the outcome of one transcription run.
type Result struct {
	// Text is the full transcript, segments joined with newlines. It may
	// still carry provider timestamp markup; the orchestrator strips it.
	Text string

	// Segments holds per-segment timing when the provider reports it.
	Segments []Segment

	// Duration is how long the run took.
	Duration time.Duration
}

// Provider is the abstraction over any speech-to-text backend.
//
// Implementations must be safe for concurrent use and must honour both ctx
// and opts.Timeout, whichever expires first.
type Provider interface {
	// Transcribe runs speech-to-text over the audio file at audioPath and
	// returns the transcript. A run that produces no text returns a Result
	// with empty Text and a nil error; infrastructure failures (process
	// killed, missing binary, bad audio) return an error.
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*Result, error)
}
