package resilience

import (
	"context"

	"github.com/pkruczek/vetsono/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple speech-to-text backends. Each backend has its own circuit
// breaker.
//
// An empty transcript with a nil error counts as a successful call here; the
// orchestrator, not the breaker, decides whether an empty run warrants a
// retry.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the audio file through the first healthy provider.
func (f *STTFallback) Transcribe(ctx context.Context, audioPath string, opts stt.TranscribeOptions) (*stt.Result, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, audioPath, opts)
	})
}
