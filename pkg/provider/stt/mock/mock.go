// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/pkruczek/vetsono/pkg/provider/stt"
)

// Call records a single invocation of Transcribe.
type Call struct {
	AudioPath string
	Opts      stt.TranscribeOptions
}

// Provider is a mock implementation of stt.Provider. Each Transcribe call
// consumes the next entry of Results (the last entry repeats once the slice
// is exhausted), which lets tests script a poor first run followed by a
// better wide-beam retry.
type Provider struct {
	mu sync.Mutex

	// Results are returned by successive Transcribe calls.
	Results []*stt.Result

	// Errs pairs with Results positionally; a non-nil entry is returned
	// instead of the result at that index.
	Errs []error

	// Calls records every invocation in order.
	Calls []Call

	calls int
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audioPath string, opts stt.TranscribeOptions) (*stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{AudioPath: audioPath, Opts: opts})
	idx := p.calls
	p.calls++

	if idx < len(p.Errs) && p.Errs[idx] != nil {
		return nil, p.Errs[idx]
	}
	if len(p.Results) == 0 {
		return nil, errors.New("mock: no scripted results")
	}
	if idx >= len(p.Results) {
		idx = len(p.Results) - 1
	}
	return p.Results[idx], nil
}
