// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the exact CompletionRequests sent by
// the extraction and synthesis stages and to feed controlled responses
// without a live backend. Responses can be scripted as a sequence, which
// makes retry behaviour (truncated first call, clean second call) easy to
// exercise.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []*llm.CompletionResponse{
//	        {Content: `{"findings": []}`, FinishReason: llm.FinishStop},
//	    },
//	}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/pkruczek/vetsono/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Each Complete call consumes the next entry of Responses (the last entry
// repeats once the slice is exhausted). Set Err to make every call fail, or
// Errs to script per-call errors alongside Responses.
type Provider struct {
	mu sync.Mutex

	// Responses are returned by successive Complete calls.
	Responses []*llm.CompletionResponse

	// Errs, when non-empty, pairs with Responses positionally; a non-nil
	// entry is returned instead of the response at that index.
	Errs []error

	// Err, if non-nil, is returned from every Complete call.
	Err error

	// TokensPerMessage is the fixed count CountTokens reports per message.
	// Zero means 10.
	TokensPerMessage int

	// Caps is returned by Capabilities.
	Caps llm.Capabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	calls int
}

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	idx := p.calls
	p.calls++

	if p.Err != nil {
		return nil, p.Err
	}
	if idx < len(p.Errs) && p.Errs[idx] != nil {
		return nil, p.Errs[idx]
	}
	if len(p.Responses) == 0 {
		return nil, errors.New("mock: no scripted responses")
	}
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	return p.Responses[idx], nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	per := p.TokensPerMessage
	if per <= 0 {
		per = 10
	}
	return per * len(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.Capabilities {
	if p.Caps == (llm.Capabilities{}) {
		return llm.Capabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
	}
	return p.Caps
}
