// Package llm defines the Provider interface for language-model backends.
//
// A provider wraps a remote or local chat-completion API (OpenAI, Anthropic,
// a local Ollama instance, …) and exposes a uniform blocking interface for
// the extraction and synthesis stages. Streaming is deliberately absent:
// every call in this pipeline is a bounded request/response exchange whose
// finish reason and token usage feed truncation telemetry.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Message is a single message in a chat-completion conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// JSONSchemaFormat constrains the completion to a named JSON schema, for
// backends that support structured output (OpenAI response_format).
type JSONSchemaFormat struct {
	// Name identifies the schema (e.g. "ultrasound_facts").
	Name string

	// Schema is the JSON Schema document as a generic map.
	Schema map[string]any

	// Strict requests exact schema adherence where supported.
	Strict bool
}

// CompletionRequest carries everything the model needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is the high-priority instruction injected before the
	// conversation. Providers without a dedicated system slot prepend it as
	// a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation; the last message drives the
	// response. Must be non-empty.
	Messages []Message

	// Temperature controls randomness. The extraction stages always pass 0
	// to request greedy decoding.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int

	// ResponseFormat optionally constrains output to a JSON schema.
	// Providers without structured-output support ignore it; the defensive
	// parser copes either way.
	ResponseFormat *JSONSchemaFormat
}

// Finish reasons normalized across backends. Anything other than
// FinishStop is treated as a truncation signal by the extraction engine,
// even when the content happens to parse.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

// CompletionResponse is the full, non-streaming model reply.
type CompletionResponse struct {
	// Content is the assistant message text.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", …).
	FinishReason string

	// Usage contains token accounting for this exchange.
	Usage Usage
}

// Capabilities describes static limits of the provider's model.
type Capabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the largest completion the model can generate.
	MaxOutputTokens int

	// SupportsJSONSchema indicates native structured-output support.
	SupportsJSONSchema bool
}

// Provider is the abstraction over any chat-completion backend.
//
// Implementations must be safe for concurrent use. When ctx is cancelled or
// its deadline passes, Complete must return promptly with the context error
// wrapped.
type Provider interface {
	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens messages would consume in the
	// model's context window. The result need not be exact but should not
	// undercount; it is used to size the transcript window before a call.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata, assumed constant for the
	// provider's lifetime.
	Capabilities() Capabilities
}
