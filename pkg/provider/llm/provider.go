// Package llm defines the Provider interface for the direct answer route.
//
// When transcripts are routed straight to a language model instead of the
// shared inbox, a Provider wraps the model API (a hosted service or a local
// server) behind a uniform completion interface. Implementations must be
// safe for concurrent use, and channels returned by StreamCompletion must be
// closed when the stream ends or the context is cancelled.
package llm

import "context"

// CompletionRequest carries everything the model needs for one reply.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically the user's utterance and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the history. Providers without a dedicated system slot prepend it as
	// a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Chunk is a fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental content. May be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or "error"
	// when the stream failed mid-flight (Text then carries the message).
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any language model backend.
type Provider interface {
	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion sends req and returns a channel of incremental
	// chunks. The channel is closed by the implementation when generation
	// finishes or ctx is cancelled; callers must drain it. Errors after
	// the stream opened arrive as a Chunk with FinishReason "error".
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
