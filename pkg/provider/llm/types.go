package llm

// Message represents a single message in a model conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name for multi-speaker contexts.
	Name string
}

// Usage holds token accounting returned by the model backend. Counts are in
// the model's native token unit and may differ between providers for the
// same text.
type Usage struct {
	// PromptTokens consumed by the input messages and system prompt.
	PromptTokens int

	// CompletionTokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}
