// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic,
// a local Ollama instance, ...) and exposes a single request/response call.
// The agent speaks every reply aloud as one utterance, so it has no use for
// token streaming or tool calls; the interface is deliberately limited to
// complete replies.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in the conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// from the user and drives the reply.
	Messages []Message

	// SystemPrompt is an optional instruction injected before Messages.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// User is an opaque end-user identifier forwarded to providers that
	// accept one (e.g. the device serial).
	User string
}

// CompletionResponse is the reply to a CompletionRequest.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. May be empty.
	Content string

	// FinishReason is the provider's stop reason, e.g. "stop" or "length".
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the model identifier used for requests.
	Model() string
}
