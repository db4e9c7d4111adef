// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote model API (OpenAI, or any vendor reachable
// through any-llm-go) and exposes the single completion call that meetvoice
// needs for structured extraction and for the conversational scheduling agent.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// JSONObject asks the backend to constrain its reply to a single JSON
	// object. Providers without native support ignore it.
	JSONObject bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Errors should wrap the sentinels in package provider (ErrUnauthorized,
	// ErrRateLimited, ...) when the backend reports a classifiable failure.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
