// Package llm provides the hosted language model client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID       string `json:"id,omitempty"` // Provider-assigned ID for result correlation
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatRequest is a provider-neutral chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []map[string]any
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the unified response from the provider. All fields
// use proper Go types; wire format conversion happens at the provider
// boundary (openai.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	InputTokens  int
	OutputTokens int
}

// Client is the interface the agent loop depends on. The live
// implementation is OpenAIClient; tests substitute scripted fakes.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ErrRateLimited indicates the provider rejected the request with a
// rate-limit response. Surfaced to the caller distinctly so the client
// can show "try again shortly" rather than a generic failure.
var ErrRateLimited = errors.New("model provider rate limited")

// MalformedToolCallError indicates the model produced tool-call
// arguments that could not be decoded. Retryable with an adjusted
// temperature; see Retry.
type MalformedToolCallError struct {
	Tool string
	Err  error
}

func (e *MalformedToolCallError) Error() string {
	return fmt.Sprintf("malformed tool call %q: %v", e.Tool, e.Err)
}

func (e *MalformedToolCallError) Unwrap() error { return e.Err }
