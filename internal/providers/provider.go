// Package providers contains LLM provider adapters. Adapters speak the
// provider wire protocol and hand back either a buffered result or a stream
// of classified chunks for the analysis pipeline.
package providers

import (
	"context"

	"github.com/marginalia-app/marginalia/internal/analysis"
)

// Message is a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatRequest is a request to an LLM provider.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (client default if empty).
	Model string `json:"model,omitempty"`

	// Generation parameters.
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Request tracking.
	RequestID string `json:"-"`
}

// ChatResult is the complete response from a buffered chat call.
type ChatResult struct {
	Content   string         `json:"content"`
	Usage     analysis.Usage `json:"usage"`
	ModelUsed string         `json:"model_used"`
	Provider  string         `json:"provider"`
	RequestID string         `json:"request_id"`
}

// Client is the provider interface used by the coordinator.
type Client interface {
	// Chat sends a buffered chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// StreamChat opens a streaming request. The returned source yields
	// classified chunks; closing it releases the transport.
	StreamChat(ctx context.Context, req *ChatRequest) (analysis.Source, error)

	// Name returns the client identifier.
	Name() string
}
