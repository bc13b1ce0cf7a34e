// Package adapter translates between the OpenAI chat-completion wire shape
// and each backend's native shape. It is the only component that touches a
// provider's HTTP surface; adapters are stateless — all per-call state
// lives in the arguments, never on the adapter value, so a single instance
// per kind is shared across every provider of that kind.
package adapter

import (
	"context"

	"github.com/flemzord/gatewayd/internal/catalog"
)

// Adapter forwards an OpenAI-shaped chat-completion request body to
// provider and returns an OpenAI-shaped response body, or a normalized
// error when the call fails.
type Adapter interface {
	Forward(ctx context.Context, provider *catalog.Provider, requestBody []byte) (responseBody []byte, normErr catalog.NormalizedError, err error)
}

// ForKind returns the stateless adapter for the given provider kind.
func ForKind(kind catalog.ProviderKind) Adapter {
	switch kind {
	case catalog.KindOllama:
		return ollamaAdapter{}
	default:
		return openAICompatAdapter{}
	}
}

// Dispatcher forwards to whichever adapter matches the provider's kind.
// It is what the scheduler holds so it never has to know about kinds.
type Dispatcher struct{}

// Forward implements the scheduler's Adapter interface.
func (Dispatcher) Forward(ctx context.Context, p *catalog.Provider, requestBody []byte) ([]byte, catalog.NormalizedError, error) {
	return ForKind(p.Kind).Forward(ctx, p, requestBody)
}

// oaiMessage mirrors the OpenAI chat message shape: role + content. Shared
// by both adapters since it is the common ground between an OpenAI-shaped
// request and Ollama's near-identical message array.
type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// oaiChatRequest is the subset of an OpenAI chat-completion request body
// this gateway understands. Non-goals (tools, streaming, n>1) are parsed
// only far enough to be rejected or ignored, never translated.
type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

// oaiChatResponse is the OpenAI-shaped chat-completion response every
// adapter in this gateway produces.
type oaiChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []oaiChoice  `json:"choices"`
	Usage   *oaiUsage    `json:"usage,omitempty"`
}

type oaiChoice struct {
	Index        int        `json:"index"`
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}
