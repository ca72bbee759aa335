package providers

import (
	"context"
	"encoding/json"
)

// Provider is the chat-completion provider interface.
type Provider interface {
	// Name identifies the provider (e.g. "openai", "anthropic").
	Name() string
	// Complete sends one merged prompt plus context and returns the reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Message is one prior conversation entry passed as context.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// CompletionRequest carries everything needed for one completion call.
type CompletionRequest struct {
	Model        string    `json:"model,omitempty"`
	Prompt       string    `json:"prompt"`                  // the merged user prompt
	Context      []Message `json:"context,omitempty"`       // prior history, oldest first
	SystemPrompt string    `json:"system_prompt,omitempty"` // persona, optional
	ImageURLs    []string  `json:"image_urls,omitempty"`    // attached to the prompt message
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
}

// CompletionResponse is the normalized provider reply. Raw holds the
// provider's response payload re-marshaled as JSON so callers can probe
// fields the normalized form doesn't carry.
type CompletionResponse struct {
	Content string          `json:"content"`
	Raw     json.RawMessage `json:"raw,omitempty"`
	Usage   Usage           `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
