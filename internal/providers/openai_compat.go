package providers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatProvider works with OpenAI and any OpenAI-compatible API.
type OpenAICompatProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
}

// NewOpenAICompatProvider creates a provider with an explicit base URL.
// An empty baseURL uses the official OpenAI endpoint.
func NewOpenAICompatProvider(name, apiKey, baseURL, defaultModel string) *OpenAICompatProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if name == "" {
		name = "openai"
	}
	return &OpenAICompatProvider{
		client:       openai.NewClientWithConfig(cfg),
		name:         name,
		defaultModel: defaultModel,
	}
}

func (p *OpenAICompatProvider) Name() string { return p.name }

// Complete sends a chat completion request and returns the normalized response.
func (p *OpenAICompatProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	var msgs []openai.ChatCompletionMessage

	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Context {
		content := m.Content
		// Some providers reject empty string content
		if content == "" {
			content = " "
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: content,
		})
	}

	userMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.ImageURLs) > 0 {
		// Multimodal message — text part first, then the image parts in order.
		if req.Prompt != "" {
			userMsg.MultiContent = append(userMsg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: req.Prompt,
			})
		}
		for _, u := range req.ImageURLs {
			userMsg.MultiContent = append(userMsg.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: u},
			})
		}
	} else {
		userMsg.Content = req.Prompt
	}
	msgs = append(msgs, userMsg)

	oaiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		oaiReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != 0 {
		oaiReq.Temperature = float32(req.Temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, oaiReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	raw, _ := json.Marshal(resp)

	return &CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Raw:     raw,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
