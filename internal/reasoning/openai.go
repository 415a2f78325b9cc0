package reasoning

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when a completion has no choices.
var ErrEmptyResponse = errors.New("reasoning: empty completion")

// OpenAIBackend talks to any OpenAI-compatible chat completion endpoint.
// OpenRouter and Gemini's compatibility endpoint are both served by setting
// the base URL.
type OpenAIBackend struct {
	provider    string
	client      *openai.Client
	maxTokens   int
	temperature float32
}

// NewOpenAIBackend creates a backend. An empty baseURL uses the OpenAI default.
func NewOpenAIBackend(provider, apiKey, baseURL string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{
		provider:    provider,
		client:      openai.NewClientWithConfig(cfg),
		maxTokens:   1000,
		temperature: 0.7,
	}
}

func (b *OpenAIBackend) Provider() string { return b.provider }

func (b *OpenAIBackend) Generate(ctx context.Context, model, prompt, system string, history []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, h := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", b.provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", b.provider, ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
