package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIAgent extracts from text with an OpenAI-compatible chat endpoint.
// It has no document route.
type OpenAIAgent struct {
	client *openai.Client
	model  string
}

// NewOpenAIAgent creates an OpenAIAgent. An empty baseURL uses the public API.
func NewOpenAIAgent(apiKey, baseURL, model string) *OpenAIAgent {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &OpenAIAgent{client: openai.NewClientWithConfig(cfg), model: model}
}

// ExtractText implements TextAgent.
func (a *OpenAIAgent) ExtractText(ctx context.Context, text, filename string) (*Output, error) {
	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(filename) + "\n\n<document>\n" + text + "\n</document>"},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: "openai", StatusCode: openAIStatus(err), Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Err: eris.New("no choices in response")}
	}

	zap.L().Info("cost attribution",
		zap.String("model", a.model),
		zap.String("operation", "bulk_import_text"),
		zap.Int("input_tokens", resp.Usage.PromptTokens),
		zap.Int("output_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)),
	)
	return ParseOutput(resp.Choices[0].Message.Content)
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
