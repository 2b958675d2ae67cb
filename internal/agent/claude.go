package agent

import (
	"context"

	"github.com/ricardoalt1515/DSR-AI-sub000/pkg/anthropic"
)

// ClaudeAgent extracts with Anthropic models. It serves both routes; PDFs
// are sent as document blocks.
type ClaudeAgent struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeAgent creates a ClaudeAgent.
func NewClaudeAgent(client anthropic.Client, model string, maxTokens int64) *ClaudeAgent {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &ClaudeAgent{client: client, model: model, maxTokens: maxTokens}
}

// ExtractDocument implements DocumentAgent.
func (a *ClaudeAgent) ExtractDocument(ctx context.Context, data []byte, filename, mediaType string) (*Output, error) {
	return a.run(ctx, "bulk_import_document", anthropic.Message{
		Role:      "user",
		Content:   userPrompt(filename),
		Documents: []anthropic.Document{{MediaType: mediaType, Data: data}},
	})
}

// ExtractText implements TextAgent.
func (a *ClaudeAgent) ExtractText(ctx context.Context, text, filename string) (*Output, error) {
	return a.run(ctx, "bulk_import_text", anthropic.Message{
		Role:    "user",
		Content: userPrompt(filename) + "\n\n<document>\n" + text + "\n</document>",
	})
}

func (a *ClaudeAgent) run(ctx context.Context, operation string, msg anthropic.Message) (*Output, error) {
	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{msg},
		Temperature: &temp,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: "anthropic", StatusCode: anthropic.StatusCode(err), Err: err}
	}
	resp.Usage.LogCost(a.model, operation)
	return ParseOutput(resp.Text)
}
