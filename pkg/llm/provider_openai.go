package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// openaiCompleter talks to OpenAI's chat completion endpoint through
// langchaingo.
type openaiCompleter struct {
	llm   *openai.LLM
	model string
}

func newOpenAICompleter(apiKey, model string) (*openaiCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	client, err := openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to build client: %w", err)
	}
	return &openaiCompleter{llm: client, model: model}, nil
}

func (c *openaiCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userPrompt),
	}
	resp, err := c.llm.GenerateContent(ctx, content, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("openai: generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	return resp.Choices[0].Content, nil
}
