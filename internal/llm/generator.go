// Package llm wraps the chat and embedding models behind the two narrow
// calls the answer pipeline needs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/stayops/concierge/internal/config"
)

// Generator produces a single grounded answer per question.
type Generator struct {
	model       model.BaseChatModel
	temperature float32
}

// NewGenerator connects to the configured OpenAI-compatible chat endpoint.
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (*Generator, error) {
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: chat model: %w", err)
	}
	return &Generator{model: chatModel, temperature: cfg.Temperature}, nil
}

// NewGeneratorWithModel wires an already-built chat model. Used by tests and
// by callers that need custom model middleware.
func NewGeneratorWithModel(chatModel model.BaseChatModel, temperature float32) *Generator {
	return &Generator{model: chatModel, temperature: temperature}
}

// Generate asks the model the guest's question under the rendered system
// prompt and returns the answer text.
func (g *Generator) Generate(ctx context.Context, systemPrompt, question string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(question),
	}

	out, err := g.model.Generate(ctx, messages, model.WithTemperature(g.temperature))
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	answer := strings.TrimSpace(out.Content)
	if answer == "" {
		return "", errors.New("llm: model returned an empty answer")
	}
	return answer, nil
}
