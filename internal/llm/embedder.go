package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/stayops/concierge/internal/config"
)

// Embedder converts questions into the vectors the policy corpus is indexed
// with. The corpus stores float32 vectors, so the model's float64 output is
// narrowed on the way out.
type Embedder struct {
	embedder embedding.Embedder
}

// NewEmbedder connects to the configured OpenAI-compatible embedding endpoint.
func NewEmbedder(ctx context.Context, cfg config.LLMConfig) (*Embedder, error) {
	client, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.EmbeddingModel,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: embedder: %w", err)
	}
	return &Embedder{embedder: client}, nil
}

// NewEmbedderWithClient wires an already-built embedding client.
func NewEmbedderWithClient(client embedding.Embedder) *Embedder {
	return &Embedder{embedder: client}
}

// Embed returns the vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("llm: embed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("llm: empty embedding for text of length %d", len(text))
	}

	out := make([]float32, len(vectors[0]))
	for i, v := range vectors[0] {
		out[i] = float32(v)
	}
	return out, nil
}
