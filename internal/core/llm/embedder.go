package llm

import (
	"context"
	"fmt"

	"github.com/markdave123-py/kbparse/internal/core"
)

// NewEmbedder builds the embedder for the provider tag in s.
func NewEmbedder(ctx context.Context, s Settings) (core.EmbeddingProvider, error) {
	switch s.Provider {
	case ProviderGemini:
		return NewGeminiEmbedder(ctx, s.APIKey, s.Model)
	case ProviderOpenAI, ProviderOllama:
		return NewHTTPEmbedder(s)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", s.Provider)
	}
}

const connectionProbe = "Test connection"

// CheckConnection embeds a probe string and expects a non-empty vector back.
func CheckConnection(ctx context.Context, emb core.EmbeddingProvider) error {
	vec, err := emb.Embed(ctx, connectionProbe)
	if err != nil {
		return fmt.Errorf("connection test against %s: %w", emb.Name(), err)
	}
	if len(vec) == 0 {
		return fmt.Errorf("connection test against %s: %w", emb.Name(), errEmptyEmbedding)
	}
	return nil
}
