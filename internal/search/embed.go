package search

import (
	"context"

	"github.com/chatcore/eventsub/internal/embeddings/ollama"
)

// Embedder abstracts embedding generation.
// Returned slice must be non-nil and contain at least 1 dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var _ Embedder = (*ollama.Provider)(nil)
