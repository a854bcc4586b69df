package search

import (
	"fmt"

	"github.com/chatcore/eventsub/internal/embeddings/ollama"
)

// NewProvider returns an Embedder for the given provider/model, keeping this
// package decoupled from which concrete embedding backend the Embedding
// worker is configured to use. Ollama is the only backend wired today; the
// switch exists so adding a second provider is a local change.
func NewProvider(provider, baseURL, model string) (Embedder, error) {
	switch provider {
	case "", "ollama":
		return ollama.New(baseURL, model), nil
	default:
		return nil, fmt.Errorf("embeddings: unknown provider %q", provider)
	}
}
