// Package ollama is a thin Embedder over a local Ollama embeddings endpoint,
// used by the background indexing path (Embedding worker) instead of the
// cost-tracked aicost.Facade — local embedding calls are not billed and do
// not participate in budget enforcement.
package ollama

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Provider embeds text via a single Ollama model. The base URL is supplied
// by the caller at construction time rather than read from the environment,
// so tests and multi-environment deployments never share global state.
type Provider struct {
	client *resty.Client
	model  string
}

func New(baseURL, model string) *Provider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Provider{
		client: resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		model:  model,
	}
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return []float32{0}, nil
	}

	var result struct {
		Embedding []float64 `json:"embedding"`
		Error     string    `json:"error"`
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"model": p.model, "prompt": text}).
		SetResult(&result).
		Post("/api/embeddings")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ollama embeddings status %d", resp.StatusCode())
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama embeddings error: %s", result.Error)
	}
	if len(result.Embedding) == 0 {
		return []float32{}, nil
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
