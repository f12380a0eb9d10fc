package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bull/ragbot/internal/errs"
)

// CompatBackend talks to any server exposing the OpenAI embeddings route
// (Ollama, vLLM, LM Studio and similar).
type CompatBackend struct {
	client *openai.Client
}

var _ Backend = (*CompatBackend)(nil)

// NewCompatBackend creates a backend for an OpenAI-compatible base URL.
func NewCompatBackend(baseURL, apiKey string) (*CompatBackend, error) {
	if baseURL == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "compat base url not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &CompatBackend{client: openai.NewClientWithConfig(cfg)}, nil
}

func (b *CompatBackend) Name() string { return "compat" }

func (b *CompatBackend) SupportsBatch() bool { return true }

// EmbedBatch embeds texts in one request.
func (b *CompatBackend) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, classifyCompat(b.Name(), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errs.Backend(b.Name(), fmt.Sprintf("returned %d embeddings for %d texts", len(resp.Data), len(texts)))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, errs.Backend(b.Name(), fmt.Sprintf("unexpected embedding index %d", data.Index))
		}
		embeddings[data.Index] = data.Embedding
	}
	return embeddings, nil
}

// classifyCompat maps go-openai errors onto the error taxonomy.
func classifyCompat(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		return errs.FromStatus(provider, apiErr.HTTPStatusCode, code, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return errs.FromStatus(provider, reqErr.HTTPStatusCode, "", msg)
	}
	return errs.FromTransport(provider, err)
}
