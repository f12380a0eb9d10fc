package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bull/ragbot/internal/errs"
)

// OpenAIBackend generates embeddings with the OpenAI embeddings API.
type OpenAIBackend struct {
	client openai.Client
}

var _ Backend = (*OpenAIBackend)(nil)

// NewOpenAIBackend creates an OpenAI backend. The SDK's own retry loop is
// disabled so rate limits surface to the caller immediately.
func NewOpenAIBackend(apiKey, baseURL string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "openai api key not set")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIBackend{client: openai.NewClient(opts...)}, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) SupportsBatch() bool { return true }

// EmbedBatch embeds texts in one request.
func (b *OpenAIBackend) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := b.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, classifyOpenAI(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, errs.Backend(b.Name(), fmt.Sprintf("returned %d embeddings for %d texts", len(resp.Data), len(texts)))
	}

	// Convert float64 to float32 for storage, placing each vector by its index.
	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, errs.Backend(b.Name(), fmt.Sprintf("unexpected embedding index %d", data.Index))
		}
		embeddings[data.Index] = toFloat32(data.Embedding)
	}
	return embeddings, nil
}

// classifyOpenAI maps an openai-go error onto the error taxonomy.
func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return errs.FromStatus("openai", apiErr.StatusCode, apiErr.Code, apiErr.Message)
	}
	return errs.FromTransport("openai", err)
}
