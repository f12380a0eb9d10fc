package embedding

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/bull/ragbot/internal/errs"
)

// GeminiBackend embeds with Google's embedding models. Each request carries a
// single text, so the Embedder drives it sequentially.
type GeminiBackend struct {
	client *genai.Client
}

var _ Backend = (*GeminiBackend)(nil)

// NewGeminiBackend creates a Gemini client authenticated with apiKey.
func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "gemini api key not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errs.Wrap(errs.ErrBackend, "creating gemini client: %v", err)
	}
	return &GeminiBackend{client: client}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) SupportsBatch() bool { return false }

// EmbedBatch embeds each text with its own request.
func (b *GeminiBackend) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	em := b.client.EmbeddingModel(model)
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		res, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, errs.FromGoogle(b.Name(), err)
		}
		if res.Embedding == nil || len(res.Embedding.Values) == 0 {
			return nil, errs.Backend(b.Name(), "no embedding data received")
		}
		out = append(out, res.Embedding.Values)
	}
	return out, nil
}

// Close releases the underlying client.
func (b *GeminiBackend) Close() error {
	return b.client.Close()
}
