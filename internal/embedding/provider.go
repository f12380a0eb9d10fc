// Package embedding turns text into vectors through interchangeable backends.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/deadline"
	"github.com/bull/ragbot/internal/errs"
)

const (
	// MaxBatchSize is the largest batch any backend is sent.
	MaxBatchSize = 100

	// DefaultTimeout bounds one backend request.
	DefaultTimeout = 30 * time.Second
)

// Provider embeds texts with a named model. Vectors are returned in input order.
type Provider interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Backend is a concrete embedding service.
type Backend interface {
	Name() string
	// SupportsBatch reports whether EmbedBatch accepts more than one text.
	SupportsBatch() bool
	EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// HealthChecker is implemented by backends that expose a readiness probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, p Provider, text, model string) ([]float32, error) {
	vectors, err := p.Embed(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, errs.Backend("embedding", fmt.Sprintf("expected 1 vector, got %d", len(vectors)))
	}
	return vectors[0], nil
}

// Embedder adapts a Backend into a Provider. It splits input into batches,
// falls back to one sequential call per text for backends without batch
// support, and races every request against a timeout.
type Embedder struct {
	backend   Backend
	batchSize int
	timeout   time.Duration
	logger    *zap.Logger
}

var _ Provider = (*Embedder)(nil)

// NewEmbedder creates an Embedder. A batchSize of 0 (or above MaxBatchSize)
// uses MaxBatchSize; a zero timeout uses DefaultTimeout.
func NewEmbedder(backend Backend, batchSize int, timeout time.Duration, logger *zap.Logger) *Embedder {
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{
		backend:   backend,
		batchSize: batchSize,
		timeout:   timeout,
		logger:    logger,
	}
}

// Name returns the wrapped backend's name.
func (e *Embedder) Name() string { return e.backend.Name() }

// Health probes the backend when it supports it.
func (e *Embedder) Health(ctx context.Context) error {
	if hc, ok := e.backend.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

// Embed returns one vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errs.Wrap(errs.ErrInvalidInput, "no texts to embed")
	}

	size := e.batchSize
	if !e.backend.SupportsBatch() {
		size = 1
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += size {
		end := min(i+size, len(texts))
		vectors, err := e.embedBatch(ctx, texts[i:end], model)
		if err != nil {
			if len(texts) > size {
				return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
			}
			return nil, err
		}
		all = append(all, vectors...)
	}

	e.logger.Debug("Embedded texts",
		zap.String("backend", e.backend.Name()),
		zap.String("model", model),
		zap.Int("count", len(texts)),
	)
	return all, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	op := e.backend.Name() + " embeddings"
	vectors, err := deadline.Race(ctx, e.timeout, op, func(ctx context.Context) ([][]float32, error) {
		return e.backend.EmbedBatch(ctx, texts, model)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.Wrap(errs.ErrTimeout, "%s", op)
		}
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, errs.Backend(e.backend.Name(), fmt.Sprintf("returned %d vectors for %d texts", len(vectors), len(texts)))
	}
	return vectors, nil
}

// toFloat32 converts []float64 to []float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
