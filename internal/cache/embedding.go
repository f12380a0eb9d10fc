// Package cache provides Redis-backed helpers: a query embedding cache and
// a distributed training lock.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/embedding"
	"github.com/bull/ragbot/internal/metrics"
)

const (
	embeddingPrefix = "ragbot:emb:"

	// DefaultEmbeddingTTL is how long a cached vector lives.
	DefaultEmbeddingTTL = 24 * time.Hour
)

// EmbeddingCache decorates a Provider, serving repeated texts from Redis.
// Redis failures degrade to a pass-through.
type EmbeddingCache struct {
	next   embedding.Provider
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

var _ embedding.Provider = (*EmbeddingCache)(nil)

// NewEmbeddingCache wraps next. A zero ttl uses DefaultEmbeddingTTL.
func NewEmbeddingCache(next embedding.Provider, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *EmbeddingCache {
	if ttl <= 0 {
		ttl = DefaultEmbeddingTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingCache{next: next, client: client, ttl: ttl, logger: logger}
}

// Embed returns cached vectors where present and embeds the rest.
func (c *EmbeddingCache) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return c.next.Embed(ctx, texts, model)
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = embeddingKey(model, t)
	}

	out := make([][]float32, len(texts))
	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("Embedding cache read failed", zap.Error(err))
		cached = nil
	}

	var missing []int
	for i := range texts {
		if i < len(cached) {
			if s, ok := cached[i].(string); ok {
				if v, err := decodeVector([]byte(s)); err == nil {
					out[i] = v
					continue
				}
			}
		}
		missing = append(missing, i)
	}

	metrics.EmbeddingCache.WithLabelValues("hit").Add(float64(len(texts) - len(missing)))
	metrics.EmbeddingCache.WithLabelValues("miss").Add(float64(len(missing)))
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vectors, err := c.next.Embed(ctx, pending, model)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(pending) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d texts", len(vectors), len(pending))
	}

	pipe := c.client.Pipeline()
	for j, i := range missing {
		out[i] = vectors[j]
		pipe.Set(ctx, keys[i], encodeVector(vectors[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return out, nil
}

func embeddingKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return embeddingPrefix + hex.EncodeToString(h.Sum(nil))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached vector of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
