package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/bull/ragbot/internal/errs"
)

type memoryCollection struct {
	spec  CollectionSpec
	docs  map[string]Document
	order []string
}

// MemoryBackend is an exact-scan, in-process Backend. It is used by tests and
// by single-process runs without a Qdrant server.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]*memoryCollection)}
}

func (b *MemoryBackend) Health(context.Context) error { return nil }

func (b *MemoryBackend) CollectionExists(_ context.Context, name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.collections[name]
	return ok, nil
}

func (b *MemoryBackend) CreateCollection(_ context.Context, name string, spec CollectionSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.collections[name]; ok {
		return errs.Wrap(errs.ErrAlreadyExists, "collection %s", name)
	}
	b.collections[name] = &memoryCollection{spec: spec, docs: make(map[string]Document)}
	return nil
}

func (b *MemoryBackend) DeleteCollection(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.collections[name]; !ok {
		return errs.Wrap(errs.ErrNotFound, "collection %s", name)
	}
	delete(b.collections, name)
	return nil
}

func (b *MemoryBackend) collection(name string) (*memoryCollection, error) {
	c, ok := b.collections[name]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotFound, "collection %s", name)
	}
	return c, nil
}

func (b *MemoryBackend) Upsert(_ context.Context, name string, docs []Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.collection(name)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if len(doc.Embedding) != c.spec.Dimensions {
			return &errs.DimensionMismatchError{Expected: c.spec.Dimensions, Actual: len(doc.Embedding)}
		}
	}
	for _, doc := range docs {
		if _, ok := c.docs[doc.ID]; !ok {
			c.order = append(c.order, doc.ID)
		}
		doc.Embedding = append([]float32(nil), doc.Embedding...)
		c.docs[doc.ID] = doc
	}
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, name string, ids []string) ([]Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, id := range ids {
		if doc, ok := c.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (b *MemoryBackend) Delete(_ context.Context, name string, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.collection(name)
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := c.docs[id]; ok {
			drop[id] = struct{}{}
			delete(c.docs, id)
		}
	}
	kept := c.order[:0]
	for _, id := range c.order {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	c.order = kept
	return nil
}

func (b *MemoryBackend) Query(_ context.Context, name string, vector []float32, topK int) ([]Match, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.spec.Dimensions {
		return nil, &errs.DimensionMismatchError{Expected: c.spec.Dimensions, Actual: len(vector)}
	}

	matches := make([]Match, 0, len(c.docs))
	for _, id := range c.order {
		doc := c.docs[id]
		matches = append(matches, Match{Document: doc, Distance: 1 - cosineSimilarity(vector, doc.Embedding)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (b *MemoryBackend) Scroll(_ context.Context, name string, offset, limit int) ([]Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	if offset >= len(c.order) {
		return []Document{}, nil
	}
	end := min(offset+limit, len(c.order))
	out := make([]Document, 0, end-offset)
	for _, id := range c.order[offset:end] {
		out = append(out, c.docs[id])
	}
	return out, nil
}

func (b *MemoryBackend) Count(_ context.Context, name string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.collection(name)
	if err != nil {
		return 0, err
	}
	return len(c.docs), nil
}

func (b *MemoryBackend) Close() error { return nil }

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
