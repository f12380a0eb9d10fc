package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/deadline"
	"github.com/bull/ragbot/internal/errs"
)

const (
	DefaultQueryTimeout   = 10 * time.Second
	DefaultOpTimeout      = 30 * time.Second
	DefaultMaxDeleteBatch = 100
)

// Options tunes the Manager. Zero values select the defaults.
type Options struct {
	QueryTimeout   time.Duration
	OpTimeout      time.Duration
	MaxDeleteBatch int
}

// Manager enforces the collection lifecycle rules on top of a Backend.
type Manager struct {
	backend        Backend
	queryTimeout   time.Duration
	opTimeout      time.Duration
	maxDeleteBatch int
	logger         *zap.Logger
}

// NewManager wraps backend. A nil logger disables logging.
func NewManager(backend Backend, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	if opts.MaxDeleteBatch <= 0 {
		opts.MaxDeleteBatch = DefaultMaxDeleteBatch
	}
	return &Manager{
		backend:        backend,
		queryTimeout:   opts.QueryTimeout,
		opTimeout:      opts.OpTimeout,
		maxDeleteBatch: opts.MaxDeleteBatch,
		logger:         logger,
	}
}

// Health reports whether the backend is reachable.
func (m *Manager) Health(ctx context.Context) error {
	return m.backend.Health(ctx)
}

// WaitReady polls the backend health with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func WaitReady(ctx context.Context, backend Backend) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		return backend.Health(ctx)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("%w: vector store not ready: %v", errs.ErrUnavailable, err)
	}
	return nil
}

func run[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	return deadline.Race(ctx, d, "vector store "+op, fn)
}

func runErr(ctx context.Context, d time.Duration, op string, fn func(context.Context) error) error {
	_, err := run(ctx, d, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// CreateCollection creates the collection named id. It fails with
// errs.ErrAlreadyExists when the name is taken.
func (m *Manager) CreateCollection(ctx context.Context, id string, spec CollectionSpec) error {
	if id == "" {
		return errs.Wrap(errs.ErrInvalidInput, "collection id is required")
	}
	if spec.Dimensions <= 0 {
		return errs.Wrap(errs.ErrInvalidInput, "collection %s needs a positive dimension, got %d", id, spec.Dimensions)
	}

	return runErr(ctx, m.opTimeout, "create collection", func(ctx context.Context) error {
		exists, err := m.backend.CollectionExists(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			return errs.Wrap(errs.ErrAlreadyExists, "collection %s", id)
		}
		if err := m.backend.CreateCollection(ctx, id, spec); err != nil {
			return fmt.Errorf("create collection %s: %w", id, err)
		}
		m.logger.Info("Created collection",
			zap.String("collection", id),
			zap.Int("dimensions", spec.Dimensions),
			zap.String("embedding_model", spec.EmbeddingModel),
		)
		return nil
	})
}

// EnsureCollection creates the collection unless it already exists.
func (m *Manager) EnsureCollection(ctx context.Context, id string, spec CollectionSpec) error {
	err := m.CreateCollection(ctx, id, spec)
	if err != nil && !isAlreadyExists(err) {
		return err
	}
	return nil
}

// CollectionExists reports whether id exists.
func (m *Manager) CollectionExists(ctx context.Context, id string) (bool, error) {
	return run(ctx, m.opTimeout, "collection exists", func(ctx context.Context) (bool, error) {
		return m.backend.CollectionExists(ctx, id)
	})
}

// AddDocuments stores a batch of new documents. The four slices are parallel.
// Ids must be unique within the call and absent from the collection; the
// batch is written whole or not at all.
func (m *Manager) AddDocuments(ctx context.Context, id string, ids []string, vectors [][]float32, texts []string, metas []Metadata) error {
	if len(ids) == 0 {
		return errs.Wrap(errs.ErrInvalidInput, "no documents to add")
	}
	if len(vectors) != len(ids) || len(texts) != len(ids) || len(metas) != len(ids) {
		return errs.Wrap(errs.ErrInvalidInput, "mismatched batch: %d ids, %d vectors, %d texts, %d metadatas",
			len(ids), len(vectors), len(texts), len(metas))
	}

	seen := make(map[string]struct{}, len(ids))
	docs := make([]Document, len(ids))
	for i, docID := range ids {
		if docID == "" {
			return errs.Wrap(errs.ErrInvalidInput, "document %d has an empty id", i)
		}
		if _, dup := seen[docID]; dup {
			return errs.Wrap(errs.ErrInvalidInput, "duplicate document id %s", docID)
		}
		seen[docID] = struct{}{}
		docs[i] = Document{ID: docID, Embedding: vectors[i], Text: texts[i], Metadata: metas[i]}
	}

	return runErr(ctx, m.opTimeout, "add documents", func(ctx context.Context) error {
		existing, err := m.backend.Get(ctx, id, ids)
		if err != nil {
			return fmt.Errorf("check existing documents: %w", err)
		}
		if len(existing) > 0 {
			return errs.Wrap(errs.ErrAlreadyExists, "document %s in collection %s", existing[0].ID, id)
		}
		if err := m.backend.Upsert(ctx, id, docs); err != nil {
			return fmt.Errorf("add %d documents to %s: %w", len(docs), id, err)
		}
		return nil
	})
}

// Query returns up to topK nearest documents, closest first. The backend call
// is raced against the query timeout and abandoned when it loses.
func (m *Manager) Query(ctx context.Context, id string, vector []float32, topK int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, errs.Wrap(errs.ErrInvalidInput, "query vector is empty")
	}
	if topK <= 0 {
		return nil, errs.Wrap(errs.ErrInvalidInput, "topK must be positive, got %d", topK)
	}

	matches, err := run(ctx, m.queryTimeout, "query", func(ctx context.Context) ([]Match, error) {
		return m.backend.Query(ctx, id, vector, topK)
	})
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", id, err)
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// UpdateDocument replaces the text and vector of an existing document,
// keeping its metadata. It fails with errs.ErrNotFound if docID is absent.
func (m *Manager) UpdateDocument(ctx context.Context, id, docID, text string, vector []float32) error {
	return runErr(ctx, m.opTimeout, "update document", func(ctx context.Context) error {
		existing, err := m.backend.Get(ctx, id, []string{docID})
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return errs.Wrap(errs.ErrNotFound, "document %s in collection %s", docID, id)
		}
		doc := existing[0]
		doc.Text = text
		doc.Embedding = vector
		return m.backend.Upsert(ctx, id, []Document{doc})
	})
}

// DeleteDocuments removes ids from the collection, refusing batches larger
// than the configured ceiling.
func (m *Manager) DeleteDocuments(ctx context.Context, id string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > m.maxDeleteBatch {
		return errs.Wrap(errs.ErrTooManyIDs, "%d ids exceeds the limit of %d per call", len(ids), m.maxDeleteBatch)
	}
	return runErr(ctx, m.opTimeout, "delete documents", func(ctx context.Context) error {
		return m.backend.Delete(ctx, id, ids)
	})
}

// GetDocuments fetches documents by id. Unknown ids are skipped.
func (m *Manager) GetDocuments(ctx context.Context, id string, ids []string) ([]Document, error) {
	return run(ctx, m.opTimeout, "get documents", func(ctx context.Context) ([]Document, error) {
		return m.backend.Get(ctx, id, ids)
	})
}

// ListDocuments returns one offset-based page. The optional search filter is
// a case-insensitive substring match applied after the page is fetched, so a
// filtered page may hold fewer than limit documents.
func (m *Manager) ListDocuments(ctx context.Context, id string, limit, offset int, search string) ([]Document, error) {
	if limit <= 0 {
		return nil, errs.Wrap(errs.ErrInvalidInput, "limit must be positive, got %d", limit)
	}
	if offset < 0 {
		return nil, errs.Wrap(errs.ErrInvalidInput, "offset must not be negative, got %d", offset)
	}

	page, err := run(ctx, m.opTimeout, "list documents", func(ctx context.Context) ([]Document, error) {
		return m.backend.Scroll(ctx, id, offset, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("list documents in %s: %w", id, err)
	}

	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return page, nil
	}
	filtered := page[:0]
	for _, doc := range page {
		if strings.Contains(strings.ToLower(doc.Text), needle) {
			filtered = append(filtered, doc)
		}
	}
	return filtered, nil
}

// Count returns the number of documents in the collection.
func (m *Manager) Count(ctx context.Context, id string) (int, error) {
	return run(ctx, m.opTimeout, "count", func(ctx context.Context) (int, error) {
		return m.backend.Count(ctx, id)
	})
}

// DeleteCollection drops the collection. Failures are logged and returned so
// the caller can report an orphaned collection without aborting its own work.
func (m *Manager) DeleteCollection(ctx context.Context, id string) error {
	err := runErr(ctx, m.opTimeout, "delete collection", func(ctx context.Context) error {
		return m.backend.DeleteCollection(ctx, id)
	})
	if err != nil {
		m.logger.Warn("Failed to delete collection, it may be orphaned",
			zap.String("collection", id),
			zap.Error(err),
		)
		return fmt.Errorf("delete collection %s: %w", id, err)
	}
	m.logger.Info("Deleted collection", zap.String("collection", id))
	return nil
}

// Close releases the backend connection.
func (m *Manager) Close() error {
	return m.backend.Close()
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, errs.ErrAlreadyExists)
}
