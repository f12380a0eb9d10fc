// Package training ingests source text into a chatbot's vector collection.
package training

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/chatbot"
	"github.com/bull/ragbot/internal/chunker"
	"github.com/bull/ragbot/internal/embedding"
	"github.com/bull/ragbot/internal/errs"
	"github.com/bull/ragbot/internal/extract"
	"github.com/bull/ragbot/internal/metrics"
	"github.com/bull/ragbot/internal/vectorstore"
)

const (
	DefaultBatchSize     = 100
	DefaultMaxInputChars = 1_000_000
	DefaultLockTTL       = 10 * time.Minute
)

// Index is the part of the vector store manager training writes through.
type Index interface {
	EnsureCollection(ctx context.Context, id string, spec vectorstore.CollectionSpec) error
	AddDocuments(ctx context.Context, id string, ids []string, vectors [][]float32, texts []string, metas []vectorstore.Metadata) error
	GetDocuments(ctx context.Context, id string, ids []string) ([]vectorstore.Document, error)
	UpdateDocument(ctx context.Context, id, docID, text string, vector []float32) error
	DeleteDocuments(ctx context.Context, id string, ids []string) error
	ListDocuments(ctx context.Context, id string, limit, offset int, search string) ([]vectorstore.Document, error)
	DeleteCollection(ctx context.Context, id string) error
}

// Options tunes the Pipeline. Zero values select the defaults.
type Options struct {
	BatchSize     int
	MaxInputChars int
	LockTTL       time.Duration
}

// Source describes where a training text came from.
type Source struct {
	Name  string
	Title string
}

// Result contains statistics about one training run.
type Result struct {
	ChatbotID      string
	Chunks         int
	Characters     int
	EmbeddingModel string
	Duration       time.Duration
}

// Pipeline chunks, embeds and stores training text for a chatbot.
type Pipeline struct {
	store      chatbot.Store
	index      Index
	embedder   embedding.Provider
	reconciler *embedding.Reconciler
	locker     chatbot.Locker
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// NewPipeline creates a new training pipeline with the given components.
func NewPipeline(
	store chatbot.Store,
	index Index,
	embedder embedding.Provider,
	reconciler *embedding.Reconciler,
	locker chatbot.Locker,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 || opts.BatchSize > embedding.MaxBatchSize {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	return &Pipeline{
		store:      store,
		index:      index,
		embedder:   embedder,
		reconciler: reconciler,
		locker:     locker,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// TrainText indexes raw text. source is recorded in every chunk's metadata.
func (p *Pipeline) TrainText(ctx context.Context, chatbotID, text, source string) (*Result, error) {
	return p.train(ctx, chatbotID, extract.Plain([]byte(text)), Source{Name: source})
}

// TrainFile extracts a file by its extension and indexes the result.
func (p *Pipeline) TrainFile(ctx context.Context, chatbotID, path string) (*Result, error) {
	doc, err := extract.File(path)
	if err != nil {
		return nil, err
	}
	return p.train(ctx, chatbotID, doc, Source{Name: path, Title: doc.Title})
}

// TrainDocument indexes an already extracted document.
func (p *Pipeline) TrainDocument(ctx context.Context, chatbotID string, doc extract.Document, source string) (*Result, error) {
	return p.train(ctx, chatbotID, doc, Source{Name: source, Title: doc.Title})
}

func (p *Pipeline) validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return errs.Wrap(errs.ErrInvalidInput, "training text is empty")
	}
	if n := utf8.RuneCountInString(text); n > p.opts.MaxInputChars {
		return errs.Wrap(errs.ErrTooLarge, "training text has %d characters, the limit is %d", n, p.opts.MaxInputChars)
	}
	return nil
}

// train holds the chatbot's training lock for the whole run. Every record
// change goes through UpdateChatbot, so settings edits made meanwhile are
// kept and a chatbot deleted meanwhile is not written back.
func (p *Pipeline) train(ctx context.Context, chatbotID string, doc extract.Document, src Source) (*Result, error) {
	start := time.Now()
	if err := p.validate(doc.Text); err != nil {
		return nil, err
	}

	lock := chatbot.TrainingLock(chatbotID)
	held, err := p.locker.Acquire(ctx, lock, p.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, errs.Wrap(errs.ErrAlreadyExists, "chatbot %s is already training", chatbotID)
	}
	defer func() {
		if err := p.locker.Release(context.WithoutCancel(ctx), lock); err != nil {
			p.logger.Warn("Failed to release training lock", zap.String("chatbot_id", chatbotID), zap.Error(err))
		}
	}()

	c, err := p.store.UpdateChatbot(ctx, chatbotID, func(c *chatbot.Chatbot) error {
		c.StartTraining()
		c.UpdatedAt = p.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	chars := utf8.RuneCountInString(doc.Text)
	p.logger.Info("Starting training",
		zap.String("chatbot_id", chatbotID),
		zap.String("source", src.Name),
		zap.Int("characters", chars),
	)

	model, indexed, err := p.ingest(ctx, c, doc.Text, src)
	metrics.TrainingChunks.Add(float64(indexed))
	if err != nil {
		return nil, p.fail(ctx, c, src, indexed, err)
	}

	startModel := c.Settings.EmbeddingModel
	now := p.now()
	_, err = p.store.UpdateChatbot(ctx, chatbotID, func(cur *chatbot.Chatbot) error {
		// A model chosen by hand during the run wins over the reconciled one.
		if model != startModel && cur.Settings.EmbeddingModel == startModel {
			p.logger.Info("Chatbot embedding model updated to match its collection",
				zap.String("chatbot_id", chatbotID),
				zap.String("from", startModel),
				zap.String("to", model),
			)
			cur.Settings.EmbeddingModel = model
		}
		cur.CompleteTraining(1, int64(chars), now)
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, p.fail(ctx, c, src, indexed, fmt.Errorf("record training: %w", err))
	}

	result := &Result{
		ChatbotID:      chatbotID,
		Chunks:         indexed,
		Characters:     chars,
		EmbeddingModel: model,
		Duration:       time.Since(start),
	}
	metrics.TrainingRuns.WithLabelValues(string(chatbot.TrainingCompleted)).Inc()
	p.logger.Info("Training complete",
		zap.String("chatbot_id", chatbotID),
		zap.String("source", src.Name),
		zap.Int("chunks", indexed),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// fail records a failed run. If the chatbot was deleted during the run, the
// collection the run may have written to is dropped with it.
func (p *Pipeline) fail(ctx context.Context, c *chatbot.Chatbot, src Source, indexed int, cause error) error {
	ctx = context.WithoutCancel(ctx)
	metrics.TrainingRuns.WithLabelValues(string(chatbot.TrainingFailed)).Inc()

	cur, err := p.store.UpdateChatbot(ctx, c.ID, func(cur *chatbot.Chatbot) error {
		cur.FailTraining()
		cur.UpdatedAt = p.now()
		return nil
	})
	switch {
	case errors.Is(err, errs.ErrNotFound):
		if dropErr := p.index.DeleteCollection(ctx, c.CollectionID); dropErr != nil && !errors.Is(dropErr, errs.ErrNotFound) {
			p.logger.Warn("Failed to drop collection of deleted chatbot", zap.String("chatbot_id", c.ID), zap.Error(dropErr))
		}
		p.logger.Warn("Chatbot deleted during training", zap.String("chatbot_id", c.ID), zap.Int("chunks_indexed", indexed))
		return errs.Wrap(errs.ErrNotFound, "chatbot %s was deleted during training", c.ID)
	case err != nil:
		p.logger.Error("Failed to record training failure", zap.String("chatbot_id", c.ID), zap.Error(err))
	default:
		p.logger.Warn("Training failed",
			zap.String("chatbot_id", c.ID),
			zap.String("source", src.Name),
			zap.Int("chunks_indexed", indexed),
			zap.String("status", string(cur.Status)),
			zap.Error(cause),
		)
	}
	return fmt.Errorf("train chatbot %s: %w", c.ID, cause)
}

// ingest chunks text and stores it batch by batch, counting each stored
// batch on the chatbot so it can answer from it right away. It returns the
// embedding model that ended up in use and the number of chunks stored,
// which is meaningful on failure too.
func (p *Pipeline) ingest(ctx context.Context, c *chatbot.Chatbot, text string, src Source) (string, int, error) {
	model := c.Settings.EmbeddingModel
	chunks := chunker.Split(text, c.Settings.ChunkSize, c.Settings.ChunkOverlap)
	if len(chunks) == 0 {
		return model, 0, errs.Wrap(errs.ErrNoContent, "text produced no chunks")
	}

	uploadedAt := p.now()
	stamp := uploadedAt.UnixMilli()
	indexed := 0

	for startIdx := 0; startIdx < len(chunks); startIdx += p.opts.BatchSize {
		end := min(startIdx+p.opts.BatchSize, len(chunks))
		batch := chunks[startIdx:end]

		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		metas := make([]vectorstore.Metadata, len(batch))
		for i, ch := range batch {
			n := startIdx + i
			ids[i] = fmt.Sprintf("%s-chunk-%d-%d", c.ID, stamp, n)
			texts[i] = ch.Text
			metas[i] = vectorstore.Metadata{
				ChatbotID:  c.ID,
				ChunkIndex: n,
				StartIndex: ch.StartIndex,
				EndIndex:   ch.EndIndex,
				UploadedAt: uploadedAt,
				Source:     src.Name,
				Title:      src.Title,
			}
		}

		vectors, err := p.embedder.Embed(ctx, texts, model)
		if err != nil {
			return model, indexed, fmt.Errorf("embed chunks %d-%d: %w", startIdx, end, err)
		}

		// The chatbot may have been deleted while the batch was embedding.
		if _, err := p.store.LoadChatbot(ctx, c.ID); err != nil {
			return model, indexed, err
		}

		if startIdx == 0 {
			spec := vectorstore.CollectionSpec{Dimensions: len(vectors[0]), EmbeddingModel: model}
			if err := p.index.EnsureCollection(ctx, c.CollectionID, spec); err != nil {
				return model, indexed, fmt.Errorf("ensure collection: %w", err)
			}
		}

		err = p.index.AddDocuments(ctx, c.CollectionID, ids, vectors, texts, metas)
		if errors.Is(err, errs.ErrDimensionMismatch) {
			var retried bool
			model, retried, err = p.retryReconciled(ctx, c, model, err, ids, texts, metas)
			if retried {
				metrics.DimensionReconciliations.WithLabelValues("training").Inc()
			}
		}
		if err != nil {
			return model, indexed, fmt.Errorf("store chunks %d-%d: %w", startIdx, end, err)
		}

		indexed += len(batch)
		if _, err := p.store.UpdateChatbot(ctx, c.ID, func(cur *chatbot.Chatbot) error {
			cur.AddIndexed(len(batch))
			return nil
		}); err != nil {
			return model, indexed, err
		}
		p.logger.Debug("Indexed batch",
			zap.String("chatbot_id", c.ID),
			zap.Int("from", startIdx),
			zap.Int("to", end),
		)
	}
	return model, indexed, nil
}

// retryReconciled re-embeds one batch with the model matching the collection
// and stores it once more.
func (p *Pipeline) retryReconciled(ctx context.Context, c *chatbot.Chatbot, model string, cause error,
	ids, texts []string, metas []vectorstore.Metadata) (string, bool, error) {
	resolved, ok := p.reconciler.Reconcile(cause, model)
	if !ok || resolved == model {
		return model, false, cause
	}
	vectors, err := p.embedder.Embed(ctx, texts, resolved)
	if err != nil {
		return model, true, fmt.Errorf("re-embed with %s: %w", resolved, err)
	}
	if err := p.index.AddDocuments(ctx, c.CollectionID, ids, vectors, texts, metas); err != nil {
		return model, true, err
	}
	return resolved, true, nil
}
