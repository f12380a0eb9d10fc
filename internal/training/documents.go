package training

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/chatbot"
	"github.com/bull/ragbot/internal/embedding"
	"github.com/bull/ragbot/internal/errs"
	"github.com/bull/ragbot/internal/metrics"
	"github.com/bull/ragbot/internal/vectorstore"
)

// ListDocuments pages through a chatbot's stored chunks. A chatbot whose
// collection was never created has none.
func (p *Pipeline) ListDocuments(ctx context.Context, chatbotID string, limit, offset int, search string) ([]vectorstore.Document, error) {
	c, err := p.store.LoadChatbot(ctx, chatbotID)
	if err != nil {
		return nil, err
	}
	docs, err := p.index.ListDocuments(ctx, c.CollectionID, limit, offset, search)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	return docs, err
}

// DeleteDocuments removes chunks by id and lowers the chatbot's chunk count
// by the number that actually existed.
func (p *Pipeline) DeleteDocuments(ctx context.Context, chatbotID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, errs.Wrap(errs.ErrInvalidInput, "no document ids given")
	}
	c, err := p.store.LoadChatbot(ctx, chatbotID)
	if err != nil {
		return 0, err
	}

	existing, err := p.index.GetDocuments(ctx, c.CollectionID, ids)
	if err != nil {
		return 0, fmt.Errorf("look up documents: %w", err)
	}
	if len(existing) == 0 {
		return 0, errs.Wrap(errs.ErrNotFound, "none of the %d documents exist in chatbot %s", len(ids), chatbotID)
	}
	if err := p.index.DeleteDocuments(ctx, c.CollectionID, ids); err != nil {
		return 0, err
	}

	var size int64
	for _, doc := range existing {
		size += int64(len([]rune(doc.Text)))
	}
	_, err = p.store.UpdateChatbot(ctx, chatbotID, func(c *chatbot.Chatbot) error {
		c.ChunkCount = max(c.ChunkCount-len(existing), 0)
		c.TotalSize = max(c.TotalSize-size, 0)
		c.UpdatedAt = p.now()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record deletion: %w", err)
	}
	p.logger.Info("Deleted documents",
		zap.String("chatbot_id", chatbotID),
		zap.Int("requested", len(ids)),
		zap.Int("deleted", len(existing)),
	)
	return len(existing), nil
}

// UpdateDocument replaces one chunk's text and re-embeds it with the
// chatbot's model, reconciling once on a dimension mismatch.
func (p *Pipeline) UpdateDocument(ctx context.Context, chatbotID, docID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errs.Wrap(errs.ErrInvalidInput, "document text is empty")
	}
	if docID == "" {
		return errs.Wrap(errs.ErrInvalidInput, "document id is required")
	}
	c, err := p.store.LoadChatbot(ctx, chatbotID)
	if err != nil {
		return err
	}

	model := c.Settings.EmbeddingModel
	vector, err := embedding.EmbedOne(ctx, p.embedder, text, model)
	if err != nil {
		return err
	}
	err = p.index.UpdateDocument(ctx, c.CollectionID, docID, text, vector)
	if errors.Is(err, errs.ErrDimensionMismatch) {
		resolved, ok := p.reconciler.Reconcile(err, model)
		if !ok || resolved == model {
			return err
		}
		metrics.DimensionReconciliations.WithLabelValues("update").Inc()
		if vector, err = embedding.EmbedOne(ctx, p.embedder, text, resolved); err != nil {
			return fmt.Errorf("re-embed with %s: %w", resolved, err)
		}
		err = p.index.UpdateDocument(ctx, c.CollectionID, docID, text, vector)
	}
	if err != nil {
		return err
	}
	p.logger.Info("Updated document", zap.String("chatbot_id", chatbotID), zap.String("document_id", docID))
	return nil
}
