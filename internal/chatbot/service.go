package chatbot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/embedding"
	"github.com/bull/ragbot/internal/errs"
	"github.com/bull/ragbot/internal/vectorstore"
)

// Collections is the part of the vector store the lifecycle needs.
type Collections interface {
	CreateCollection(ctx context.Context, id string, spec vectorstore.CollectionSpec) error
	DeleteCollection(ctx context.Context, id string) error
}

// Locker serialises work on one chatbot across processes. Training holds
// TrainingLock for a whole run. cache.Lock and cache.LocalLock satisfy it.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// deleteLockTTL bounds how long a crashed delete can block training.
const deleteLockTTL = time.Minute

// Service drives the chatbot lifecycle: creation, settings changes,
// activation and deletion.
type Service struct {
	store       Store
	collections Collections
	locker      Locker
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a Service. locker must be the one the training
// pipeline uses. A nil logger disables logging.
func NewService(store Store, collections Collections, locker Locker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		collections: collections,
		locker:      locker,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CollectionName returns the vector collection owned by chatbot id.
func CollectionName(id string) string {
	return "chatbot_" + id
}

// TrainingLock names the lock held while chatbot id is being trained.
func TrainingLock(id string) string {
	return "train:" + id
}

// Create registers a new chatbot. A nil settings uses DefaultSettings.
// The vector collection is created up front when the embedding model's
// output size is known; otherwise training creates it on first ingest.
func (s *Service) Create(ctx context.Context, ownerID, name string, settings *Settings) (*Chatbot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "chatbot name is required")
	}
	cfg := DefaultSettings()
	if settings != nil {
		cfg = *settings
		if cfg.SystemPrompt == "" {
			cfg.SystemPrompt = DefaultSystemPrompt
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	id := uuid.NewString()
	c := &Chatbot{
		ID:             id,
		OwnerID:        ownerID,
		Name:           name,
		CollectionID:   CollectionName(id),
		Settings:       cfg,
		Status:         StatusInactive,
		TrainingStatus: TrainingPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if dims, ok := embedding.Dimensions(cfg.EmbeddingModel); ok {
		err := s.collections.CreateCollection(ctx, c.CollectionID, vectorstore.CollectionSpec{
			Dimensions:     dims,
			EmbeddingModel: cfg.EmbeddingModel,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveChatbot(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("Chatbot created",
		zap.String("chatbot_id", c.ID),
		zap.String("owner_id", ownerID),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)
	return c, nil
}

// Get loads a chatbot.
func (s *Service) Get(ctx context.Context, id string) (*Chatbot, error) {
	return s.store.LoadChatbot(ctx, id)
}

// List returns an owner's chatbots; an empty owner lists all.
func (s *Service) List(ctx context.Context, ownerID string) ([]*Chatbot, error) {
	return s.store.ListChatbots(ctx, ownerID)
}

// UpdateSettings replaces a chatbot's settings.
func (s *Service) UpdateSettings(ctx context.Context, id string, settings Settings) (*Chatbot, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return s.store.UpdateChatbot(ctx, id, func(c *Chatbot) error {
		if c.Trained() && settings.EmbeddingModel != c.Settings.EmbeddingModel {
			s.logger.Warn("Embedding model changed on a trained chatbot; queries will reconcile to the collection's dimensions",
				zap.String("chatbot_id", id),
				zap.String("from", c.Settings.EmbeddingModel),
				zap.String("to", settings.EmbeddingModel),
			)
		}
		c.Settings = settings
		c.UpdatedAt = s.now()
		return nil
	})
}

// SetActive toggles availability. Only a trained chatbot can be activated.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*Chatbot, error) {
	return s.store.UpdateChatbot(ctx, id, func(c *Chatbot) error {
		if c.Status == StatusTraining {
			return errs.Wrap(errs.ErrAlreadyExists, "chatbot %s is training", id)
		}
		switch {
		case active && !c.Trained():
			return errs.Wrap(errs.ErrInvalidInput, "chatbot %s has no trained content", id)
		case active:
			c.Status = StatusActive
		default:
			c.Status = StatusInactive
		}
		c.UpdatedAt = s.now()
		return nil
	})
}

// Delete removes a chatbot. It refuses while the chatbot is training. The
// collection delete is best effort: the record is deleted regardless and the
// collection error, if any, is returned.
func (s *Service) Delete(ctx context.Context, id string) error {
	held, err := s.locker.Acquire(ctx, TrainingLock(id), deleteLockTTL)
	if err != nil {
		return err
	}
	if !held {
		return errs.Wrap(errs.ErrAlreadyExists, "chatbot %s is training", id)
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), TrainingLock(id)); err != nil {
			s.logger.Warn("Failed to release chatbot lock", zap.String("chatbot_id", id), zap.Error(err))
		}
	}()

	c, err := s.store.LoadChatbot(ctx, id)
	if err != nil {
		return err
	}

	var collErr error
	if err := s.collections.DeleteCollection(ctx, c.CollectionID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		collErr = err
	}

	if err := s.store.DeleteChatbot(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Chatbot deleted", zap.String("chatbot_id", id))
	return collErr
}
