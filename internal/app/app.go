// Package app builds every ragbot component once from the resolved
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/cache"
	"github.com/bull/ragbot/internal/chatbot"
	"github.com/bull/ragbot/internal/completion"
	"github.com/bull/ragbot/internal/config"
	"github.com/bull/ragbot/internal/embedding"
	"github.com/bull/ragbot/internal/errs"
	"github.com/bull/ragbot/internal/github"
	"github.com/bull/ragbot/internal/metrics"
	"github.com/bull/ragbot/internal/rag"
	"github.com/bull/ragbot/internal/sqlstore"
	"github.com/bull/ragbot/internal/training"
	"github.com/bull/ragbot/internal/vectorstore"
)

// App holds the wired components. Build it with New and release it with
// Close.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Store         chatbot.Store
	Conversations chatbot.ConversationStore
	Vectors       *vectorstore.Manager
	Embedder      *embedding.Router
	Completer     *completion.Router

	Chatbots *chatbot.Service
	Trainer  *training.Pipeline
	Engine   *rag.Engine

	// Registry gathers the ragbot collectors for /metrics.
	Registry *prometheus.Registry

	closers []func() error
}

// New connects every backend named in cfg. Failures close whatever was
// already opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openVectors(ctx); err != nil {
		return nil, err
	}

	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errs.Wrap(errs.ErrUnavailable, "redis at %s: %v", cfg.Redis.Addr, err)
		}
		rdb = client
	}

	embedder, err := a.buildEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	a.Embedder = embedder

	overrides, err := cfg.Embedding.DimensionOverrides()
	if err != nil {
		return nil, errs.Wrap(errs.ErrInvalidInput, "embedding.dimension_models: %v", err)
	}
	reconciler := embedding.NewReconciler(overrides, cfg.Embedding.FallbackModel, logger)

	completer, err := a.buildCompleter(ctx)
	if err != nil {
		return nil, err
	}
	a.Completer = completer

	var locker chatbot.Locker = cache.NewLocalLock()
	var queryEmbedder embedding.Provider = embedder
	if rdb != nil {
		locker = cache.NewLock(rdb)
		queryEmbedder = cache.NewEmbeddingCache(embedder, rdb, cfg.Redis.EmbeddingTTL, logger)
	}

	a.Chatbots = chatbot.NewService(a.Store, a.Vectors, locker, logger)
	a.Trainer = training.NewPipeline(a.Store, a.Vectors, embedder, reconciler, locker, training.Options{
		BatchSize:     cfg.Training.BatchSize,
		MaxInputChars: cfg.Training.MaxInputChars,
		LockTTL:       cfg.Redis.LockTTL,
	}, logger)

	deps := rag.Deps{
		Store:         a.Store,
		Conversations: a.Conversations,
		Embedder:      queryEmbedder,
		Retriever:     a.Vectors,
		Reconciler:    reconciler,
		Completer:     completer,
	}
	if cfg.Completion.MockOnQuota {
		deps.Mock = completion.NewMockProvider(cfg.Completion.MockDelay)
	}
	a.Engine = rag.NewEngine(deps, rag.Options{
		MaxContextChars: cfg.Query.MaxContextChars,
		Greeting:        greetingPolicy(cfg.Query),
	}, logger)

	a.Registry = prometheus.NewRegistry()
	metrics.Register(a.Registry)

	logger.Info("ragbot ready",
		zap.String("vector_store", cfg.VectorStore.Backend),
		zap.String("database", cfg.Database.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("mock_on_quota", cfg.Completion.MockOnQuota),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	db := a.Config.Database
	if db.Driver == "" || db.Driver == "memory" {
		store := chatbot.NewMemoryStore()
		a.Store, a.Conversations = store, store
		return nil
	}
	if db.Driver == sqlstore.DriverSQLite && db.DSN != "" {
		if err := os.MkdirAll(filepath.Dir(db.DSN), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: db.Driver, DSN: db.DSN}, a.Logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, store.Close)
	a.Store, a.Conversations = store, store
	return nil
}

func (a *App) openVectors(ctx context.Context) error {
	cfg := a.Config
	var backend vectorstore.Backend
	switch cfg.VectorStore.Backend {
	case config.BackendMemory:
		backend = vectorstore.NewMemoryBackend()
	default:
		q, err := vectorstore.NewQdrantBackend(vectorstore.QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
		if err != nil {
			return err
		}
		backend = q
	}
	a.Vectors = vectorstore.NewManager(backend, vectorstore.Options{
		QueryTimeout:   cfg.VectorStore.QueryTimeout,
		OpTimeout:      cfg.VectorStore.OpTimeout,
		MaxDeleteBatch: cfg.VectorStore.MaxDeleteBatch,
	}, a.Logger)
	a.closers = append(a.closers, a.Vectors.Close)

	if err := vectorstore.WaitReady(ctx, backend); err != nil {
		return err
	}
	return nil
}

// waitLocal waits for the local embedding service to report ready, bounded
// by timeout when it is positive.
func waitLocal(ctx context.Context, b *embedding.LocalBackend, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return b.WaitReady(ctx)
}

// buildEmbedder registers one Embedder per configured backend behind a
// model router.
func (a *App) buildEmbedder(ctx context.Context) (*embedding.Router, error) {
	cfg := a.Config.Embedding
	providers := map[string]embedding.Provider{}
	add := func(b embedding.Backend) {
		providers[b.Name()] = embedding.NewEmbedder(b, cfg.BatchSize, cfg.Timeout, a.Logger)
	}

	if cfg.OpenAIAPIKey != "" {
		b, err := embedding.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		add(b)
	}
	var localErr error
	if cfg.LocalURL != "" {
		b, err := embedding.NewLocalBackend(cfg.LocalURL, nil)
		if err != nil {
			return nil, err
		}
		localErr = waitLocal(ctx, b, cfg.LocalReadyTimeout)
		add(b)
	}
	if cfg.CompatBaseURL != "" {
		b, err := embedding.NewCompatBackend(cfg.CompatBaseURL, cfg.CompatAPIKey)
		if err != nil {
			return nil, err
		}
		add(b)
	}
	if cfg.GeminiAPIKey != "" {
		b, err := embedding.NewGeminiBackend(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b.Close)
		add(b)
	}
	if len(providers) == 0 {
		return nil, errs.Wrap(errs.ErrInvalidInput, "no embedding backend configured")
	}
	if localErr != nil {
		if len(providers) == 1 {
			return nil, localErr
		}
		a.Logger.Warn("Local embedding service not ready; its models fail until it is",
			zap.String("url", cfg.LocalURL),
			zap.Error(localErr),
		)
	}

	routes, err := config.ParsePairs(cfg.Routes)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInvalidInput, "embedding.routes: %v", err)
	}
	return embedding.NewRouter(providers, routes, preferred(providers, "openai", "local")), nil
}

// buildCompleter registers the cloud providers and the self-hosted one. The
// self-hosted provider falls back to smaller models when memory runs out.
func (a *App) buildCompleter(ctx context.Context) (*completion.Router, error) {
	cfg := a.Config.Completion
	providers := map[string]completion.Provider{}

	if cfg.OpenAIAPIKey != "" {
		p, err := completion.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		providers[p.Name()] = completion.WithTimeout(p, cfg.Timeout)
	}
	if cfg.LocalBaseURL != "" {
		p, err := completion.NewCompatProvider(cfg.LocalBaseURL, cfg.LocalAPIKey)
		if err != nil {
			return nil, err
		}
		var models []string
		if len(cfg.FallbackModels) > 0 {
			models = cfg.FallbackModels
		}
		providers[p.Name()] = completion.NewFallback(completion.WithTimeout(p, cfg.Timeout), p, models, cfg.MaxRetries, a.Logger)
	}
	if cfg.GeminiAPIKey != "" {
		p, err := completion.NewGeminiProvider(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		providers[p.Name()] = completion.WithTimeout(p, cfg.Timeout)
	}
	if len(providers) == 0 {
		return nil, errs.Wrap(errs.ErrInvalidInput, "no completion provider configured")
	}

	routes, err := config.ParsePairs(cfg.Routes)
	if err != nil {
		return nil, errs.Wrap(errs.ErrInvalidInput, "completion.routes: %v", err)
	}
	return completion.NewRouter(providers, routes, preferred(providers, "openai", "local")), nil
}

// preferred returns the first of names present in providers, or any key.
func preferred[P any](providers map[string]P, names ...string) string {
	for _, n := range names {
		if _, ok := providers[n]; ok {
			return n
		}
	}
	for n := range providers {
		return n
	}
	return ""
}

func greetingPolicy(q config.QueryConfig) *rag.GreetingPolicy {
	policy := rag.DefaultGreetingPolicy()
	if len(q.GreetingPhrases) > 0 {
		policy.Phrases = q.GreetingPhrases
	}
	if len(q.IdentityPhrases) > 0 {
		policy.Identity = q.IdentityPhrases
	}
	policy.MaxExtraWords = q.GreetingMaxExtraWords
	return &policy
}

// DefaultSettings are the settings a chatbot is created with when the caller
// gives none: the built-in defaults with the configured models.
func (a *App) DefaultSettings() chatbot.Settings {
	s := chatbot.DefaultSettings()
	s.EmbeddingModel = a.Config.Embedding.DefaultModel
	s.CompletionModel = a.Config.Completion.DefaultModel
	return s
}

// GitHubFetcher returns a fetcher for "owner/repo[/path][@ref]".
func (a *App) GitHubFetcher(location string) (*github.Fetcher, error) {
	loc, err := github.ParseLocation(location)
	if err != nil {
		return nil, err
	}
	client, err := github.NewClient(a.Config.GitHub.Token)
	if err != nil {
		return nil, err
	}
	return github.NewFetcher(client, loc), nil
}

// Health reports whether the vector store and the embedding backends are
// reachable.
func (a *App) Health(ctx context.Context) error {
	var all []error
	if err := a.Vectors.Health(ctx); err != nil {
		all = append(all, fmt.Errorf("vector store: %w", err))
	}
	if err := a.Embedder.Health(ctx); err != nil {
		all = append(all, fmt.Errorf("embedding: %w", err))
	}
	return errors.Join(all...)
}

// Close releases every connection in reverse order of opening.
func (a *App) Close() error {
	var all []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			all = append(all, err)
		}
	}
	a.closers = nil
	return errors.Join(all...)
}
