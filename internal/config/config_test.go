package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragbot/internal/errs"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeStdio, cfg.Server.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, BackendQdrant, cfg.VectorStore.Backend)
	assert.Equal(t, 10*time.Second, cfg.VectorStore.QueryTimeout)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.DefaultModel)
	assert.Equal(t, 100, cfg.Embedding.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Embedding.LocalReadyTimeout)
	assert.True(t, cfg.Completion.MockOnQuota)
	assert.Equal(t, 2, cfg.Completion.MaxRetries)
	assert.Equal(t, 8000, cfg.Query.MaxContextChars)
	assert.Equal(t, 2, cfg.Query.GreetingMaxExtraWords)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RAGBOT_SERVER_MODE", "http")
	t.Setenv("RAGBOT_VECTOR_STORE_BACKEND", "memory")
	t.Setenv("RAGBOT_COMPLETION_TIMEOUT", "5s")
	t.Setenv("RAGBOT_COMPLETION_MOCK_ON_QUOTA", "false")
	t.Setenv("RAGBOT_QUERY_GREETING_PHRASES", "yo,sup")
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("QDRANT_HOST", "qdrant.internal")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeHTTP, cfg.Server.Mode)
	assert.Equal(t, BackendMemory, cfg.VectorStore.Backend)
	assert.Equal(t, 5*time.Second, cfg.Completion.Timeout)
	assert.False(t, cfg.Completion.MockOnQuota)
	assert.Equal(t, []string{"yo", "sup"}, cfg.Query.GreetingPhrases)
	assert.Equal(t, "sk-legacy", cfg.Embedding.OpenAIAPIKey)
	assert.Equal(t, "sk-legacy", cfg.Completion.OpenAIAPIKey)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
}

func TestLoad_PrefixedEnvBeatsLegacy(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("RAGBOT_COMPLETION_OPENAI_API_KEY", "sk-ragbot")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-ragbot", cfg.Completion.OpenAIAPIKey)
	assert.Equal(t, "sk-legacy", cfg.Embedding.OpenAIAPIKey)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	content := `
database:
  driver: postgres
  dsn: postgres://ragbot@localhost/ragbot?sslmode=disable
embedding:
  routes:
    - all-MiniLM-L6-v2=local
  dimension_models:
    - 384=all-MiniLM-L6-v2
    - 1536=text-embedding-3-small
completion:
  fallback_models: [tinyllama, mistral]
training:
  batch_size: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Training.BatchSize)
	assert.Equal(t, []string{"tinyllama", "mistral"}, cfg.Completion.FallbackModels)

	routes, err := ParsePairs(cfg.Embedding.Routes)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"all-MiniLM-L6-v2": "local"}, routes)

	dims, err := cfg.Embedding.DimensionOverrides()
	require.NoError(t, err)
	assert.Equal(t, map[int]string{384: "all-MiniLM-L6-v2", 1536: "text-embedding-3-small"}, dims)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "milvus" }},
		{"zero query timeout", func(c *Config) { c.VectorStore.QueryTimeout = 0 }},
		{"negative completion timeout", func(c *Config) { c.Completion.Timeout = -time.Second }},
		{"oversized embedding batch", func(c *Config) { c.Embedding.BatchSize = 101 }},
		{"oversized training batch", func(c *Config) { c.Training.BatchSize = 500 }},
		{"bad mode", func(c *Config) { c.Server.Mode = "grpc" }},
		{"bad route", func(c *Config) { c.Completion.Routes = []string{"gpt-4o"} }},
		{"bad dimension", func(c *Config) { c.Embedding.DimensionModels = []string{"wide=model"} }},
		{"redis without ttl", func(c *Config) { c.Redis.Enabled = true; c.Redis.LockTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), errs.ErrInvalidInput)
		})
	}

	assert.NoError(t, base.Validate())
}

func TestLoad_InvalidEnvRejected(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RAGBOT_TRAINING_BATCH_SIZE", "1000")

	_, err := Load("")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
