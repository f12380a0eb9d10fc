// Package config resolves the process configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bull/ragbot/internal/errs"
)

// EnvPrefix is prepended to every environment override, so
// completion.default_model is read from RAGBOT_COMPLETION_DEFAULT_MODEL.
const EnvPrefix = "RAGBOT"

// Vector store backends.
const (
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
)

// Server modes.
const (
	ModeStdio = "stdio"
	ModeHTTP  = "http"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Completion  CompletionConfig  `mapstructure:"completion"`
	Training    TrainingConfig    `mapstructure:"training"`
	Query       QueryConfig       `mapstructure:"query"`
	GitHub      GitHubConfig      `mapstructure:"github"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig selects the chatbot store. An empty driver keeps chatbots
// in memory.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	EmbeddingTTL time.Duration `mapstructure:"embedding_ttl"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

type VectorStoreConfig struct {
	Backend        string        `mapstructure:"backend"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	OpTimeout      time.Duration `mapstructure:"op_timeout"`
	MaxDeleteBatch int           `mapstructure:"max_delete_batch"`
}

type EmbeddingConfig struct {
	DefaultModel  string        `mapstructure:"default_model"`
	FallbackModel string        `mapstructure:"fallback_model"`
	BatchSize     int           `mapstructure:"batch_size"`
	Timeout       time.Duration `mapstructure:"timeout"`

	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	LocalURL      string `mapstructure:"local_url"`
	// LocalReadyTimeout bounds the startup wait for the local service.
	LocalReadyTimeout time.Duration `mapstructure:"local_ready_timeout"`
	CompatBaseURL string `mapstructure:"compat_base_url"`
	CompatAPIKey  string `mapstructure:"compat_api_key"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key"`

	// Routes are "model=backend" pairs that win over the prefix rules.
	Routes []string `mapstructure:"routes"`
	// DimensionModels are "size=model" pairs naming the model the reconciler
	// picks for collections of that vector size.
	DimensionModels []string `mapstructure:"dimension_models"`
}

type CompletionConfig struct {
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`

	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	LocalBaseURL  string `mapstructure:"local_base_url"`
	LocalAPIKey   string `mapstructure:"local_api_key"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key"`

	// FallbackModels is ordered small to large. Empty uses the built-in list.
	FallbackModels []string `mapstructure:"fallback_models"`
	MaxRetries     int      `mapstructure:"max_retries"`

	// MockOnQuota answers with the offline mock when the cloud provider is
	// out of quota.
	MockOnQuota bool          `mapstructure:"mock_on_quota"`
	MockDelay   time.Duration `mapstructure:"mock_delay"`

	Routes []string `mapstructure:"routes"`
}

type TrainingConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	MaxInputChars int `mapstructure:"max_input_chars"`
}

type QueryConfig struct {
	MaxContextChars       int      `mapstructure:"max_context_chars"`
	GreetingPhrases       []string `mapstructure:"greeting_phrases"`
	IdentityPhrases       []string `mapstructure:"identity_phrases"`
	GreetingMaxExtraWords int      `mapstructure:"greeting_max_extra_words"`
}

type GitHubConfig struct {
	Token string `mapstructure:"token"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load resolves the configuration. A .env file in the working directory is
// loaded into the environment first. path names a config file; when empty,
// ragbot.yaml is looked up in . and ./config and may be absent.
// Environment variables override the file, and defaults fill the rest.
func Load(path string) (*Config, error) {
	// .env is optional; production sets the environment directly
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ragbot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindLegacyEnv accepts the unprefixed variable names the provider SDKs
// document, after the prefixed ones.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"embedding.openai_api_key":  "OPENAI_API_KEY",
		"completion.openai_api_key": "OPENAI_API_KEY",
		"embedding.gemini_api_key":  "GEMINI_API_KEY",
		"completion.gemini_api_key": "GEMINI_API_KEY",
		"qdrant.host":               "QDRANT_HOST",
		"qdrant.port":               "QDRANT_PORT",
		"qdrant.api_key":            "QDRANT_API_KEY",
		"github.token":              "GITHUB_TOKEN",
		"server.port":               "PORT",
	}
	for key, legacy := range bindings {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", ModeStdio)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/ragbot.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embedding_ttl", 24*time.Hour)
	v.SetDefault("redis.lock_ttl", 10*time.Minute)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.api_key", "")
	v.SetDefault("qdrant.use_tls", false)

	v.SetDefault("vector_store.backend", BackendQdrant)
	v.SetDefault("vector_store.query_timeout", 10*time.Second)
	v.SetDefault("vector_store.op_timeout", 30*time.Second)
	v.SetDefault("vector_store.max_delete_batch", 100)

	v.SetDefault("embedding.default_model", "text-embedding-3-small")
	v.SetDefault("embedding.fallback_model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.openai_api_key", "")
	v.SetDefault("embedding.openai_base_url", "")
	v.SetDefault("embedding.local_url", "http://localhost:8001")
	v.SetDefault("embedding.local_ready_timeout", 30*time.Second)
	v.SetDefault("embedding.compat_base_url", "http://localhost:11434/v1")
	v.SetDefault("embedding.compat_api_key", "")
	v.SetDefault("embedding.gemini_api_key", "")
	v.SetDefault("embedding.routes", []string{})
	v.SetDefault("embedding.dimension_models", []string{})

	v.SetDefault("completion.default_model", "gpt-4o-mini")
	v.SetDefault("completion.timeout", 60*time.Second)
	v.SetDefault("completion.openai_api_key", "")
	v.SetDefault("completion.openai_base_url", "")
	v.SetDefault("completion.local_base_url", "http://localhost:11434/v1")
	v.SetDefault("completion.local_api_key", "")
	v.SetDefault("completion.gemini_api_key", "")
	v.SetDefault("completion.fallback_models", []string{})
	v.SetDefault("completion.max_retries", 2)
	v.SetDefault("completion.mock_on_quota", true)
	v.SetDefault("completion.mock_delay", 30*time.Millisecond)
	v.SetDefault("completion.routes", []string{})

	v.SetDefault("training.batch_size", 100)
	v.SetDefault("training.max_input_chars", 1_000_000)

	v.SetDefault("query.max_context_chars", 8000)
	v.SetDefault("query.greeting_phrases", []string{})
	v.SetDefault("query.identity_phrases", []string{})
	v.SetDefault("query.greeting_max_extra_words", 2)

	v.SetDefault("github.token", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stderr")
}

// Validate rejects values that cannot work.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Server.Mode == ModeStdio || c.Server.Mode == ModeHTTP, "server.mode %q must be stdio or http", c.Server.Mode)
	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.VectorStore.Backend == BackendQdrant || c.VectorStore.Backend == BackendMemory,
		"vector_store.backend %q must be qdrant or memory", c.VectorStore.Backend)
	check(c.VectorStore.QueryTimeout > 0, "vector_store.query_timeout must be positive")
	check(c.VectorStore.OpTimeout > 0, "vector_store.op_timeout must be positive")
	check(c.VectorStore.MaxDeleteBatch > 0, "vector_store.max_delete_batch must be positive")
	check(c.Embedding.Timeout > 0, "embedding.timeout must be positive")
	check(c.Embedding.BatchSize > 0 && c.Embedding.BatchSize <= 100, "embedding.batch_size %d outside [1, 100]", c.Embedding.BatchSize)
	check(c.Embedding.DefaultModel != "", "embedding.default_model is required")
	check(c.Completion.Timeout > 0, "completion.timeout must be positive")
	check(c.Completion.DefaultModel != "", "completion.default_model is required")
	check(c.Completion.MaxRetries >= 0, "completion.max_retries must not be negative")
	check(c.Training.BatchSize > 0 && c.Training.BatchSize <= 100, "training.batch_size %d outside [1, 100]", c.Training.BatchSize)
	check(c.Training.MaxInputChars > 0, "training.max_input_chars must be positive")
	check(c.Query.MaxContextChars > 0, "query.max_context_chars must be positive")
	check(c.Query.GreetingMaxExtraWords >= 0, "query.greeting_max_extra_words must not be negative")
	if c.Redis.Enabled {
		check(c.Redis.Addr != "", "redis.addr is required when redis is enabled")
		check(c.Redis.EmbeddingTTL > 0, "redis.embedding_ttl must be positive")
		check(c.Redis.LockTTL > 0, "redis.lock_ttl must be positive")
	}
	if _, err := ParsePairs(c.Embedding.Routes); err != nil {
		problems = append(problems, "embedding.routes: "+err.Error())
	}
	if _, err := ParsePairs(c.Completion.Routes); err != nil {
		problems = append(problems, "completion.routes: "+err.Error())
	}
	if _, err := c.Embedding.DimensionOverrides(); err != nil {
		problems = append(problems, "embedding.dimension_models: "+err.Error())
	}

	if len(problems) > 0 {
		return errs.Wrap(errs.ErrInvalidInput, "invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParsePairs splits "key=value" entries into a map. Keys keep their case,
// which is why routes are lists rather than yaml maps.
func ParsePairs(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		key, value, ok := strings.Cut(e, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("entry %q is not key=value", e)
		}
		out[key] = value
	}
	return out, nil
}

// DimensionOverrides returns the reconciler's size-to-model table.
func (c EmbeddingConfig) DimensionOverrides() (map[int]string, error) {
	pairs, err := ParsePairs(c.DimensionModels)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(pairs))
	for size, model := range pairs {
		n, err := strconv.Atoi(size)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%q is not a vector size", size)
		}
		out[n] = model
	}
	return out, nil
}
