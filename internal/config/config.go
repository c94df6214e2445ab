// Package config provides layered configuration for docqa.
// Precedence, lowest first: built-in defaults → YAML file → .env file → env vars.
// Environment variables always win. A .env file never overrides a variable
// that is already set in the real environment.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. DOCQA_CONFIG environment variable
//  3. ~/.docqa/config.yaml
//  4. ./docqa.yaml
//
// If no file is found the configuration comes from defaults and env vars.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Store selects and configures the vector store.
	Store StoreConfig `yaml:"store"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Chunking configures document splitting.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Retrieval configures query-time search.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Generation configures answer generation.
	Generation GenerationConfig `yaml:"generation"`

	// Ingestion configures the ingestion pipeline.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// StoreConfig holds vector store settings.
type StoreConfig struct {
	// Backend selects the store: qdrant, chromem, postgres.
	Backend string `yaml:"backend"`
	// Index is the index (collection/table) name.
	Index string `yaml:"index"`
	// Metric is the distance metric used when creating the index: cosine, l2, ip.
	Metric string `yaml:"metric"`

	// Qdrant holds Qdrant connection settings.
	Qdrant QdrantConfig `yaml:"qdrant"`
	// Chromem holds embedded chromem-go settings.
	Chromem ChromemConfig `yaml:"chromem"`
	// Postgres holds pgvector settings.
	Postgres PostgresConfig `yaml:"postgres"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ChromemConfig holds chromem-go settings.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string `yaml:"path"`
	// Compress gzips the persisted files.
	Compress bool `yaml:"compress"`
}

// PostgresConfig holds pgvector settings.
type PostgresConfig struct {
	// DSN is the Postgres connection string. Prefer env var POSTGRES_DSN.
	DSN string `yaml:"dsn"`
	// Debug logs every SQL statement.
	Debug bool `yaml:"debug"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: ollama, openai, azure, openrouter.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// AzureAPIVersion is the Azure OpenAI API version (azure only).
	AzureAPIVersion string `yaml:"azure_api_version"`
}

// ChunkingConfig holds chunker settings, in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	// TopK is the default number of results.
	TopK int `yaml:"top_k"`
}

// GenerationConfig holds answer generation settings.
type GenerationConfig struct {
	// Mode is extractive or delegated.
	Mode string `yaml:"mode"`
	// Provider selects the chat backend: ollama, openai, azure, gemini, ark, openrouter.
	Provider string `yaml:"provider"`
	// Model is the chat model name or deployment ID.
	Model string `yaml:"model"`
	// APIKey is the provider credential. Prefer env var MODEL_API_KEY.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`
	// MaxTokens caps the generated answer length.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness.
	Temperature float32 `yaml:"temperature"`
	// ContextBudget is the prompt size, in estimated tokens, above which a
	// warning is logged.
	ContextBudget int `yaml:"context_budget"`
	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// IngestionConfig holds ingestion pipeline settings.
type IngestionConfig struct {
	// DocumentsDir is the default directory ingested by `docqa ingest`.
	DocumentsDir string `yaml:"documents_dir"`
	// BatchSize is the number of chunks embedded and inserted per group.
	BatchSize int `yaml:"batch_size"`
	// LedgerPath is the SQLite ledger path. "disabled" turns change tracking off.
	LedgerPath string `yaml:"ledger_path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// RateLimit is the sustained POST /api/query requests per second allowed
	// per client IP.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the query token bucket size per client IP.
	RateBurst int `yaml:"rate_burst"`
	// BatchRateLimit is the sustained batch questions per second per client.
	// A batch of N questions costs N tokens.
	BatchRateLimit float64 `yaml:"batch_rate_limit"`
	// BatchRateBurst bounds the questions a client can send at once. Must be
	// at least the batch size limit for full batches to ever pass.
	BatchRateBurst int `yaml:"batch_rate_burst"`
	// SearchRateLimit covers search and similar-document requests, which
	// never call a generation backend.
	SearchRateLimit float64 `yaml:"search_rate_limit"`
	// SearchRateBurst is the search token bucket size per client IP.
	SearchRateBurst int `yaml:"search_rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// Enabled reports whether both Langfuse keys are set.
func (t TracingConfig) Enabled() bool { return t.PublicKey != "" && t.SecretKey != "" }

// Generation modes.
const (
	ModeExtractive = "extractive"
	ModeDelegated  = "delegated"
)

// LedgerDisabled turns off the ingestion ledger when used as the ledger path.
const LedgerDisabled = "disabled"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "qdrant",
			Index:   "documents",
			Metric:  "cosine",
			Qdrant:  QdrantConfig{Host: "localhost", Port: 6334},
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
		},
		Chunking:  ChunkingConfig{Size: 512, Overlap: 50},
		Retrieval: RetrievalConfig{TopK: 5},
		Generation: GenerationConfig{
			Mode:          ModeExtractive,
			Provider:      "openai",
			Model:         "gpt-3.5-turbo",
			MaxTokens:     500,
			Temperature:   0.3,
			ContextBudget: 6000,
		},
		Ingestion: IngestionConfig{
			DocumentsDir: "./data/documents",
			BatchSize:    100,
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			RateLimit:       10,
			RateBurst:       20,
			BatchRateLimit:  2,
			BatchRateBurst:  100,
			SearchRateLimit: 20,
			SearchRateBurst: 40,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// envOverride binds an environment variable to a typed setter.
type envOverride struct {
	key string
	set func(c *Config, v string) error
}

// envOverrides maps environment variables onto config fields. Applied after
// the YAML file, so a set variable always wins.
var envOverrides = []envOverride{
	{"VECTOR_STORE", setString(func(c *Config) *string { return &c.Store.Backend })},
	{"INDEX_NAME", setString(func(c *Config) *string { return &c.Store.Index })},
	{"INDEX_METRIC", setString(func(c *Config) *string { return &c.Store.Metric })},
	{"QDRANT_HOST", setString(func(c *Config) *string { return &c.Store.Qdrant.Host })},
	{"QDRANT_PORT", setInt(func(c *Config) *int { return &c.Store.Qdrant.Port })},
	{"QDRANT_API_KEY", setString(func(c *Config) *string { return &c.Store.Qdrant.APIKey })},
	{"QDRANT_TLS", setBool(func(c *Config) *bool { return &c.Store.Qdrant.TLS })},
	{"CHROMEM_PATH", setString(func(c *Config) *string { return &c.Store.Chromem.Path })},
	{"CHROMEM_COMPRESS", setBool(func(c *Config) *bool { return &c.Store.Chromem.Compress })},
	{"POSTGRES_DSN", setString(func(c *Config) *string { return &c.Store.Postgres.DSN })},
	{"POSTGRES_DEBUG", setBool(func(c *Config) *bool { return &c.Store.Postgres.Debug })},
	{"EMBEDDING_PROVIDER", setString(func(c *Config) *string { return &c.Embedding.Provider })},
	{"EMBEDDING_MODEL", setString(func(c *Config) *string { return &c.Embedding.Model })},
	{"EMBEDDING_DIMENSIONS", setInt(func(c *Config) *int { return &c.Embedding.Dimensions })},
	{"EMBEDDING_API_KEY", setString(func(c *Config) *string { return &c.Embedding.APIKey })},
	{"EMBEDDING_ENDPOINT", setString(func(c *Config) *string { return &c.Embedding.Endpoint })},
	{"CHUNK_SIZE", setInt(func(c *Config) *int { return &c.Chunking.Size })},
	{"CHUNK_OVERLAP", setInt(func(c *Config) *int { return &c.Chunking.Overlap })},
	{"TOP_K", setInt(func(c *Config) *int { return &c.Retrieval.TopK })},
	{"USE_LLM", setUseLLM},
	{"GENERATION_MODE", setString(func(c *Config) *string { return &c.Generation.Mode })},
	{"MODEL_PROVIDER", setString(func(c *Config) *string { return &c.Generation.Provider })},
	{"MODEL_NAME", setString(func(c *Config) *string { return &c.Generation.Model })},
	{"MODEL_API_KEY", setString(func(c *Config) *string { return &c.Generation.APIKey })},
	{"MODEL_BASE_URL", setString(func(c *Config) *string { return &c.Generation.BaseURL })},
	{"MODEL_MAX_TOKENS", setInt(func(c *Config) *int { return &c.Generation.MaxTokens })},
	{"MODEL_TEMPERATURE", setFloat32(func(c *Config) *float32 { return &c.Generation.Temperature })},
	{"MODEL_CONTEXT_BUDGET", setInt(func(c *Config) *int { return &c.Generation.ContextBudget })},
	{"AZURE_OPENAI_DEPLOYMENT", setString(func(c *Config) *string { return &c.Generation.Azure.Deployment })},
	{"AZURE_OPENAI_API_VERSION", func(c *Config, v string) error {
		c.Generation.Azure.APIVersion = v
		c.Embedding.AzureAPIVersion = v
		return nil
	}},
	{"DOCUMENTS_DIR", setString(func(c *Config) *string { return &c.Ingestion.DocumentsDir })},
	{"INGEST_BATCH_SIZE", setInt(func(c *Config) *int { return &c.Ingestion.BatchSize })},
	{"DOCQA_LEDGER_DB", setString(func(c *Config) *string { return &c.Ingestion.LedgerPath })},
	{"SERVER_HOST", setString(func(c *Config) *string { return &c.Server.Host })},
	{"SERVER_PORT", setInt(func(c *Config) *int { return &c.Server.Port })},
	{"SERVER_RATE_LIMIT", setFloat64(func(c *Config) *float64 { return &c.Server.RateLimit })},
	{"SERVER_RATE_BURST", setInt(func(c *Config) *int { return &c.Server.RateBurst })},
	{"SERVER_BATCH_RATE_LIMIT", setFloat64(func(c *Config) *float64 { return &c.Server.BatchRateLimit })},
	{"SERVER_BATCH_RATE_BURST", setInt(func(c *Config) *int { return &c.Server.BatchRateBurst })},
	{"SERVER_SEARCH_RATE_LIMIT", setFloat64(func(c *Config) *float64 { return &c.Server.SearchRateLimit })},
	{"SERVER_SEARCH_RATE_BURST", setInt(func(c *Config) *int { return &c.Server.SearchRateBurst })},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", setString(func(c *Config) *string { return &c.Logging.Format })},
	{"LANGFUSE_PUBLIC_KEY", setString(func(c *Config) *string { return &c.Tracing.PublicKey })},
	{"LANGFUSE_SECRET_KEY", setString(func(c *Config) *string { return &c.Tracing.SecretKey })},
	{"LANGFUSE_HOST", setString(func(c *Config) *string { return &c.Tracing.Host })},
}

// Load resolves the configuration: defaults, then the YAML file (if any),
// then .env, then environment variables. It returns the validated config and
// the path of the YAML file that was read, or "" when none was found.
// Nothing is written back to the process environment.
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		log.Info("config: loaded YAML config", slog.String("path", path))
	} else {
		log.Debug("config: no YAML config file found, using defaults and env vars")
	}

	env, err := readDotEnv(".env")
	if err != nil {
		return nil, "", err
	}

	applied, err := cfg.applyEnv(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return env[key]
	})
	if err != nil {
		return nil, "", err
	}
	log.Debug("config: applied environment overrides", slog.Int("keys_applied", applied))

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// readDotEnv parses a .env file into a map. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return env, nil
}

// applyEnv applies every non-empty variable returned by lookup and reports
// how many were applied.
func (c *Config) applyEnv(lookup func(string) string) (int, error) {
	applied := 0
	for _, o := range envOverrides {
		v := strings.TrimSpace(lookup(o.key))
		if v == "" {
			continue
		}
		if err := o.set(c, v); err != nil {
			return applied, fmt.Errorf("config: invalid %s=%q: %w", o.key, v, err)
		}
		applied++
	}
	return applied, nil
}

// Validate fails fast on settings that would make every operation fail.
func (c *Config) Validate() error {
	switch {
	case c.Chunking.Size <= 0:
		return fmt.Errorf("config: chunking.size must be positive, got %d", c.Chunking.Size)
	case c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size:
		return fmt.Errorf("config: chunking.overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap)
	case c.Retrieval.TopK <= 0:
		return fmt.Errorf("config: retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	case c.Store.Index == "":
		return fmt.Errorf("config: store.index must not be empty")
	case c.Ingestion.BatchSize <= 0:
		return fmt.Errorf("config: ingestion.batch_size must be positive, got %d", c.Ingestion.BatchSize)
	case c.Server.RateLimit < 0 || c.Server.BatchRateLimit < 0 || c.Server.SearchRateLimit < 0:
		return fmt.Errorf("config: server rate limits must not be negative")
	case c.Server.RateBurst < 0 || c.Server.BatchRateBurst < 0 || c.Server.SearchRateBurst < 0:
		return fmt.Errorf("config: server rate bursts must not be negative")
	}

	switch c.Store.Backend {
	case "qdrant", "chromem":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("config: store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q (valid: qdrant, chromem, postgres)", c.Store.Backend)
	}

	switch c.Generation.Mode {
	case ModeExtractive, ModeDelegated:
	default:
		return fmt.Errorf("config: unknown generation mode %q (valid: %s, %s)", c.Generation.Mode, ModeExtractive, ModeDelegated)
	}
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCQA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docqa", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docqa.yaml"); err == nil {
		return "docqa.yaml"
	}

	return ""
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = i
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func setFloat32(field func(*Config) *float32) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return err
		}
		*field(c) = float32(f)
		return nil
	}
}

func setFloat64(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

// setUseLLM maps the legacy boolean switch onto the generation mode.
// GENERATION_MODE, applied after it, takes precedence.
func setUseLLM(c *Config, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	if b {
		c.Generation.Mode = ModeDelegated
	} else {
		c.Generation.Mode = ModeExtractive
	}
	return nil
}
