package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/docqa-go/internal/config"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	defaultOllamaHost    = "http://localhost:11434"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultAzureVersion  = "2025-04-01-preview"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// New constructs the rag.Embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig) (rag.Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		host := cfg.Endpoint
		if host == "" {
			host = defaultOllamaHost
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  host,
			Model: orDefault(cfg.Model, defaultOllamaModel),
		}), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    orDefault(cfg.Endpoint, defaultOpenAIBaseURL),
			APIKey:     cfg.APIKey,
			Model:      orDefault(cfg.Model, defaultOpenAIModel),
			Dimensions: cfg.Dimensions,
		}), nil

	case "azure":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires EMBEDDING_API_KEY")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint + "/openai",
			APIKey:     cfg.APIKey,
			Model:      orDefault(cfg.Model, defaultOpenAIModel),
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: orDefault(cfg.AzureAPIVersion, defaultAzureVersion),
		}), nil

	case "openrouter":
		return NewLangchainEmbedder(LangchainConfig{
			BaseURL: cfg.Endpoint,
			APIKey:  cfg.APIKey,
			Model:   orDefault(cfg.Model, defaultOpenAIModel),
		})

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure, openrouter)", cfg.Provider)
	}
}

// DefaultDimensions returns the expected vector size for cfg without calling
// the backend. An explicit cfg.Dimensions always wins.
func DefaultDimensions(cfg config.EmbeddingConfig) int {
	if cfg.Dimensions > 0 {
		return cfg.Dimensions
	}
	switch cfg.Provider {
	case "", "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// ProbeDimensions embeds a short sample to learn the real vector size of e.
// Used when creating an index so a non-default model cannot silently produce
// a mismatched index.
func ProbeDimensions(ctx context.Context, e rag.Embedder) (int, error) {
	v, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("embedder: probe dimensions: %w", err)
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("embedder: probe dimensions: backend returned an empty vector")
	}
	return len(v), nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// first unwraps a single-input batch.
func first(batch [][]float32, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("embedder: empty batch result")
	}
	return batch[0], nil
}
