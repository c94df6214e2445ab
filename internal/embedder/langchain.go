package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// defaultOpenRouterBaseURL is used when no endpoint is configured for the
// openrouter provider.
const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// LangchainEmbedder adapts a langchaingo embeddings.Embedder to rag.Embedder.
// Used for OpenAI-compatible gateways that the REST embedders do not cover.
type LangchainEmbedder struct {
	inner embeddings.Embedder
}

// LangchainConfig holds the settings for an OpenAI-compatible gateway.
type LangchainConfig struct {
	// BaseURL is the gateway base URL.
	BaseURL string
	// APIKey is the gateway key. A leading "Bearer " is stripped.
	APIKey string
	// Model is the embedding model name.
	Model string
}

// NewLangchainEmbedder builds an embedder that calls an OpenAI-compatible
// gateway through langchaingo.
func NewLangchainEmbedder(cfg LangchainConfig) (*LangchainEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("langchain embedder: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("langchain embedder: init client: %w", err)
	}
	inner, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("langchain embedder: init embedder: %w", err)
	}
	return &LangchainEmbedder{inner: inner}, nil
}

// Embed returns the embedding of a single text.
func (e *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("langchain embedder: %w", err)
	}
	return v, nil
}

// EmbedBatch embeds texts in one call, aligned by position.
func (e *LangchainEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out, err := e.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("langchain embedder: %w", err)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("langchain embedder: expected %d embeddings, got %d", len(texts), len(out))
	}
	return out, nil
}
