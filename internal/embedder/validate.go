package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/docqa-go/internal/config"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateForRAG is a pre-flight check run before the embedder and store are
// constructed, so operators get a clear error at startup rather than a
// cryptic failure during the first embed call. It returns an error for
// clearly broken settings and logs a warning when the model looks like a
// chat model.
func ValidateForRAG(log *slog.Logger, cfg config.EmbeddingConfig) error {
	switch cfg.Provider {
	case "", "ollama":
	case "openai", "openrouter":
		if cfg.APIKey == "" {
			return fmt.Errorf("embedder: %s embeddings need an API key, set EMBEDDING_API_KEY", cfg.Provider)
		}
	case "azure":
		if cfg.APIKey == "" {
			return fmt.Errorf("embedder: azure embeddings need an API key, set EMBEDDING_API_KEY")
		}
		if cfg.Endpoint == "" {
			return fmt.Errorf("embedder: azure embeddings need an endpoint, set EMBEDDING_ENDPOINT")
		}
	default:
		return fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure, openrouter)", cfg.Provider)
	}

	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model; "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	return nil
}
