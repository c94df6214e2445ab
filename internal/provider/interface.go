// Package provider constructs eino chat models for delegated answer
// generation. Supported backends: Ollama, OpenAI, Azure OpenAI, Google Gemini
// and Volcengine Ark.
package provider

import (
	"github.com/54b3r/docqa-go/internal/config"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
)

// Config holds the provider-level settings for one chat model.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Model is the model name or endpoint ID to use (e.g. "gpt-4o", "llama3").
	Model string

	// BaseURL overrides the default API endpoint (required for Azure).
	BaseURL string

	// APIKey is the authentication credential for the selected provider.
	APIKey string

	// AzureDeployment is the Azure OpenAI deployment name (Azure only).
	AzureDeployment string

	// AzureAPIVersion is the Azure OpenAI REST API version (Azure only).
	AzureAPIVersion string

	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// FromConfig maps the generation section of the application config onto a
// provider Config.
func FromConfig(g config.GenerationConfig) *Config {
	return &Config{
		Backend:         Backend(g.Provider),
		Model:           g.Model,
		BaseURL:         g.BaseURL,
		APIKey:          g.APIKey,
		AzureDeployment: g.Azure.Deployment,
		AzureAPIVersion: g.Azure.APIVersion,
		MaxTokens:       g.MaxTokens,
		Temperature:     g.Temperature,
	}
}
