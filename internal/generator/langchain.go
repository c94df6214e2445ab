package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainConfig configures an OpenAI-compatible gateway such as
// OpenRouter.
type LangchainConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// LangchainBackend is a Backend over a langchaingo model.
type LangchainBackend struct {
	llm         llms.Model
	temperature float64
	maxTokens   int
}

// NewLangchainBackend builds a langchaingo OpenAI client for cfg.
func NewLangchainBackend(cfg LangchainConfig) (*LangchainBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generator: MODEL_API_KEY is required for the openrouter provider")
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel
	}
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
		openai.WithModel(modelName),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("generator: langchain client: %w", err)
	}
	return newLangchainBackend(llm, cfg.Temperature, cfg.MaxTokens), nil
}

func newLangchainBackend(llm llms.Model, temperature float32, maxTokens int) *LangchainBackend {
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &LangchainBackend{llm: llm, temperature: float64(temperature), maxTokens: maxTokens}
}

// Complete sends the system message and prompt and returns the first choice.
func (b *LangchainBackend) Complete(ctx context.Context, prompt string) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemMessage),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	res, err := b.llm.GenerateContent(ctx, msgs,
		llms.WithTemperature(b.temperature),
		llms.WithMaxTokens(b.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generator: langchain completion: %w", err)
	}
	if res == nil || len(res.Choices) == 0 {
		return "", fmt.Errorf("generator: langchain completion returned no choices")
	}
	return res.Choices[0].Content, nil
}
