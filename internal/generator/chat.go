package generator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/logging"
)

// ChatBackend adapts an eino chat model to Backend. The prompt is sent as a
// user message after the fixed system message.
type ChatBackend struct {
	// model is the underlying chat model (Ollama, OpenAI, Azure, Gemini, Ark).
	model model.BaseChatModel

	// temperature and maxTokens are sent as per-call options.
	temperature float32
	maxTokens   int

	// maxContextTokens is the prompt size above which a warning is logged.
	maxContextTokens int
}

// ChatOption configures a ChatBackend.
type ChatOption func(*ChatBackend)

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float32) ChatOption { return func(b *ChatBackend) { b.temperature = t } }

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(n int) ChatOption {
	return func(b *ChatBackend) {
		if n > 0 {
			b.maxTokens = n
		}
	}
}

// WithContextBudget sets the prompt token estimate that triggers a warning.
func WithContextBudget(n int) ChatOption {
	return func(b *ChatBackend) {
		if n > 0 {
			b.maxContextTokens = n
		}
	}
}

// NewChatBackend wraps m.
func NewChatBackend(m model.BaseChatModel, opts ...ChatOption) (*ChatBackend, error) {
	if m == nil {
		return nil, fmt.Errorf("generator: chat model must not be nil")
	}
	b := &ChatBackend{
		model:            m,
		temperature:      DefaultTemperature,
		maxTokens:        DefaultMaxTokens,
		maxContextTokens: budget.DefaultMaxContextTokens,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Complete sends prompt to the chat model and returns the reply content.
func (b *ChatBackend) Complete(ctx context.Context, prompt string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(SystemMessage),
		schema.UserMessage(prompt),
	}

	if est, over := budget.Exceeds(msgs, b.maxContextTokens); over {
		logging.FromContext(ctx).Warn("generator: prompt exceeds context budget",
			slog.Int("estimated_tokens", est),
			slog.Int("budget", b.maxContextTokens))
	}

	reply, err := b.model.Generate(ctx, msgs,
		model.WithTemperature(b.temperature),
		model.WithMaxTokens(b.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generator: chat completion: %w", err)
	}
	if reply == nil {
		return "", fmt.Errorf("generator: chat completion returned no message")
	}
	return reply.Content, nil
}
