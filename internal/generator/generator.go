// Package generator turns a query and its retrieved context into an answer.
// Two variants exist: an extractive generator that composes the answer from
// the context lines themselves, and a delegated generator that asks a
// language model backend and falls back to extraction when the backend
// fails. The variant is chosen once, at construction.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Method records how an Answer was produced.
type Method string

const (
	// MethodDelegated means the backend produced the answer.
	MethodDelegated Method = "delegated"
	// MethodExtractive means the answer was assembled from context lines.
	MethodExtractive Method = "extractive"
)

const (
	// DefaultTemperature is the sampling temperature sent to backends.
	DefaultTemperature float32 = 0.3
	// DefaultMaxTokens caps backend output length.
	DefaultMaxTokens = 500
	// DefaultModel is the model requested when none is configured.
	DefaultModel = "gpt-3.5-turbo"

	// SystemMessage is sent ahead of every delegated prompt.
	SystemMessage = "You are a helpful assistant that answers questions based on provided context."

	// NoInformationAnswer is returned by extraction when the context holds no
	// usable lines.
	NoInformationAnswer = "I couldn't find relevant information to answer your question."

	maxExtractLines = 5
	maxExtractChars = 500
)

const promptTemplate = `You are a helpful AI assistant. Answer the question based ONLY on the provided context.
If the context doesn't contain relevant information, say "I don't have enough information to answer this question."

Context:
%s

Question: %s

Answer:`

// Answer is the output of a Generator.
type Answer struct {
	// Text is the answer shown to the user.
	Text string
	// Method records which path produced Text.
	Method Method
	// FallbackErr is the backend failure that forced an extractive answer
	// in delegated mode. Nil otherwise.
	FallbackErr error
}

// Generator produces an answer for query from the formatted context.
// Generate never fails; backend failures degrade to extraction.
type Generator interface {
	Generate(ctx context.Context, query, context string) Answer
}

// Backend is a text-completion service.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Completion is the outcome of a backend call: either Text or Err.
type Completion struct {
	Text string
	Err  error
}

// Failed reports whether the backend call failed.
func (c Completion) Failed() bool { return c.Err != nil }

// complete calls b and folds the result into a Completion. A successful
// reply is trimmed and kept even when it ends up empty.
func complete(ctx context.Context, b Backend, prompt string) Completion {
	text, err := b.Complete(ctx, prompt)
	if err != nil {
		return Completion{Err: err}
	}
	return Completion{Text: strings.TrimSpace(text)}
}

// Extractive answers from the context alone.
type Extractive struct{}

// NewExtractive returns the extractive generator.
func NewExtractive() *Extractive { return &Extractive{} }

// Generate returns Extract(context).
func (Extractive) Generate(_ context.Context, _, context string) Answer {
	return Answer{Text: Extract(context), Method: MethodExtractive}
}

// Delegated answers through a Backend and falls back to extraction.
type Delegated struct {
	backend Backend
}

// NewDelegated returns a generator that asks backend first.
func NewDelegated(backend Backend) (*Delegated, error) {
	if backend == nil {
		return nil, fmt.Errorf("generator: backend must not be nil")
	}
	return &Delegated{backend: backend}, nil
}

// Generate sends BuildPrompt(query, context) to the backend. When the call
// fails the answer is extracted from context and the failure is recorded.
func (d *Delegated) Generate(ctx context.Context, query, context string) Answer {
	c := complete(ctx, d.backend, BuildPrompt(query, context))
	if !c.Failed() {
		return Answer{Text: c.Text, Method: MethodDelegated}
	}
	logging.FromContext(ctx).Warn("generator: backend failed, falling back to extraction",
		slog.Any("error", c.Err))
	return Answer{Text: Extract(context), Method: MethodExtractive, FallbackErr: c.Err}
}

// BuildPrompt renders the delegated prompt.
func BuildPrompt(query, context string) string {
	return fmt.Sprintf(promptTemplate, context, query)
}

// Extract composes an answer from context: block label lines are dropped,
// the first five remaining non-blank lines are joined with spaces, and the
// result is capped at 500 characters.
func Extract(context string) string {
	var kept []string
	for _, line := range strings.Split(context, "\n") {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, rag.BlockMarker) {
			continue
		}
		kept = append(kept, line)
		if len(kept) == maxExtractLines {
			break
		}
	}
	if len(kept) == 0 {
		return NoInformationAnswer
	}

	answer := strings.Join(kept, " ")
	if r := []rune(answer); len(r) > maxExtractChars {
		answer = string(r[:maxExtractChars]) + "..."
	}
	return answer
}
