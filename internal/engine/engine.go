// Package engine orchestrates retrieval and answer generation. It owns no
// I/O of its own: embedding, search and completion all go through the ports
// it was built with.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/generator"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

const (
	// NoResultsAnswer is returned when retrieval finds nothing.
	NoResultsAnswer = "I couldn't find any relevant information in the knowledge base."

	// hybridWindowFactor widens the semantic candidate pool before the
	// keyword filter is applied.
	hybridWindowFactor = 2
)

// Response is the result of a query.
type Response struct {
	// Answer is the generated or extracted answer.
	Answer string `json:"answer"`
	// Sources are the retrieved results the answer was built from.
	Sources []rag.SearchResult `json:"sources"`
	// Query echoes the input.
	Query string `json:"query"`
	// ContextUsed is the formatted context passed to the generator.
	ContextUsed string `json:"context_used"`
	// Method records how Answer was produced. Empty when no generation ran.
	Method generator.Method `json:"method,omitempty"`
}

// Observer receives a callback after every query. Used for metrics.
type Observer interface {
	ObserveQuery(outcome string, method generator.Method, d time.Duration)
}

// Query outcomes reported to the Observer.
const (
	OutcomeAnswered  = "answered"
	OutcomeNoResults = "no_results"
	OutcomeError     = "error"
)

// Engine answers questions over an indexed corpus.
type Engine struct {
	// retriever finds the chunks relevant to a query.
	retriever rag.IndexRetriever

	// store is used directly for id lookups in SimilarDocuments.
	store rag.VectorStore

	// generator turns context into an answer.
	generator generator.Generator

	// observer is optional.
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers o to be notified of every query.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// New wires an Engine.
func New(retriever rag.IndexRetriever, store rag.VectorStore, gen generator.Generator, opts ...Option) (*Engine, error) {
	if retriever == nil {
		return nil, fmt.Errorf("engine: retriever must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: store must not be nil")
	}
	if gen == nil {
		return nil, fmt.Errorf("engine: generator must not be nil")
	}
	e := &Engine{retriever: retriever, store: store, generator: gen}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// DefaultTopK is the result count used when callers pass topK<=0.
func (e *Engine) DefaultTopK() int { return e.retriever.DefaultTopK() }

// Index is the index the engine searches.
func (e *Engine) Index() string { return e.retriever.Index() }

// Query retrieves the chunks most relevant to text and generates an answer.
// An empty retrieval is not an error; retrieval failures are.
func (e *Engine) Query(ctx context.Context, text string, topK int, filters rag.Filters) (*Response, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	results, err := e.retriever.Retrieve(ctx, text, topK, filters)
	if err != nil {
		e.observe(OutcomeError, "", start)
		return nil, fmt.Errorf("engine: query: %w", err)
	}
	if len(results) == 0 {
		log.Info("engine: no results", slog.Int("query_len", len(text)))
		e.observe(OutcomeNoResults, "", start)
		return &Response{
			Answer:  NoResultsAnswer,
			Sources: []rag.SearchResult{},
			Query:   text,
		}, nil
	}

	contextText := rag.FormatContext(results)
	ans := e.generator.Generate(ctx, text, contextText)
	if ans.FallbackErr != nil {
		log.Warn("engine: generation fell back to extraction", slog.Any("error", ans.FallbackErr))
	}

	e.observe(OutcomeAnswered, ans.Method, start)
	log.Info("engine: query answered",
		slog.Int("sources", len(results)),
		slog.String("method", string(ans.Method)),
		slog.Int("answer_len", len(ans.Text)),
		slog.Duration("duration", time.Since(start)),
	)

	return &Response{
		Answer:      ans.Text,
		Sources:     results,
		Query:       text,
		ContextUsed: contextText,
		Method:      ans.Method,
	}, nil
}

// BatchQuery answers each query in order with default settings. A failing
// query yields an error response in its slot and does not affect the rest.
func (e *Engine) BatchQuery(ctx context.Context, queries []string) []*Response {
	out := make([]*Response, 0, len(queries))
	for _, q := range queries {
		resp, err := e.Query(ctx, q, 0, nil)
		if err != nil {
			logging.FromContext(ctx).Error("engine: batch query failed",
				slog.String("query", q), slog.Any("error", err))
			resp = &Response{
				Answer:  fmt.Sprintf("Error processing query: %v", err),
				Sources: []rag.SearchResult{},
				Query:   q,
			}
		}
		out = append(out, resp)
	}
	return out
}

// SimilarDocuments returns up to topK stored chunks nearest to the chunk
// with the given id, excluding the chunk itself. An unknown id yields an
// empty result.
func (e *Engine) SimilarDocuments(ctx context.Context, id string, topK int) ([]rag.SearchResult, error) {
	if topK <= 0 {
		topK = e.DefaultTopK()
	}

	ref, err := e.store.GetByID(ctx, e.Index(), id)
	if err != nil {
		return nil, fmt.Errorf("engine: similar: lookup %q: %w", id, err)
	}
	if ref == nil || len(ref.Vector) == 0 {
		logging.FromContext(ctx).Warn("engine: reference document not found", slog.String("id", id))
		return []rag.SearchResult{}, nil
	}

	results, err := e.store.Search(ctx, e.Index(), ref.Vector, topK+1, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: similar: search: %w", err)
	}

	out := make([]rag.SearchResult, 0, topK)
	for _, r := range results {
		if r.ID == id {
			continue
		}
		out = append(out, r)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// HybridSearch combines semantic retrieval with a keyword filter. Without a
// keyword it is a plain top-k retrieval. With one, 2×topK semantic
// candidates are fetched and only those whose text contains the keyword
// (case-insensitively) are kept, in rank order, up to topK. The candidate
// window is not widened further, so fewer than topK results may return.
func (e *Engine) HybridSearch(ctx context.Context, query, keyword string, topK int) ([]rag.SearchResult, error) {
	if topK <= 0 {
		topK = e.DefaultTopK()
	}

	if keyword == "" {
		results, err := e.retriever.Retrieve(ctx, query, topK, nil)
		if err != nil {
			return nil, fmt.Errorf("engine: hybrid search: %w", err)
		}
		return truncate(results, topK), nil
	}

	candidates, err := e.retriever.Retrieve(ctx, query, topK*hybridWindowFactor, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: hybrid search: %w", err)
	}

	needle := strings.ToLower(keyword)
	out := make([]rag.SearchResult, 0, topK)
	for _, r := range candidates {
		if strings.Contains(strings.ToLower(r.Metadata.Text()), needle) {
			out = append(out, r)
			if len(out) == topK {
				break
			}
		}
	}
	return out, nil
}

// Stats reports the statistics of the engine's index.
func (e *Engine) Stats(ctx context.Context) (rag.IndexStats, error) {
	stats, err := e.store.Stats(ctx, e.Index())
	if err != nil {
		return rag.IndexStats{}, fmt.Errorf("engine: stats: %w", err)
	}
	return stats, nil
}

func (e *Engine) observe(outcome string, method generator.Method, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveQuery(outcome, method, time.Since(start))
	}
}

func truncate(results []rag.SearchResult, n int) []rag.SearchResult {
	if len(results) > n {
		return results[:n]
	}
	return results
}
