package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds a single query, batch or search request.
	QueryTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// QueryBudget limits POST /api/query per client IP.
	// Zero fields default to 10 requests/second with a burst of 20.
	QueryBudget Budget
	// BatchBudget limits batch questions per client IP; a batch of N costs N.
	// Zero fields default to 2 questions/second with a burst of one full batch.
	BatchBudget Budget
	// SearchBudget limits search and similar-document requests per client IP.
	// Zero fields default to 20 requests/second with a burst of 40.
	SearchBudget Budget
	// StoreBackend names the vector store in readiness and health replies.
	StoreBackend string
	// Metrics receives request and query metrics. If nil, a fresh set is
	// registered against MetricsRegistry.
	Metrics *Metrics
	// MetricsRegistry is where a default Metrics is registered.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// queryEngine is the subset of *engine.Engine the handlers call.
// Tests inject a fake.
type queryEngine interface {
	Query(ctx context.Context, text string, topK int, filters rag.Filters) (*engine.Response, error)
	BatchQuery(ctx context.Context, queries []string) []*engine.Response
	HybridSearch(ctx context.Context, query, keyword string, topK int) ([]rag.SearchResult, error)
	SimilarDocuments(ctx context.Context, id string, topK int) ([]rag.SearchResult, error)
	Stats(ctx context.Context) (rag.IndexStats, error)
	Index() string
}

// Server exposes the query engine over HTTP.
type Server struct {
	// engine answers every query, search and stats request.
	engine queryEngine
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *Metrics
	// limiter enforces the per-client route budgets. Nil disables limiting.
	limiter *rateLimiter
	// stopRL stops the rate limiter's background sweeper on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the natural language question.
	Query string `json:"query"`
	// TopK overrides the default result count when positive.
	TopK int `json:"top_k,omitempty"`
	// Filters restricts retrieval to chunks whose metadata matches exactly.
	Filters rag.Filters `json:"filters,omitempty"`
}

// batchRequest is the JSON body for POST /api/query/batch.
type batchRequest struct {
	Queries []string `json:"queries"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query drives the semantic ranking.
	Query string `json:"query"`
	// Keyword, when set, keeps only results whose text contains it.
	Keyword string `json:"keyword,omitempty"`
	// TopK overrides the default result count when positive.
	TopK int `json:"top_k,omitempty"`
}

// resultsResponse wraps search and similarity results.
type resultsResponse struct {
	Results []rag.SearchResult `json:"results"`
	Count   int                `json:"count"`
}

// errorResponse is the JSON body of every 4xx/5xx reply.
type errorResponse struct {
	Error string `json:"error"`
}
