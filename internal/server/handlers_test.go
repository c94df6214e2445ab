package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/generator"
	"github.com/54b3r/docqa-go/internal/rag"
)

// fakeEngine is a test double for queryEngine. It records the arguments of
// the last call and returns canned values.
type fakeEngine struct {
	mu sync.Mutex

	queryErr  error
	searchErr error
	statsErr  error
	results   []rag.SearchResult

	gotQuery   string
	gotTopK    int
	gotFilters rag.Filters
	gotKeyword string
	gotID      string
}

func (f *fakeEngine) Query(_ context.Context, text string, topK int, filters rag.Filters) (*engine.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotQuery, f.gotTopK, f.gotFilters = text, topK, filters
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &engine.Response{
		Answer:  "answer to " + text,
		Sources: f.results,
		Query:   text,
		Method:  generator.MethodExtractive,
	}, nil
}

func (f *fakeEngine) BatchQuery(_ context.Context, queries []string) []*engine.Response {
	out := make([]*engine.Response, len(queries))
	for i, q := range queries {
		out[i] = &engine.Response{Answer: fmt.Sprintf("answer %d", i), Query: q, Sources: []rag.SearchResult{}}
	}
	return out
}

func (f *fakeEngine) HybridSearch(_ context.Context, query, keyword string, topK int) ([]rag.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotQuery, f.gotKeyword, f.gotTopK = query, keyword, topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeEngine) SimilarDocuments(_ context.Context, id string, topK int) ([]rag.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotID, f.gotTopK = id, topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeEngine) Index() string { return "docs" }

func (f *fakeEngine) Stats(context.Context) (rag.IndexStats, error) {
	if f.statsErr != nil {
		return rag.IndexStats{}, f.statsErr
	}
	return rag.IndexStats{Name: "docs", TotalVectors: 42, Dimension: 768, Metric: rag.MetricCosine}, nil
}

// newTestServer builds a bare *Server with a fake engine and an isolated
// metrics registry. Handlers are called directly.
func newTestServer() *Server {
	return &Server{
		engine:  &fakeEngine{},
		cfg:     &Config{QueryTimeout: time.Minute},
		log:     slog.Default(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
}

// newRoutedServer builds a fully wired Server so requests go through the mux.
func newRoutedServer(t *testing.T, eng *fakeEngine) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(eng, &Config{
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		QueryBudget:     Budget{Rate: 1000, Burst: 1000},
		BatchBudget:     Budget{Rate: 1000, Burst: 1000},
		SearchBudget:    Budget{Rate: 1000, Burst: 1000},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s.Handler()
}

func sampleResults() []rag.SearchResult {
	return []rag.SearchResult{
		{ID: "guide_chunk0_0a1b2c3d", Score: 0.9, Metadata: rag.Metadata{"text": "alpha", "source": "guide.md"}},
		{ID: "guide_chunk1_4e5f6a7b", Score: 0.7, Metadata: rag.Metadata{"text": "beta", "source": "guide.md"}},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestNew_NilEngine(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, &Config{}); err == nil {
		t.Fatal("expected error for nil engine")
	}
}

func TestHandleQuery(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{results: sampleResults()}
	h := newRoutedServer(t, eng)

	w := do(t, h, http.MethodPost, "/api/query", `{"query":"what is alpha?","top_k":3,"filters":{"source":"guide.md"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}

	var resp engine.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "answer to what is alpha?" || len(resp.Sources) != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Method != generator.MethodExtractive {
		t.Errorf("method: got %q", resp.Method)
	}
	if eng.gotTopK != 3 || eng.gotFilters["source"] != "guide.md" {
		t.Errorf("engine args: topK=%d filters=%v", eng.gotTopK, eng.gotFilters)
	}
}

func TestHandleQuery_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"query":`},
		{name: "empty query", body: `{"query":""}`},
		{name: "blank query", body: `{"query":"   "}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newRoutedServer(t, &fakeEngine{})
			w := do(t, h, http.MethodPost, "/api/query", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var e errorResponse
			if err := json.NewDecoder(w.Body).Decode(&e); err != nil || e.Error == "" {
				t.Errorf("expected error body, got %q (%v)", w.Body.String(), err)
			}
		})
	}
}

func TestHandleQuery_EngineErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "internal", err: errors.New("store down"), want: http.StatusInternalServerError},
		{name: "timeout", err: fmt.Errorf("search: %w", context.DeadlineExceeded), want: http.StatusGatewayTimeout},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newRoutedServer(t, &fakeEngine{queryErr: tc.err})
			w := do(t, h, http.MethodPost, "/api/query", `{"query":"q"}`)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
			if strings.Contains(w.Body.String(), "store down") {
				t.Errorf("internal error leaked to client: %s", w.Body.String())
			}
		})
	}
}

func TestHandleBatch(t *testing.T) {
	t.Parallel()

	h := newRoutedServer(t, &fakeEngine{})
	w := do(t, h, http.MethodPost, "/api/query/batch", `{"queries":["a","b","c"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}

	var resp []engine.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(resp))
	}
	for i, r := range resp {
		if r.Answer != fmt.Sprintf("answer %d", i) {
			t.Errorf("response %d out of order: %q", i, r.Answer)
		}
	}
}

func TestHandleBatch_Limits(t *testing.T) {
	t.Parallel()

	h := newRoutedServer(t, &fakeEngine{})

	if w := do(t, h, http.MethodPost, "/api/query/batch", `{"queries":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty batch: expected 400, got %d", w.Code)
	}

	qs := make([]string, maxBatchQueries+1)
	for i := range qs {
		qs[i] = "q"
	}
	body, _ := json.Marshal(batchRequest{Queries: qs})
	if w := do(t, h, http.MethodPost, "/api/query/batch", string(body)); w.Code != http.StatusBadRequest {
		t.Errorf("oversized batch: expected 400, got %d", w.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{results: sampleResults()}
	h := newRoutedServer(t, eng)

	w := do(t, h, http.MethodPost, "/api/search", `{"query":"networks","keyword":"Neural","top_k":4}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
	var resp resultsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Results) != 2 {
		t.Errorf("count: got %d results %d", resp.Count, len(resp.Results))
	}
	if eng.gotKeyword != "Neural" || eng.gotTopK != 4 || eng.gotQuery != "networks" {
		t.Errorf("engine args: %q %q %d", eng.gotQuery, eng.gotKeyword, eng.gotTopK)
	}
}

func TestHandleSimilar(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{results: sampleResults()}
	h := newRoutedServer(t, eng)

	w := do(t, h, http.MethodGet, "/api/documents/guide_chunk0_0a1b2c3d/similar?top_k=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
	if eng.gotID != "guide_chunk0_0a1b2c3d" || eng.gotTopK != 2 {
		t.Errorf("engine args: id=%q topK=%d", eng.gotID, eng.gotTopK)
	}

	if w := do(t, h, http.MethodGet, "/api/documents/x/similar?top_k=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad top_k: expected 400, got %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	h := newRoutedServer(t, &fakeEngine{})
	w := do(t, h, http.MethodGet, "/api/index/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats rag.IndexStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Name != "docs" || stats.TotalVectors != 42 {
		t.Errorf("stats: %+v", stats)
	}
}

func TestHandleStats_MissingIndex(t *testing.T) {
	t.Parallel()

	h := newRoutedServer(t, &fakeEngine{statsErr: fmt.Errorf("qdrant: %w", rag.ErrIndexNotFound)})
	if w := do(t, h, http.MethodGet, "/api/index/stats", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := newRoutedServer(t, &fakeEngine{})
	if w := do(t, h, http.MethodGet, "/api/query", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}
