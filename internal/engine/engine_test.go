package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/generator"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/rag/ragtest"
)

// selectiveEmbedder fails for one specific text and otherwise delegates to
// a HashEmbedder.
type selectiveEmbedder struct {
	ragtest.HashEmbedder
	// failOn is the text that triggers errEmbed.
	failOn string
}

var errEmbed = errors.New("embedding service unavailable")

func (s *selectiveEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == s.failOn {
		return nil, errEmbed
	}
	return s.HashEmbedder.Embed(ctx, text)
}

// recordingObserver captures ObserveQuery calls.
type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	methods  []generator.Method
}

func (r *recordingObserver) ObserveQuery(outcome string, method generator.Method, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	r.methods = append(r.methods, method)
}

type fixture struct {
	engine   *Engine
	store    *ragtest.MemoryStore
	embedder *selectiveEmbedder
	observer *recordingObserver
}

func newFixture(t *testing.T, texts ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	emb := &selectiveEmbedder{HashEmbedder: ragtest.HashEmbedder{Dim: 64}, failOn: "boom"}
	store := ragtest.NewMemoryStore()
	if err := store.CreateIndex(ctx, rag.IndexSpec{Name: "docs", Dimension: 64, Metric: rag.MetricCosine}); err != nil {
		t.Fatal(err)
	}
	if len(texts) > 0 {
		vecs, _ := emb.EmbedBatch(ctx, texts)
		ids := make([]string, len(texts))
		md := make([]rag.Metadata, len(texts))
		for i, text := range texts {
			ids[i] = fmt.Sprintf("doc_chunk%d", i)
			md[i] = rag.Metadata{"text": text, "source": fmt.Sprintf("doc%d.txt", i)}
		}
		if err := store.Insert(ctx, "docs", vecs, ids, md); err != nil {
			t.Fatal(err)
		}
	}

	retriever, err := rag.NewRetriever(emb, store, "docs", 5)
	if err != nil {
		t.Fatal(err)
	}
	obs := &recordingObserver{}
	e, err := New(retriever, store, generator.NewExtractive(), WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{engine: e, store: store, embedder: emb, observer: obs}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := New(nil, f.store, generator.NewExtractive()); err == nil {
		t.Error("expected error for nil retriever")
	}
	if _, err := New(f.engine.retriever, nil, generator.NewExtractive()); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := New(f.engine.retriever, f.store, nil); err == nil {
		t.Error("expected error for nil generator")
	}
}

func TestQuery_NoResults(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	resp, err := f.engine.Query(context.Background(), "anything at all", 0, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Answer != NoResultsAnswer {
		t.Errorf("answer: got %q", resp.Answer)
	}
	if resp.Sources == nil || len(resp.Sources) != 0 || resp.ContextUsed != "" || resp.Query != "anything at all" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(f.observer.outcomes) != 1 || f.observer.outcomes[0] != OutcomeNoResults {
		t.Errorf("observer: %v", f.observer.outcomes)
	}
}

func TestQuery_Answered(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "go channels carry values between goroutines", "bread needs flour and water")

	resp, err := f.engine.Query(context.Background(), "go channels", 1, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].ID != "doc_chunk0" {
		t.Fatalf("sources: %+v", resp.Sources)
	}
	wantContext := rag.FormatContext(resp.Sources)
	if resp.ContextUsed != wantContext {
		t.Errorf("context: got %q, want %q", resp.ContextUsed, wantContext)
	}
	if resp.Answer != "go channels carry values between goroutines" {
		t.Errorf("answer: got %q", resp.Answer)
	}
	if resp.Method != generator.MethodExtractive {
		t.Errorf("method: got %q", resp.Method)
	}
	if f.observer.outcomes[0] != OutcomeAnswered || f.observer.methods[0] != generator.MethodExtractive {
		t.Errorf("observer: %v %v", f.observer.outcomes, f.observer.methods)
	}
}

func TestQuery_RetrievalErrorPropagates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alpha")

	if _, err := f.engine.Query(context.Background(), "boom", 0, nil); !errors.Is(err, errEmbed) {
		t.Errorf("want errEmbed, got %v", err)
	}
	if f.observer.outcomes[0] != OutcomeError {
		t.Errorf("observer: %v", f.observer.outcomes)
	}
}

func TestBatchQuery_IsolatesFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "alpha beta", "gamma delta")

	resps := f.engine.BatchQuery(context.Background(), []string{"alpha", "boom", "gamma"})
	if len(resps) != 3 {
		t.Fatalf("want 3 responses, got %d", len(resps))
	}
	for i, want := range []string{"alpha", "boom", "gamma"} {
		if resps[i].Query != want {
			t.Errorf("response %d query: got %q, want %q", i, resps[i].Query, want)
		}
	}
	if !strings.HasPrefix(resps[1].Answer, "Error processing query: ") || !strings.Contains(resps[1].Answer, errEmbed.Error()) {
		t.Errorf("failed slot answer: %q", resps[1].Answer)
	}
	if len(resps[1].Sources) != 0 || resps[1].ContextUsed != "" {
		t.Errorf("failed slot must have no sources/context: %+v", resps[1])
	}
	if len(resps[0].Sources) == 0 || len(resps[2].Sources) == 0 {
		t.Error("successful queries must keep their sources")
	}
}

func TestBatchQuery_Empty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if resps := f.engine.BatchQuery(context.Background(), nil); len(resps) != 0 {
		t.Errorf("want no responses, got %d", len(resps))
	}
}

func TestSimilarDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := ragtest.NewMemoryStore()
	_ = store.CreateIndex(ctx, rag.IndexSpec{Name: "docs", Dimension: 3})
	vecs := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0.8, 0.2, 0}, {0, 1, 0}, {0, 0, 1}}
	ids := []string{"ref", "near1", "near2", "far1", "far2"}
	if err := store.Insert(ctx, "docs", vecs, ids, nil); err != nil {
		t.Fatal(err)
	}
	retriever, _ := rag.NewRetriever(&ragtest.HashEmbedder{Dim: 3}, store, "docs", 5)
	e, _ := New(retriever, store, generator.NewExtractive())

	got, err := e.SimilarDocuments(ctx, "ref", 2)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(got) != 2 || got[0].ID != "near1" || got[1].ID != "near2" {
		t.Errorf("unexpected results: %+v", got)
	}
	if last := store.Searches[len(store.Searches)-1]; last != 3 {
		t.Errorf("want search with topK+1=3, got %d", last)
	}

	defaulted, err := e.SimilarDocuments(ctx, "ref", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(defaulted) != 4 {
		t.Errorf("default topK: want all 4 others, got %d", len(defaulted))
	}
	for _, r := range defaulted {
		if r.ID == "ref" {
			t.Error("reference document must be excluded")
		}
	}

	missing, err := e.SimilarDocuments(ctx, "nope", 2)
	if err != nil || missing == nil || len(missing) != 0 {
		t.Errorf("unknown id: want empty, got %+v, %v", missing, err)
	}
}

func TestHybridSearch_KeywordFilter(t *testing.T) {
	t.Parallel()

	texts := []string{
		"deep learning with Neural networks",
		"gardening in spring",
		"cooking pasta at home",
		"NEURAL architecture search",
		"history of rome",
		"learning to paint",
		"networks of roads",
		"a neural approach to translation",
		"sailing basics",
		"mountain hiking guide",
	}
	f := newFixture(t, texts...)
	ctx := context.Background()

	semantic, err := f.engine.retriever.Retrieve(ctx, "neural networks learning", 10, nil)
	if err != nil || len(semantic) != 10 {
		t.Fatalf("semantic baseline: %d results, %v", len(semantic), err)
	}
	var want []string
	for _, r := range semantic {
		if strings.Contains(strings.ToLower(r.Metadata.Text()), "neural") {
			want = append(want, r.ID)
		}
	}

	got, err := f.engine.HybridSearch(ctx, "neural networks learning", "neural", 5)
	if err != nil {
		t.Fatalf("hybrid: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 keyword matches, got %d", len(got))
	}
	for i := range got {
		if got[i].ID != want[i] {
			t.Errorf("result %d: got %s, want %s (rank order must be preserved)", i, got[i].ID, want[i])
		}
	}
	if last := f.store.Searches[len(f.store.Searches)-1]; last != 10 {
		t.Errorf("want candidate window 2*5=10, got %d", last)
	}
}

func TestHybridSearch_NoKeyword(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "a", "b", "c", "d")

	got, err := f.engine.HybridSearch(context.Background(), "a", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("want plain top-2, got %d", len(got))
	}
	if last := f.store.Searches[len(f.store.Searches)-1]; last != 2 {
		t.Errorf("no keyword should search with topK, got %d", last)
	}
}

func TestHybridSearch_BlankKeywordStillFilters(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "two words", "single", "more than two", "x")

	got, err := f.engine.HybridSearch(context.Background(), "words", " ", 2)
	if err != nil {
		t.Fatal(err)
	}
	if last := f.store.Searches[len(f.store.Searches)-1]; last != 2*hybridWindowFactor {
		t.Errorf("a space keyword should use the hybrid window, got search size %d", last)
	}
	for _, r := range got {
		if !strings.Contains(r.Metadata.Text(), " ") {
			t.Errorf("result %q does not contain the keyword", r.Metadata.Text())
		}
	}
}

// stubRetriever is an IndexRetriever with canned results.
type stubRetriever struct {
	results []rag.SearchResult
	gotTopK int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, topK int, _ rag.Filters) ([]rag.SearchResult, error) {
	s.gotTopK = topK
	return s.results, nil
}

func (s *stubRetriever) Index() string    { return "stub" }
func (s *stubRetriever) DefaultTopK() int { return 3 }

func TestEngine_AcceptsAnyIndexRetriever(t *testing.T) {
	t.Parallel()

	r := &stubRetriever{results: []rag.SearchResult{
		{ID: "a", Score: 0.9, Metadata: rag.Metadata{"text": "stub answer", "source": "s.md"}},
	}}
	e, err := New(r, ragtest.NewMemoryStore(), generator.NewExtractive())
	if err != nil {
		t.Fatal(err)
	}
	if e.Index() != "stub" || e.DefaultTopK() != 3 {
		t.Errorf("accessors: index=%q topK=%d", e.Index(), e.DefaultTopK())
	}

	resp, err := e.Query(context.Background(), "q", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "stub answer" || len(resp.Sources) != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHybridSearch_TruncatesToTopK(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "neural a", "neural b", "neural c", "neural d")

	got, err := f.engine.HybridSearch(context.Background(), "neural", "NEURAL", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("want 2, got %d", len(got))
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "a", "b")

	stats, err := f.engine.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalVectors != 2 || stats.Name != "docs" {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
