package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/54b3r/docqa-go/internal/ledger"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/rag/ragtest"
)

type pipelineFixture struct {
	pipeline *Pipeline
	store    *ragtest.MemoryStore
	embedder *ragtest.HashEmbedder
	ledger   *ledger.SQLiteLedger
}

func newPipelineFixture(t *testing.T, batchSize int, withLedger bool) *pipelineFixture {
	t.Helper()
	ctx := context.Background()

	store := ragtest.NewMemoryStore()
	if err := store.CreateIndex(ctx, rag.IndexSpec{Name: "docs", Dimension: 16, Metric: rag.MetricCosine}); err != nil {
		t.Fatal(err)
	}
	emb := &ragtest.HashEmbedder{Dim: 16}

	f := &pipelineFixture{store: store, embedder: emb}
	var led ledger.Ledger
	if withLedger {
		l, err := ledger.Open(":memory:")
		if err != nil {
			t.Fatalf("open ledger: %v", err)
		}
		t.Cleanup(func() { _ = l.Close() })
		f.ledger = l
		led = l
	}

	p, err := NewPipeline(newTestProcessor(t, 10, 0), emb, store, led, &Config{Index: "docs", BatchSize: batchSize})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	f.pipeline = p
	return f
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	proc := newTestProcessor(t, 10, 0)
	emb := &ragtest.HashEmbedder{}
	store := ragtest.NewMemoryStore()

	if _, err := NewPipeline(nil, emb, store, nil, &Config{Index: "docs"}); err == nil {
		t.Error("expected error for nil processor")
	}
	if _, err := NewPipeline(proc, nil, store, nil, &Config{Index: "docs"}); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewPipeline(proc, emb, nil, nil, &Config{Index: "docs"}); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewPipeline(proc, emb, store, nil, &Config{}); err == nil {
		t.Error("expected error for empty index")
	}
	p, err := NewPipeline(proc, emb, store, nil, &Config{Index: "docs"})
	if err != nil {
		t.Fatal(err)
	}
	if p.cfg.BatchSize != DefaultBatchSize {
		t.Errorf("batch size: got %d, want %d", p.cfg.BatchSize, DefaultBatchSize)
	}
}

func TestIngestFile_BatchesAndInserts(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, 2, false)

	// 50 runes with size 10 and no boundaries → 5 chunks → 3 groups.
	path := writeFile(t, t.TempDir(), "doc.txt", strings.Repeat("abcdefghij", 5))
	res := f.pipeline.IngestFile(context.Background(), path)

	if res.Err != nil {
		t.Fatalf("ingest: %v", res.Err)
	}
	if res.Chunks != 5 || res.Inserted != 5 || res.Failed != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if f.store.Inserts != 3 {
		t.Errorf("want 3 insert calls, got %d", f.store.Inserts)
	}
	if got := len(f.store.IDs("docs")); got != 5 {
		t.Errorf("want 5 stored vectors, got %d", got)
	}
}

func TestIngestFile_FailedGroupDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, 2, false)

	calls := 0
	f.store.InsertErr = func([]string) error {
		calls++
		if calls == 2 {
			return ragtest.ErrBackend
		}
		return nil
	}

	path := writeFile(t, t.TempDir(), "doc.txt", strings.Repeat("abcdefghij", 5))
	res := f.pipeline.IngestFile(context.Background(), path)

	if !errors.Is(res.Err, ragtest.ErrBackend) {
		t.Fatalf("want ErrBackend, got %v", res.Err)
	}
	if res.Inserted != 3 || res.Failed != 2 {
		t.Errorf("want 3 inserted / 2 failed, got %+v", res)
	}
	if calls != 3 {
		t.Errorf("want all 3 groups attempted, got %d", calls)
	}
}

func TestIngestDirectory_Summary(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, 100, false)

	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "b.txt", "bravo charlie delta")
	writeFile(t, dir, filepath.Join("nested", "c.md"), "# echo")
	writeFile(t, dir, "ignored.png", "x")
	broken := writeFile(t, dir, "z.txt", "zulu")
	if err := os.Chmod(broken, 0o000); err != nil {
		t.Fatal(err)
	}
	if os.Geteuid() == 0 {
		// root can read mode 000 files; fail the embedder for this file instead.
		f.store.InsertErr = func(ids []string) error {
			if strings.HasPrefix(ids[0], "z_") {
				return ragtest.ErrBackend
			}
			return nil
		}
	}

	var seen []string
	sum, err := f.pipeline.IngestDirectory(context.Background(), dir, func(r FileResult) {
		seen = append(seen, filepath.Base(r.Path))
	})
	if err != nil {
		t.Fatalf("ingest dir: %v", err)
	}

	if got := strings.Join(seen, ","); got != "a.txt,b.txt,c.md,z.txt" {
		t.Errorf("progress order: %s", got)
	}
	if sum.FilesSucceeded != 3 || sum.FilesFailed != 1 || sum.FilesSkipped != 0 {
		t.Errorf("file counts: %+v", sum)
	}
	// a.txt:1, b.txt: "bravo char"/"lie delta" = 2, c.md:1
	if sum.ChunksInserted != 4 {
		t.Errorf("chunks inserted: got %d, want 4", sum.ChunksInserted)
	}
	if len(sum.Files) != 4 {
		t.Errorf("want 4 file results, got %d", len(sum.Files))
	}
}

func TestIngestFile_LedgerSkipsUnchangedAndRemovesStale(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, 100, true)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "doc.txt", "0123456789abcdefghij")
	first := f.pipeline.IngestFile(ctx, path)
	if first.Err != nil || first.Inserted != 2 {
		t.Fatalf("first ingest: %+v", first)
	}

	again := f.pipeline.IngestFile(ctx, path)
	if !again.Skipped || again.Inserted != 0 {
		t.Errorf("unchanged file should be skipped: %+v", again)
	}

	if err := os.WriteFile(path, []byte("0123456789"), 0o600); err != nil {
		t.Fatal(err)
	}
	changed := f.pipeline.IngestFile(ctx, path)
	if changed.Err != nil || changed.Inserted != 1 || changed.Removed != 1 {
		t.Errorf("changed file: %+v", changed)
	}
	ids := f.store.IDs("docs")
	if len(ids) != 1 || ids[0] != ChunkID("doc", 0, "0123456789") {
		t.Errorf("stored ids after change: %v", ids)
	}

	entry, err := f.ledger.Lookup(ctx, "docs", path)
	if err != nil || entry == nil || len(entry.ChunkIDs) != 1 {
		t.Fatalf("ledger entry: %+v, %v", entry, err)
	}
}

func TestIngestFile_KeepsChunksOwnedBySameNamedFile(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, 100, true)
	ctx := context.Background()

	root := t.TempDir()
	a := writeFile(t, filepath.Join(root, "a"), "notes.txt", "0123456789abcdefghij")
	b := writeFile(t, filepath.Join(root, "b"), "notes.txt", "0123456789abcdefghij")
	for _, p := range []string{a, b} {
		if r := f.pipeline.IngestFile(ctx, p); r.Err != nil {
			t.Fatalf("ingest %s: %v", p, r.Err)
		}
	}
	shared := ChunkID("notes", 1, "abcdefghij")

	if err := os.WriteFile(a, []byte("0123456789"), 0o600); err != nil {
		t.Fatal(err)
	}
	changed := f.pipeline.IngestFile(ctx, a)
	if changed.Err != nil || changed.Removed != 0 {
		t.Errorf("chunk still owned by %s must not be removed: %+v", b, changed)
	}
	if !slices.Contains(f.store.IDs("docs"), shared) {
		t.Errorf("shared chunk %s was deleted: %v", shared, f.store.IDs("docs"))
	}

	n, err := f.pipeline.Forget(ctx, a)
	if err != nil || n != 0 {
		t.Errorf("forget of fully shared file: %d, %v", n, err)
	}
	if got := len(f.store.IDs("docs")); got != 2 {
		t.Errorf("want both chunks of %s kept, store has %d", b, got)
	}
}

func TestIngestFile_ForceReingests(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, 100, true)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "doc.txt", "hello")
	_ = f.pipeline.IngestFile(ctx, path)
	f.pipeline.cfg.Force = true
	res := f.pipeline.IngestFile(ctx, path)
	if res.Skipped || res.Inserted != 1 {
		t.Errorf("forced ingest: %+v", res)
	}
}

func TestIngestFile_PartialFailureNotRecorded(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, 100, true)
	ctx := context.Background()

	f.embedder.Err = ragtest.ErrBackend
	path := writeFile(t, t.TempDir(), "doc.txt", "hello")
	res := f.pipeline.IngestFile(ctx, path)
	if res.Err == nil || res.Failed != 1 {
		t.Fatalf("want failure, got %+v", res)
	}
	entry, err := f.ledger.Lookup(ctx, "docs", path)
	if err != nil || entry != nil {
		t.Errorf("failed file must not be recorded: %+v, %v", entry, err)
	}
}

func TestForget(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, 100, true)
	ctx := context.Background()

	path := writeFile(t, t.TempDir(), "doc.txt", "0123456789abcdefghij")
	_ = f.pipeline.IngestFile(ctx, path)

	n, err := f.pipeline.Forget(ctx, path)
	if err != nil {
		t.Fatalf("forget: %v", err)
	}
	if n != 2 || len(f.store.IDs("docs")) != 0 {
		t.Errorf("forget removed %d, store has %v", n, f.store.IDs("docs"))
	}
	if n, err := f.pipeline.Forget(ctx, path); err != nil || n != 0 {
		t.Errorf("second forget: %d, %v", n, err)
	}
}

func TestForget_NoLedger(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t, 100, false)

	if _, err := f.pipeline.Forget(context.Background(), "x.txt"); !errors.Is(err, ErrNoLedger) {
		t.Errorf("want ErrNoLedger, got %v", err)
	}
}
