package ledger

import (
	"context"
	"testing"
	"time"
)

// openTestLedger opens an in-memory SQLiteLedger for use in tests.
func openTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func Test_Ledger_RecordAndLookup(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)
	ctx := context.Background()

	at := time.Unix(1_700_000_000, 0)
	if err := l.Record(ctx, Entry{
		Index:       "docs",
		SourcePath:  "/data/a.txt",
		ContentHash: "abc",
		ChunkIDs:    []string{"a_chunk0_11111111", "a_chunk1_22222222"},
		IngestedAt:  at,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	e, err := l.Lookup(ctx, "docs", "/data/a.txt")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if e == nil {
		t.Fatal("want entry, got nil")
	}
	if e.ContentHash != "abc" || len(e.ChunkIDs) != 2 || e.ChunkIDs[1] != "a_chunk1_22222222" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if !e.IngestedAt.Equal(at) {
		t.Errorf("IngestedAt: got %v, want %v", e.IngestedAt, at)
	}
}

func Test_Ledger_RecordReplaces(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)
	ctx := context.Background()

	for _, hash := range []string{"v1", "v2"} {
		if err := l.Record(ctx, Entry{Index: "docs", SourcePath: "a.md", ContentHash: hash, ChunkIDs: []string{hash}}); err != nil {
			t.Fatalf("record %s: %v", hash, err)
		}
	}

	e, err := l.Lookup(ctx, "docs", "a.md")
	if err != nil || e == nil {
		t.Fatalf("lookup: %+v, %v", e, err)
	}
	if e.ContentHash != "v2" || len(e.ChunkIDs) != 1 || e.ChunkIDs[0] != "v2" {
		t.Errorf("want replaced entry, got %+v", e)
	}
	if e.IngestedAt.IsZero() {
		t.Error("zero IngestedAt should default to now")
	}
}

func Test_Ledger_LookupMissingReturnsNil(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)

	e, err := l.Lookup(context.Background(), "docs", "nope.txt")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if e != nil {
		t.Errorf("want nil, got %+v", e)
	}
}

func Test_Ledger_IndexIsolation(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)
	ctx := context.Background()

	if err := l.Record(ctx, Entry{Index: "x", SourcePath: "f.txt", ContentHash: "hx"}); err != nil {
		t.Fatalf("record x: %v", err)
	}
	if err := l.Record(ctx, Entry{Index: "y", SourcePath: "f.txt", ContentHash: "hy"}); err != nil {
		t.Fatalf("record y: %v", err)
	}

	ex, _ := l.Lookup(ctx, "x", "f.txt")
	ey, _ := l.Lookup(ctx, "y", "f.txt")
	if ex == nil || ex.ContentHash != "hx" {
		t.Errorf("index x isolation failed: got %+v", ex)
	}
	if ey == nil || ey.ContentHash != "hy" {
		t.Errorf("index y isolation failed: got %+v", ey)
	}
}

func Test_Ledger_ListAndDelete(t *testing.T) {
	t.Parallel()
	l := openTestLedger(t)
	ctx := context.Background()

	for _, p := range []string{"c.txt", "a.txt", "b.txt"} {
		if err := l.Record(ctx, Entry{Index: "docs", SourcePath: p, ContentHash: p}); err != nil {
			t.Fatalf("record %s: %v", p, err)
		}
	}
	if err := l.Delete(ctx, "docs", "b.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := l.Delete(ctx, "docs", "never-recorded.txt"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	entries, err := l.List(ctx, "docs")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a.txt", "c.txt"}
	if len(entries) != len(want) {
		t.Fatalf("want %d entries, got %d", len(want), len(entries))
	}
	for i, p := range want {
		if entries[i].SourcePath != p {
			t.Errorf("entry[%d]: want %q, got %q", i, p, entries[i].SourcePath)
		}
	}
}
