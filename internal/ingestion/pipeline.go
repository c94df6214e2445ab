// Package ingestion implements the document ingestion pipeline.
// It loads local documents, chunks their content, embeds each chunk, and
// inserts the results into the vector store, optionally consulting a ledger
// to skip unchanged files and delete chunks that no longer exist.
// This pipeline is invoked by the `docqa ingest` and `docqa watch` commands.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/54b3r/docqa-go/internal/ledger"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// DefaultBatchSize is the number of chunks embedded and inserted together.
const DefaultBatchSize = 100

// ErrNoLedger is returned by operations that need ingestion history when the
// pipeline was built without a ledger.
var ErrNoLedger = errors.New("ingestion: no ledger configured")

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Index is the vector index chunks are written to.
	Index string

	// BatchSize is the number of chunks per embed+insert group.
	// Defaults to DefaultBatchSize if zero.
	BatchSize int

	// Force re-ingests files even when the ledger says they are unchanged.
	Force bool

	// Extra is merged into every chunk's metadata and wins over inferred keys.
	Extra rag.Metadata
}

// Pipeline orchestrates the load → chunk → embed → insert flow for local
// documents.
type Pipeline struct {
	// processor loads and chunks documents.
	processor *Processor

	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// ledger records what was ingested. May be nil.
	ledger ledger.Ledger

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline. led may be nil, in which case every
// file is ingested on every run and nothing is ever deleted.
func NewPipeline(processor *Processor, embedder rag.Embedder, store rag.VectorStore, led ledger.Ledger, cfg *Config) (*Pipeline, error) {
	if processor == nil {
		return nil, fmt.Errorf("ingestion: processor must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil || cfg.Index == "" {
		return nil, fmt.Errorf("ingestion: index name must not be empty")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Pipeline{
		processor: processor,
		embedder:  embedder,
		store:     store,
		ledger:    led,
		cfg:       cfg,
	}, nil
}

// FileResult is the outcome of ingesting a single file.
type FileResult struct {
	// Path is the file that was processed.
	Path string `json:"path"`
	// Chunks is the number of chunks the file produced.
	Chunks int `json:"chunks"`
	// Inserted is the number of chunks written to the store.
	Inserted int `json:"inserted"`
	// Failed is the number of chunks whose group failed to embed or insert.
	Failed int `json:"failed"`
	// Removed is the number of stale chunks deleted from a previous run.
	Removed int `json:"removed"`
	// Skipped is true when the ledger showed the file unchanged.
	Skipped bool `json:"skipped"`
	// Err is set when the file could not be fully ingested.
	Err error `json:"-"`
}

// Summary aggregates FileResults for a run.
type Summary struct {
	FilesSucceeded int           `json:"files_succeeded"`
	FilesFailed    int           `json:"files_failed"`
	FilesSkipped   int           `json:"files_skipped"`
	ChunksInserted int           `json:"chunks_inserted"`
	ChunksFailed   int           `json:"chunks_failed"`
	ChunksRemoved  int           `json:"chunks_removed"`
	Duration       time.Duration `json:"duration"`
	Files          []FileResult  `json:"files"`
}

// Add folds r into the summary.
func (s *Summary) Add(r FileResult) {
	s.Files = append(s.Files, r)
	s.ChunksInserted += r.Inserted
	s.ChunksFailed += r.Failed
	s.ChunksRemoved += r.Removed
	switch {
	case r.Skipped:
		s.FilesSkipped++
	case r.Err != nil:
		s.FilesFailed++
	default:
		s.FilesSucceeded++
	}
}

// IngestDirectory ingests every supported file under dir (recursively) in
// lexical order. A failing file never stops the run. progress, when non-nil,
// is called after each file.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string, progress func(FileResult)) (Summary, error) {
	start := time.Now()
	files, err := CollectFiles(dir, true)
	if err != nil {
		return Summary{}, err
	}

	log := logging.FromContext(ctx)
	log.Info("ingestion: starting directory run", slog.String("dir", dir), slog.Int("files", len(files)))

	var sum Summary
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		r := p.IngestFile(ctx, path)
		sum.Add(r)
		if progress != nil {
			progress(r)
		}
	}
	sum.Duration = time.Since(start)

	log.Info("ingestion: directory run complete",
		slog.Int("files_succeeded", sum.FilesSucceeded),
		slog.Int("files_failed", sum.FilesFailed),
		slog.Int("files_skipped", sum.FilesSkipped),
		slog.Int("chunks_inserted", sum.ChunksInserted),
		slog.Int("chunks_failed", sum.ChunksFailed),
		slog.Int("chunks_removed", sum.ChunksRemoved),
		slog.Duration("duration", sum.Duration),
	)
	return sum, nil
}

// IngestFile loads, chunks, embeds and inserts a single file. Chunks are
// embedded and inserted in groups of BatchSize; a failing group is counted
// and the remaining groups still run.
func (p *Pipeline) IngestFile(ctx context.Context, path string) FileResult {
	log := logging.FromContext(ctx).With(slog.String("path", path))
	res := FileResult{Path: path}

	hash, err := hashFile(path)
	if err != nil {
		res.Err = fmt.Errorf("ingestion: hash %s: %w", path, err)
		log.Error("ingestion: failed to read file", slog.Any("error", err))
		return res
	}

	var prev *ledger.Entry
	if p.ledger != nil {
		prev, err = p.ledger.Lookup(ctx, p.cfg.Index, path)
		if err != nil {
			log.Warn("ingestion: ledger lookup failed, ingesting anyway", slog.Any("error", err))
			prev = nil
		}
		if prev != nil && prev.ContentHash == hash && !p.cfg.Force {
			res.Skipped = true
			log.Debug("ingestion: file unchanged, skipping")
			return res
		}
	}

	chunks, err := p.processor.ProcessFile(path, p.cfg.Extra)
	if err != nil {
		res.Err = err
		log.Error("ingestion: failed to process file", slog.Any("error", err))
		return res
	}
	res.Chunks = len(chunks)
	if len(chunks) == 0 {
		log.Warn("ingestion: no chunks generated")
	}

	var lastErr error
	written := make([]string, 0, len(chunks))
	for lo := 0; lo < len(chunks); lo += p.cfg.BatchSize {
		hi := min(lo+p.cfg.BatchSize, len(chunks))
		ids, err := p.insertGroup(ctx, chunks[lo:hi])
		if err != nil {
			res.Failed += hi - lo
			lastErr = err
			log.Error("ingestion: chunk group failed",
				slog.Int("from", lo), slog.Int("to", hi), slog.Any("error", err))
			continue
		}
		res.Inserted += len(ids)
		written = append(written, ids...)
	}

	if res.Failed > 0 {
		res.Err = fmt.Errorf("ingestion: %d of %d chunks failed for %s: %w", res.Failed, res.Chunks, path, lastErr)
		return res
	}

	if prev != nil {
		res.Removed = p.removeStale(ctx, path, prev.ChunkIDs, written)
	}

	if p.ledger != nil {
		if err := p.ledger.Record(ctx, ledger.Entry{
			Index:       p.cfg.Index,
			SourcePath:  path,
			ContentHash: hash,
			ChunkIDs:    written,
		}); err != nil {
			log.Warn("ingestion: ledger record failed", slog.Any("error", err))
		}
	}

	log.Info("ingestion: file ingested",
		slog.Int("chunks", res.Chunks), slog.Int("removed", res.Removed))
	return res
}

// insertGroup embeds and inserts one group and returns the ids written.
func (p *Pipeline) insertGroup(ctx context.Context, group []rag.Chunk) ([]string, error) {
	texts := make([]string, len(group))
	for i, c := range group {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(group) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d chunks", len(vectors), len(group))
	}

	ids := make([]string, len(group))
	metadata := make([]rag.Metadata, len(group))
	for i := range group {
		group[i].Embedding = vectors[i]
		ids[i] = group[i].ID
		metadata[i] = group[i].Metadata
	}

	if err := p.store.Insert(ctx, p.cfg.Index, vectors, ids, metadata); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	return ids, nil
}

// removeStale deletes ids present in previous but not in current. Ids that
// another file in the ledger still owns are kept: chunk ids only carry the
// file stem, so equal chunks of same-named files share a point. Failures are
// logged; stale chunks only cost retrieval quality.
func (p *Pipeline) removeStale(ctx context.Context, path string, previous, current []string) int {
	log := logging.FromContext(ctx)
	keep := make(map[string]struct{}, len(current))
	for _, id := range current {
		keep[id] = struct{}{}
	}
	var stale []string
	for _, id := range previous {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0
	}
	stale, err := p.unshared(ctx, path, stale)
	if err != nil {
		log.Warn("ingestion: ledger list failed, keeping stale chunks", slog.Any("error", err))
		return 0
	}
	if len(stale) == 0 {
		return 0
	}
	if err := p.store.DeleteByIDs(ctx, p.cfg.Index, stale); err != nil {
		log.Warn("ingestion: failed to delete stale chunks",
			slog.Int("count", len(stale)), slog.Any("error", err))
		return 0
	}
	return len(stale)
}

// unshared filters out ids recorded in the ledger for any file other than
// path.
func (p *Pipeline) unshared(ctx context.Context, path string, ids []string) ([]string, error) {
	entries, err := p.ledger.List(ctx, p.cfg.Index)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]struct{})
	for _, e := range entries {
		if e.SourcePath == path {
			continue
		}
		for _, id := range e.ChunkIDs {
			owned[id] = struct{}{}
		}
	}
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := owned[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Forget deletes every chunk recorded for path and drops its ledger entry.
// Chunks another file still owns are left in place. It returns the number
// of chunks deleted.
func (p *Pipeline) Forget(ctx context.Context, path string) (int, error) {
	if p.ledger == nil {
		return 0, ErrNoLedger
	}
	prev, err := p.ledger.Lookup(ctx, p.cfg.Index, path)
	if err != nil {
		return 0, err
	}
	if prev == nil {
		return 0, nil
	}
	ids, err := p.unshared(ctx, path, prev.ChunkIDs)
	if err != nil {
		return 0, fmt.Errorf("ingestion: forget %s: %w", path, err)
	}
	if len(ids) > 0 {
		if err := p.store.DeleteByIDs(ctx, p.cfg.Index, ids); err != nil {
			return 0, fmt.Errorf("ingestion: forget %s: %w", path, err)
		}
	}
	if err := p.ledger.Delete(ctx, p.cfg.Index, path); err != nil {
		return 0, err
	}
	logging.FromContext(ctx).Info("ingestion: forgot file",
		slog.String("path", path), slog.Int("chunks", len(ids)))
	return len(ids), nil
}

// hashFile returns the hex sha256 of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
