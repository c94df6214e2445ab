package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Processor turns documents into chunks with metadata. It performs no I/O
// beyond reading source files.
type Processor struct {
	chunker *Chunker
}

// NewProcessor returns a Processor that splits with chunker.
func NewProcessor(chunker *Chunker) (*Processor, error) {
	if chunker == nil {
		return nil, fmt.Errorf("ingestion: chunker must not be nil")
	}
	return &Processor{chunker: chunker}, nil
}

// ProcessText chunks text and attaches metadata for sourcePath. Inferred
// metadata is applied first and extra overrides it.
func (p *Processor) ProcessText(text, sourcePath string, extra rag.Metadata) []rag.Chunk {
	parts := p.chunker.Split(text)
	if len(parts) == 0 {
		return nil
	}

	source := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(source, filepath.Ext(source))
	inferred := InferMetadata(sourcePath).Metadata()

	chunks := make([]rag.Chunk, 0, len(parts))
	for i, part := range parts {
		md := rag.Metadata{
			"source":       source,
			"source_path":  sourcePath,
			"chunk_index":  i,
			"total_chunks": len(parts),
			"text":         part,
			"char_count":   utf8.RuneCountInString(part),
		}
		for k, v := range inferred {
			md[k] = v
		}
		for k, v := range extra {
			md[k] = v
		}
		chunks = append(chunks, rag.Chunk{
			ID:       ChunkID(stem, i, part),
			Text:     part,
			Metadata: md,
		})
	}
	return chunks
}

// ProcessFile loads path and chunks its content.
func (p *Processor) ProcessFile(path string, extra rag.Metadata) ([]rag.Chunk, error) {
	text, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return p.ProcessText(text, path, extra), nil
}

// FileChunks is the outcome of processing one file in a directory.
type FileChunks struct {
	Path   string
	Chunks []rag.Chunk
	Err    error
}

// ProcessDirectory processes every supported file under dir in lexical
// order. A failing file is reported in its FileChunks and does not stop the
// walk.
func (p *Processor) ProcessDirectory(ctx context.Context, dir string, recursive bool, extra rag.Metadata) ([]FileChunks, error) {
	files, err := CollectFiles(dir, recursive)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	out := make([]FileChunks, 0, len(files))
	for _, path := range files {
		chunks, err := p.ProcessFile(path, extra)
		if err != nil {
			log.Warn("ingestion: failed to process file", slog.String("path", path), slog.Any("error", err))
		}
		out = append(out, FileChunks{Path: path, Chunks: chunks, Err: err})
	}
	return out, nil
}

// CollectFiles returns the supported files under dir, sorted.
func CollectFiles(dir string, recursive bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if IsSupported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
