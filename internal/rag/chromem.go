package rag

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"

	"github.com/philippgille/chromem-go"
)

// ChromemStore implements VectorStore on an embedded chromem-go database.
// Indices are chromem collections. Only cosine similarity is available.
// It needs no server, which makes it the default for local use and tests.
type ChromemStore struct {
	db *chromem.DB
}

// NewChromemStore opens a persistent database at path, or an in-memory one
// when path is empty.
func NewChromemStore(path string, compress bool) (*ChromemStore, error) {
	if path == "" {
		return &ChromemStore{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("chromem: open %s: %w", path, err)
	}
	return &ChromemStore{db: db}, nil
}

// errNoEmbedding guards against chromem computing embeddings itself.
var errNoEmbedding = errors.New("chromem: vectors must be supplied by the caller")

func noEmbedding(context.Context, string) ([]float32, error) { return nil, errNoEmbedding }

// CreateIndex creates a collection.
func (s *ChromemStore) CreateIndex(_ context.Context, spec IndexSpec) error {
	if spec.Metric != "" && spec.Metric != MetricCosine {
		return fmt.Errorf("chromem: unsupported metric %q, only cosine is available", spec.Metric)
	}
	if spec.Type != "" && spec.Type != IndexTypeHNSW {
		return fmt.Errorf("chromem: unsupported index type %q", spec.Type)
	}
	if _, ok := s.db.ListCollections()[spec.Name]; ok {
		return fmt.Errorf("chromem: %q: %w", spec.Name, ErrIndexExists)
	}
	if _, err := s.db.CreateCollection(spec.Name, nil, noEmbedding); err != nil {
		return fmt.Errorf("chromem: create collection %q: %w", spec.Name, err)
	}
	return nil
}

// ListIndices returns the sorted collection names.
func (s *ChromemStore) ListIndices(_ context.Context) ([]string, error) {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteIndex drops a collection.
func (s *ChromemStore) DeleteIndex(_ context.Context, name string) error {
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("chromem: delete collection %q: %w", name, err)
	}
	return nil
}

// Insert adds documents with precomputed embeddings. Existing ids are replaced.
func (s *ChromemStore) Insert(ctx context.Context, name string, vectors [][]float32, ids []string, metadata []Metadata) error {
	if err := ValidateInsert(vectors, ids, metadata); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	c, err := s.collection(name)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(ids))
	for i, id := range ids {
		md := metadataAt(metadata, i)
		docs = append(docs, chromem.Document{
			ID:        id,
			Content:   md.Text(),
			Metadata:  stringMetadata(md),
			Embedding: vectors[i],
		})
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: add documents: %w", err)
	}
	return nil
}

// Search queries the collection by embedding. Filters are exact string
// matches on metadata.
func (s *ChromemStore) Search(ctx context.Context, name string, vector []float32, topK int, filters Filters) ([]SearchResult, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	n := c.Count()
	if n == 0 || topK <= 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	var where map[string]string
	if len(filters) > 0 {
		where = make(map[string]string, len(filters))
		for k, v := range filters {
			where[k] = Metadata{k: v}.String(k)
		}
	}

	res, err := c.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	out := make([]SearchResult, 0, len(res))
	for _, r := range res {
		out = append(out, SearchResult{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: fromStringMetadata(r.Metadata, r.Content),
		})
	}
	return out, nil
}

// GetByID returns the stored document, or nil when the id is unknown.
func (s *ChromemStore) GetByID(ctx context.Context, name, id string) (*StoredVector, error) {
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}
	doc, err := c.GetByID(ctx, id)
	if err != nil {
		// chromem reports unknown ids as an error; absence is not a failure here.
		return nil, nil //nolint:nilerr // not-found is modelled as nil
	}
	return &StoredVector{
		ID:       doc.ID,
		Vector:   doc.Embedding,
		Metadata: fromStringMetadata(doc.Metadata, doc.Content),
	}, nil
}

// DeleteByIDs removes documents by id.
func (s *ChromemStore) DeleteByIDs(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c, err := s.collection(name)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem: delete: %w", err)
	}
	return nil
}

// Stats reports the document count.
func (s *ChromemStore) Stats(_ context.Context, name string) (IndexStats, error) {
	c, err := s.collection(name)
	if err != nil {
		return IndexStats{}, err
	}
	return IndexStats{
		Name:         name,
		TotalVectors: uint64(c.Count()), //nolint:gosec // count is never negative
		Metric:       MetricCosine,
	}, nil
}

// Ping always succeeds; the database is in-process.
func (s *ChromemStore) Ping(context.Context) error { return nil }

// Close is a no-op. Persistent databases write through on every change.
func (s *ChromemStore) Close() error { return nil }

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	c := s.db.GetCollection(name, noEmbedding)
	if c == nil {
		return nil, fmt.Errorf("chromem: %q: %w", name, ErrIndexNotFound)
	}
	return c, nil
}

// stringMetadata flattens metadata to the string map chromem stores.
func stringMetadata(md Metadata) map[string]string {
	out := make(map[string]string, len(md))
	for k := range md {
		out[k] = md.String(k)
	}
	return out
}

func fromStringMetadata(m map[string]string, content string) Metadata {
	md := make(Metadata, len(m)+1)
	for k, v := range m {
		md[k] = v
	}
	if _, ok := md["text"]; !ok && content != "" {
		md["text"] = content
	}
	return md
}
