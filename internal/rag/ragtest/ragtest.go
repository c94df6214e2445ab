// Package ragtest provides in-memory fakes of the rag ports for tests in
// other packages. Nothing here talks to a network.
package ragtest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/54b3r/docqa-go/internal/rag"
)

// HashEmbedder is a deterministic bag-of-words embedder. Texts sharing words
// land close together, which is enough to exercise ranking.
type HashEmbedder struct {
	// Dim is the vector size. Defaults to 32.
	Dim int
	// Err, when set, is returned by every call.
	Err error
	// Calls counts texts embedded.
	Calls int
}

// Embed returns the embedding of text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds each text independently.
func (e *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	dim := e.Dim
	if dim == 0 {
		dim = 32
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		e.Calls++
		v := make([]float32, dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%uint32(dim)] += 1 //nolint:gosec // dim is small and positive
		}
		out[i] = v
	}
	return out, nil
}

type entry struct {
	vector   []float32
	metadata rag.Metadata
	seq      int
}

type index struct {
	spec    rag.IndexSpec
	entries map[string]entry
	seq     int
}

// MemoryStore is a brute-force cosine VectorStore.
type MemoryStore struct {
	mu      sync.Mutex
	indices map[string]*index

	// SearchErr, when set, is returned by Search.
	SearchErr error
	// InsertErr, when set, is consulted before every Insert; a non-nil
	// result fails that call.
	InsertErr func(ids []string) error
	// Inserts counts successful Insert calls.
	Inserts int
	// Searches records the topK of every Search call.
	Searches []int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{indices: map[string]*index{}}
}

// CreateIndex creates an empty index.
func (s *MemoryStore) CreateIndex(_ context.Context, spec rag.IndexSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[spec.Name]; ok {
		return rag.ErrIndexExists
	}
	s.indices[spec.Name] = &index{spec: spec, entries: map[string]entry{}}
	return nil
}

// ListIndices returns sorted index names.
func (s *MemoryStore) ListIndices(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.indices))
	for n := range s.indices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteIndex removes an index.
func (s *MemoryStore) DeleteIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indices, name)
	return nil
}

// Insert upserts entries.
func (s *MemoryStore) Insert(_ context.Context, name string, vectors [][]float32, ids []string, metadata []rag.Metadata) error {
	if err := rag.ValidateInsert(vectors, ids, metadata); err != nil {
		return err
	}
	if s.InsertErr != nil {
		if err := s.InsertErr(ids); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.index(name)
	if err != nil {
		return err
	}
	for i, id := range ids {
		if idx.spec.Dimension > 0 && len(vectors[i]) != idx.spec.Dimension {
			return fmt.Errorf("%w: got %d, want %d", rag.ErrDimensionMismatch, len(vectors[i]), idx.spec.Dimension)
		}
		var md rag.Metadata
		if metadata != nil {
			md = metadata[i].Clone()
		}
		idx.seq++
		idx.entries[id] = entry{vector: vectors[i], metadata: md, seq: idx.seq}
	}
	s.Inserts++
	return nil
}

// Search ranks by cosine similarity, ties broken by insertion order.
func (s *MemoryStore) Search(_ context.Context, name string, vector []float32, topK int, filters rag.Filters) ([]rag.SearchResult, error) {
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Searches = append(s.Searches, topK)
	idx, err := s.index(name)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rag.SearchResult
		seq int
	}
	var all []scored
	for id, e := range idx.entries {
		if !matches(e.metadata, filters) {
			continue
		}
		all = append(all, scored{
			SearchResult: rag.SearchResult{ID: id, Score: cosine(vector, e.vector), Metadata: e.metadata.Clone()},
			seq:          e.seq,
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].seq < all[j].seq
	})
	if len(all) > topK {
		all = all[:topK]
	}
	out := make([]rag.SearchResult, len(all))
	for i, a := range all {
		out[i] = a.SearchResult
	}
	return out, nil
}

// GetByID returns the entry or nil.
func (s *MemoryStore) GetByID(_ context.Context, name, id string) (*rag.StoredVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.index(name)
	if err != nil {
		return nil, err
	}
	e, ok := idx.entries[id]
	if !ok {
		return nil, nil
	}
	return &rag.StoredVector{ID: id, Vector: e.vector, Metadata: e.metadata.Clone()}, nil
}

// DeleteByIDs removes entries.
func (s *MemoryStore) DeleteByIDs(_ context.Context, name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.index(name)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(idx.entries, id)
	}
	return nil
}

// Stats reports the entry count.
func (s *MemoryStore) Stats(_ context.Context, name string) (rag.IndexStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.index(name)
	if err != nil {
		return rag.IndexStats{}, err
	}
	return rag.IndexStats{
		Name:         name,
		TotalVectors: uint64(len(idx.entries)),
		Dimension:    idx.spec.Dimension,
		Metric:       idx.spec.Metric,
	}, nil
}

// IDs returns the sorted ids stored in an index.
func (s *MemoryStore) IDs(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(idx.entries))
	for id := range idx.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) index(name string) (*index, error) {
	idx, ok := s.indices[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, rag.ErrIndexNotFound)
	}
	return idx, nil
}

func matches(md rag.Metadata, filters rag.Filters) bool {
	for k, want := range filters {
		if md.String(k) != (rag.Metadata{k: want}).String(k) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// ErrBackend is a generic collaborator failure for tests.
var ErrBackend = errors.New("ragtest: backend unavailable")
