// Package rag defines the retrieval ports used by docqa (embedding and vector
// store) together with the retriever and context formatter built on them.
// Concrete vector store adapters for Qdrant, chromem-go and Postgres/pgvector
// live alongside the ports; the engine only ever sees the interfaces.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrLengthMismatch is returned by Insert when vectors, ids and metadata
	// are not the same length.
	ErrLengthMismatch = errors.New("rag: vectors, ids and metadata must have equal length")

	// ErrIndexExists is returned by CreateIndex when the index already exists.
	ErrIndexExists = errors.New("rag: index already exists")

	// ErrIndexNotFound is returned when an operation targets an unknown index.
	ErrIndexNotFound = errors.New("rag: index not found")

	// ErrDimensionMismatch is returned when a vector does not match the
	// dimension the index was created with.
	ErrDimensionMismatch = errors.New("rag: vector dimension mismatch")
)

// Metric is the distance function an index ranks by.
type Metric string

const (
	// MetricCosine ranks by cosine similarity.
	MetricCosine Metric = "cosine"
	// MetricL2 ranks by (negated) euclidean distance.
	MetricL2 Metric = "l2"
	// MetricInnerProduct ranks by dot product.
	MetricInnerProduct Metric = "ip"
)

// IndexTypeHNSW is the only index structure docqa asks stores to build.
const IndexTypeHNSW = "hnsw"

// Metadata is the payload stored next to every vector. Chunk metadata always
// carries "text" and "source"; everything else is caller-defined.
type Metadata map[string]any

// Text returns the chunk text stored under "text", or "".
func (m Metadata) Text() string { return m.String("text") }

// Source returns the source file name stored under "source", or "".
func (m Metadata) Source() string { return m.String("source") }

// String returns the value under key rendered as a string.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Filters restricts a search to vectors whose metadata equals every entry.
type Filters map[string]any

// Chunk is a bounded piece of a source document ready for embedding.
type Chunk struct {
	// ID is stable for identical content at the same position.
	ID string
	// Text is the trimmed chunk text.
	Text string
	// Metadata carries source, position and a copy of Text.
	Metadata Metadata
	// Embedding is nil until the ingestion pipeline computes it.
	Embedding []float32
}

// SearchResult is a single ranked hit returned by a VectorStore.
type SearchResult struct {
	// ID matches the Chunk ID the vector was inserted with.
	ID string `json:"id"`
	// Score is the similarity, higher is more relevant.
	Score float32 `json:"score"`
	// Metadata is the payload stored with the vector.
	Metadata Metadata `json:"metadata"`
	// Vector is only set when the store returns it.
	Vector []float32 `json:"vector,omitempty"`
}

// StoredVector is a vector fetched by id.
type StoredVector struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// IndexSpec describes an index to create.
type IndexSpec struct {
	Name      string
	Dimension int
	Metric    Metric
	Type      string
}

// IndexStats summarises an index.
type IndexStats struct {
	Name         string `json:"name"`
	TotalVectors uint64 `json:"total_vectors"`
	Dimension    int    `json:"dimension,omitempty"`
	Metric       Metric `json:"metric,omitempty"`
}

// Embedder converts text into dense vectors. The dimension is fixed per
// instance and must match the dimension of the index it feeds.
type Embedder interface {
	// Embed returns the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per input text, aligned by position.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore manages indices of vectors and answers similarity searches.
// Implementations must be safe for concurrent use; the HTTP server shares one
// store across requests.
type VectorStore interface {
	// CreateIndex creates a new index. Returns ErrIndexExists if present.
	CreateIndex(ctx context.Context, spec IndexSpec) error
	// ListIndices returns the names of all indices.
	ListIndices(ctx context.Context) ([]string, error)
	// DeleteIndex drops an index and all of its vectors.
	DeleteIndex(ctx context.Context, name string) error
	// Insert upserts vectors under the given ids. metadata may be nil.
	// Lengths are validated before any I/O.
	Insert(ctx context.Context, name string, vectors [][]float32, ids []string, metadata []Metadata) error
	// Search returns up to topK results ordered best-first.
	Search(ctx context.Context, name string, vector []float32, topK int, filters Filters) ([]SearchResult, error)
	// GetByID returns the stored vector, or nil with a nil error when absent.
	GetByID(ctx context.Context, name, id string) (*StoredVector, error)
	// DeleteByIDs removes vectors by id. Unknown ids are ignored.
	DeleteByIDs(ctx context.Context, name string, ids []string) error
	// Stats reports the vector count of an index.
	Stats(ctx context.Context, name string) (IndexStats, error)
	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error
	// Close releases any held connections.
	Close() error
}

// Retriever returns the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, filters Filters) ([]SearchResult, error)
}

// IndexRetriever is a Retriever bound to one index, with the result count
// used when callers pass topK<=0.
type IndexRetriever interface {
	Retriever
	Index() string
	DefaultTopK() int
}

// ValidateInsert checks the Insert length contract. metadata may be nil.
func ValidateInsert(vectors [][]float32, ids []string, metadata []Metadata) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("%w: %d vectors, %d ids", ErrLengthMismatch, len(vectors), len(ids))
	}
	if metadata != nil && len(metadata) != len(ids) {
		return fmt.Errorf("%w: %d ids, %d metadata", ErrLengthMismatch, len(ids), len(metadata))
	}
	return nil
}

// ParseMetric maps user input to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "", "cosine":
		return MetricCosine, nil
	case "l2", "euclidean", "euclid":
		return MetricL2, nil
	case "ip", "dot", "inner_product":
		return MetricInnerProduct, nil
	default:
		return "", fmt.Errorf("rag: unknown metric %q, valid values: cosine, l2, ip", s)
	}
}

// metadataAt returns metadata[i] or nil when metadata was not supplied.
func metadataAt(metadata []Metadata, i int) Metadata {
	if metadata == nil {
		return nil
	}
	return metadata[i]
}
