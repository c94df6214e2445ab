package rag

import (
	"context"
	"fmt"
)

// DefaultRetriever implements Retriever by combining an Embedder and a
// VectorStore. It embeds the query at retrieval time and delegates
// similarity search to the store.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// index is the name of the index searched.
	index string

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever over the named index.
// defaultTopK sets the fallback result count when Retrieve is called with topK<=0.
func NewRetriever(embedder Embedder, store VectorStore, index string, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if index == "" {
		return nil, fmt.Errorf("rag: index name must not be empty")
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &DefaultRetriever{
		embedder:    embedder,
		store:       store,
		index:       index,
		defaultTopK: defaultTopK,
	}, nil
}

var _ IndexRetriever = (*DefaultRetriever)(nil)

// DefaultTopK returns the result count used when callers pass topK<=0.
func (r *DefaultRetriever) DefaultTopK() int { return r.defaultTopK }

// Index returns the index this retriever searches.
func (r *DefaultRetriever) Index() string { return r.index }

// Retrieve embeds the query and returns the top-k most relevant chunks in the
// order the store ranked them. An empty result is not an error.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int, filters Filters) ([]SearchResult, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	results, err := r.store.Search(ctx, r.index, embedding, topK, filters)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	return results, nil
}
