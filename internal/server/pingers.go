package server

import (
	"context"
	"fmt"

	"github.com/54b3r/docqa-go/internal/rag"
)

// StorePinger probes a vector store through its Ping method.
type StorePinger struct {
	// store is the vector store to probe.
	store rag.VectorStore
	// name identifies the backend in readiness responses (e.g. "qdrant").
	name string
}

// NewStorePinger constructs a StorePinger labelled name.
func NewStorePinger(store rag.VectorStore, name string) *StorePinger {
	return &StorePinger{store: store, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return p.name }

// Ping calls the store's health probe.
func (p *StorePinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// EmbedderPinger probes the embedding backend by embedding a one-word text.
// Embedding calls are cheap compared to a chat completion, so this is used
// instead of probing the chat model.
type EmbedderPinger struct {
	embedder rag.Embedder
}

// NewEmbedderPinger constructs an EmbedderPinger.
func NewEmbedderPinger(e rag.Embedder) *EmbedderPinger {
	return &EmbedderPinger{embedder: e}
}

// Name returns the dependency label used in readiness responses.
func (p *EmbedderPinger) Name() string { return "embedder" }

// Ping embeds "ping" and checks a vector came back.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	v, err := p.embedder.Embed(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	if len(v) == 0 {
		return fmt.Errorf("embed returned an empty vector")
	}
	return nil
}
