package commands

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/54b3r/docqa-go/internal/config"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/generator"
	"github.com/54b3r/docqa-go/internal/ingestion"
	"github.com/54b3r/docqa-go/internal/ledger"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/server"
	"github.com/54b3r/docqa-go/internal/tracing"
)

// app carries the resolved configuration and logger from the root command
// to subcommands.
type app struct {
	cfg *config.Config
	log *slog.Logger
}

type appKey struct{}

func withApp(ctx context.Context, a *app) context.Context {
	return context.WithValue(ctx, appKey{}, a)
}

// appFrom returns the app stored by the root command. Commands executed
// without the root (tests) get defaults.
func appFrom(ctx context.Context) *app {
	if a, ok := ctx.Value(appKey{}).(*app); ok {
		return a
	}
	return &app{cfg: config.Default(), log: slog.Default()}
}

// openStore connects to the configured vector store backend.
func openStore(ctx context.Context, cfg *config.Config) (rag.VectorStore, error) {
	sc := cfg.Store
	switch sc.Backend {
	case "", "qdrant":
		return rag.NewQdrantStore(&rag.QdrantConfig{
			Host:   sc.Qdrant.Host,
			Port:   sc.Qdrant.Port,
			APIKey: sc.Qdrant.APIKey,
			UseTLS: sc.Qdrant.TLS,
		})
	case "chromem":
		return rag.NewChromemStore(sc.Chromem.Path, sc.Chromem.Compress)
	case "postgres":
		return rag.NewPostgresStore(ctx, &rag.PostgresConfig{DSN: sc.Postgres.DSN, Debug: sc.Postgres.Debug})
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// buildEmbedder validates the embedding settings and constructs the embedder.
func buildEmbedder(log *slog.Logger, cfg *config.Config) (rag.Embedder, error) {
	if err := embedder.ValidateForRAG(log, cfg.Embedding); err != nil {
		return nil, err
	}
	return embedder.New(cfg.Embedding)
}

// buildGenerator returns the extractive generator, or a delegated one
// backed by the configured model provider.
func buildGenerator(ctx context.Context, log *slog.Logger, cfg *config.Config) (generator.Generator, error) {
	gc := cfg.Generation
	if gc.Mode != config.ModeDelegated {
		return generator.NewExtractive(), nil
	}

	var backend generator.Backend
	if strings.EqualFold(gc.Provider, "openrouter") {
		b, err := generator.NewLangchainBackend(generator.LangchainConfig{
			BaseURL:     gc.BaseURL,
			APIKey:      gc.APIKey,
			Model:       gc.Model,
			Temperature: gc.Temperature,
			MaxTokens:   gc.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		backend = b
	} else {
		chatModel, err := provider.New(ctx, provider.FromConfig(gc))
		if err != nil {
			return nil, err
		}
		opts := []generator.ChatOption{generator.WithTemperature(gc.Temperature), generator.WithContextBudget(gc.ContextBudget)}
		if gc.MaxTokens > 0 {
			opts = append(opts, generator.WithMaxTokens(gc.MaxTokens))
		}
		b, err := generator.NewChatBackend(chatModel, opts...)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	log.Info("generation: delegated",
		slog.String("provider", gc.Provider),
		slog.String("model", gc.Model),
	)
	return generator.NewDelegated(backend)
}

// openLedger opens the ingestion ledger. It returns nil when the ledger is
// disabled or cannot be opened, in which case every file is re-ingested.
func openLedger(log *slog.Logger, cfg *config.Config) ledger.Ledger {
	path := cfg.Ingestion.LedgerPath
	if path == config.LedgerDisabled {
		log.Info("ledger: disabled via DOCQA_LEDGER_DB=disabled")
		return nil
	}
	if path == "" {
		p, err := ledger.DefaultDBPath()
		if err != nil {
			log.Warn("ledger: could not resolve default path, disabling", slog.Any("error", err))
			return nil
		}
		path = p
	}
	l, err := ledger.Open(path)
	if err != nil {
		log.Warn("ledger: failed to open, disabling", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	log.Debug("ledger: opened", slog.String("path", path))
	return l
}

// queryStack is everything a read-only command needs.
type queryStack struct {
	store    rag.VectorStore
	embedder rag.Embedder
	engine   *engine.Engine
	// flush sends pending traces. Always non-nil.
	flush func()
}

func (q *queryStack) Close() {
	q.flush()
	_ = q.store.Close()
}

// buildQueryStack wires store, embedder, retriever, generator and engine.
// opts are passed to engine.New.
func buildQueryStack(ctx context.Context, a *app, opts ...engine.Option) (*queryStack, error) {
	store, err := openStore(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	emb, err := buildEmbedder(a.log, a.cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	retriever, err := rag.NewRetriever(emb, store, a.cfg.Store.Index, a.cfg.Retrieval.TopK)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	flush := func() {}
	if a.cfg.Generation.Mode == config.ModeDelegated {
		var traced bool
		flush, traced = tracing.Install(a.cfg.Tracing)
		a.log.Debug("langfuse tracing", slog.Bool("enabled", traced))
	}
	gen, err := buildGenerator(ctx, a.log, a.cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	eng, err := engine.New(retriever, store, gen, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &queryStack{store: store, embedder: emb, engine: eng, flush: flush}, nil
}

// ingestStack is everything the ingest and watch commands need.
type ingestStack struct {
	store    rag.VectorStore
	pipeline *ingestion.Pipeline
	ledger   ledger.Ledger
}

func (s *ingestStack) Close() {
	if s.ledger != nil {
		_ = s.ledger.Close()
	}
	_ = s.store.Close()
}

// buildIngestStack wires the ingestion pipeline. It checks the store and
// embedder are reachable before any document is read.
func buildIngestStack(ctx context.Context, a *app, force bool, extra rag.Metadata) (*ingestStack, error) {
	store, err := openStore(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	emb, err := buildEmbedder(a.log, a.cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	deps := server.NewMultiPinger(
		server.NewStorePinger(store, a.cfg.Store.Backend),
		server.NewEmbedderPinger(emb),
	)
	if err := deps.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("dependency check failed: %w", err)
	}

	chunker, err := ingestion.NewChunker(a.cfg.Chunking.Size, a.cfg.Chunking.Overlap)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	proc, err := ingestion.NewProcessor(chunker)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	led := openLedger(a.log, a.cfg)
	p, err := ingestion.NewPipeline(proc, emb, store, led, &ingestion.Config{
		Index:     a.cfg.Store.Index,
		BatchSize: a.cfg.Ingestion.BatchSize,
		Force:     force,
		Extra:     extra,
	})
	if err != nil {
		if led != nil {
			_ = led.Close()
		}
		_ = store.Close()
		return nil, err
	}
	return &ingestStack{store: store, pipeline: p, ledger: led}, nil
}

// parsePairs turns repeated k=v flag values into a map. Integer, float and
// true/false values are typed so they match what ingestion stored.
func parsePairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = pairValue(strings.TrimSpace(v))
	}
	return out, nil
}

func pairValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return v
}
