package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/rag"
)

// NewSetupIndexCmd constructs the `docqa setup-index` command, which creates
// the configured vector index sized for the configured embedder.
func NewSetupIndexCmd() *cobra.Command {
	var recreate bool

	cmd := &cobra.Command{
		Use:   "setup-index",
		Short: "Create the vector index for the configured embedder",
		Long: `Create the configured vector index.

The dimension comes from EMBEDDING_DIMENSIONS when set, otherwise the
embedder is asked to embed a short probe text and its length is used.
An existing index is left untouched unless --recreate is given.

Examples:
  docqa setup-index
  INDEX_NAME=handbook docqa setup-index --recreate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a := appFrom(ctx)

			store, err := openStore(ctx, a.cfg)
			if err != nil {
				return fmt.Errorf("setup-index: %w", err)
			}
			defer func() { _ = store.Close() }()

			metric, err := rag.ParseMetric(a.cfg.Store.Metric)
			if err != nil {
				return fmt.Errorf("setup-index: %w", err)
			}

			dim := a.cfg.Embedding.Dimensions
			if dim <= 0 {
				emb, err := buildEmbedder(a.log, a.cfg)
				if err != nil {
					return fmt.Errorf("setup-index: %w", err)
				}
				dim, err = embedder.ProbeDimensions(ctx, emb)
				if err != nil {
					return fmt.Errorf("setup-index: %w", err)
				}
			}

			name := a.cfg.Store.Index
			if recreate {
				if err := store.DeleteIndex(ctx, name); err != nil && !errors.Is(err, rag.ErrIndexNotFound) {
					return fmt.Errorf("setup-index: delete %s: %w", name, err)
				}
				a.log.Info("setup-index: deleted existing index", slog.String("index", name))
			}

			err = store.CreateIndex(ctx, rag.IndexSpec{
				Name:      name,
				Dimension: dim,
				Metric:    metric,
				Type:      rag.IndexTypeHNSW,
			})
			if errors.Is(err, rag.ErrIndexExists) {
				fmt.Fprintf(cmd.OutOrStdout(), "index %q already exists (use --recreate to rebuild it)\n", name)
				return nil
			}
			if err != nil {
				return fmt.Errorf("setup-index: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created index %q (dimension %d, metric %s)\n", name, dim, metric)
			return nil
		},
	}

	cmd.Flags().BoolVar(&recreate, "recreate", false, "Delete the index first if it exists")

	return cmd
}

// NewStatsCmd constructs the `docqa stats` command.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print statistics for the configured index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a := appFrom(ctx)

			store, err := openStore(ctx, a.cfg)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = store.Close() }()

			st, err := store.Stats(ctx, a.cfg.Store.Index)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "index:         %s\n", st.Name)
			fmt.Fprintf(out, "total_vectors: %d\n", st.TotalVectors)
			if st.Dimension > 0 {
				fmt.Fprintf(out, "dimension:     %d\n", st.Dimension)
			}
			if st.Metric != "" {
				fmt.Fprintf(out, "metric:        %s\n", st.Metric)
			}
			return nil
		},
	}
}

// NewDeleteCmd constructs the `docqa delete` command, which removes chunks
// from the index by id.
func NewDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete chunks from the index by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := appFrom(ctx)

			store, err := openStore(ctx, a.cfg)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := store.DeleteByIDs(ctx, a.cfg.Store.Index, args); err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d id(s) from %q\n", len(args), a.cfg.Store.Index)
			return nil
		},
	}
}
