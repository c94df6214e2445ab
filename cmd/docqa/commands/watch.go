package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/ingestion"
)

// NewWatchCmd constructs the `docqa watch` command, which keeps the index
// in step with a directory as files change.
func NewWatchCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a directory and re-ingest files as they change",
		Long: `Watch the documents directory and keep the index up to date.

The directory is ingested once on start. Afterwards, created or modified
files are re-ingested and deleted files have their chunks removed from the
index. Stop with Ctrl-C.

Examples:
  docqa watch
  docqa watch --dir ./handbook`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a := appFrom(ctx)

			if dir == "" {
				dir = a.cfg.Ingestion.DocumentsDir
			}

			st, err := buildIngestStack(ctx, a, false, nil)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if _, err := st.pipeline.IngestDirectory(ctx, dir, func(r ingestion.FileResult) {
				printFileResult(out, r)
			}); err != nil {
				return fmt.Errorf("watch: initial ingest: %w", err)
			}

			w, err := ingestion.NewWatcher(st.pipeline, 0)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			fmt.Fprintf(out, "watching %s (Ctrl-C to stop)\n", dir)

			return w.Run(ctx, dir, func(ev ingestion.WatchEvent) {
				if ev.Removed {
					if ev.Err != nil {
						fmt.Fprintf(out, "  x  %s: %v\n", ev.Path, ev.Err)
						return
					}
					fmt.Fprintf(out, "  -  %s: %d chunk(s) removed\n", ev.Path, ev.Forgotten)
					return
				}
				printFileResult(out, ev.Result)
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory to watch (default: DOCUMENTS_DIR)")

	return cmd
}
