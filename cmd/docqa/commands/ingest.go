package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/ingestion"
)

// NewIngestCmd constructs the `docqa ingest` command, which loads, chunks,
// embeds and indexes local documents.
func NewIngestCmd() *cobra.Command {
	var (
		dir   string
		files []string
		force bool
		meta  []string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest local documents into the vector index",
		Long: `Ingest documents into the configured vector index.

Supported formats: .txt, .md, .pdf, .docx, .xlsx, .pptx.

Without --file the documents directory (DOCUMENTS_DIR, default
./data/documents) is walked recursively. Files whose content has not changed
since the last run are skipped unless --force is given. Chunks left over
from a previous version of a changed file are deleted.

Examples:
  docqa ingest
  docqa ingest --dir ./handbook --meta team=platform
  docqa ingest --file notes.md --file spec.pdf --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a := appFrom(ctx)

			extra, err := parsePairs(meta)
			if err != nil {
				return fmt.Errorf("ingest: --meta: %w", err)
			}

			st, err := buildIngestStack(ctx, a, force, extra)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			var sum ingestion.Summary
			if len(files) > 0 {
				for _, f := range files {
					r := st.pipeline.IngestFile(ctx, f)
					sum.Add(r)
					printFileResult(out, r)
				}
			} else {
				if dir == "" {
					dir = a.cfg.Ingestion.DocumentsDir
				}
				sum, err = st.pipeline.IngestDirectory(ctx, dir, func(r ingestion.FileResult) {
					printFileResult(out, r)
				})
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}

			fmt.Fprintf(out, "\nfiles: %d ok, %d failed, %d unchanged; chunks: %d inserted, %d failed, %d removed\n",
				sum.FilesSucceeded, sum.FilesFailed, sum.FilesSkipped,
				sum.ChunksInserted, sum.ChunksFailed, sum.ChunksRemoved)

			if sum.FilesFailed > 0 {
				return fmt.Errorf("ingest: %d file(s) failed", sum.FilesFailed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory to ingest (default: DOCUMENTS_DIR)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "File to ingest (repeatable); overrides --dir")
	cmd.Flags().BoolVar(&force, "force", false, "Re-ingest files even if unchanged")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Extra metadata key=value added to every chunk (repeatable)")

	return cmd
}

// printFileResult writes one progress line per file.
func printFileResult(w io.Writer, r ingestion.FileResult) {
	switch {
	case r.Skipped:
		fmt.Fprintf(w, "  =  %s (unchanged)\n", r.Path)
	case r.Err != nil:
		fmt.Fprintf(w, "  x  %s: %v\n", r.Path, r.Err)
	default:
		fmt.Fprintf(w, "  +  %s: %d chunk(s)", r.Path, r.Inserted)
		if r.Removed > 0 {
			fmt.Fprintf(w, ", %d stale removed", r.Removed)
		}
		fmt.Fprintln(w)
	}
}
