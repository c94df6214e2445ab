package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/rag"
)

// NewAskCmd constructs the `docqa ask` command, which answers a single
// question from the indexed documents.
func NewAskCmd() *cobra.Command {
	var (
		topK        int
		filters     []string
		showSources bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the indexed documents",
		Long: `Retrieve the chunks most relevant to a question and answer it.

Examples:
  docqa ask "What is the refund policy?"
  docqa ask --top-k 3 --filter category=policies "How do refunds work?"
  GENERATION_MODE=delegated docqa ask --sources "Summarise the onboarding guide"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := appFrom(ctx)

			f, err := parsePairs(filters)
			if err != nil {
				return fmt.Errorf("ask: --filter: %w", err)
			}

			qs, err := buildQueryStack(ctx, a)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer qs.Close()

			resp, err := qs.engine.Query(ctx, strings.Join(args, " "), topK, rag.Filters(f))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Answer)
			if showSources && len(resp.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				printResults(out, resp.Sources)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default: TOP_K)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Metadata filter key=value (repeatable, all must match)")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print the retrieved sources after the answer")

	return cmd
}

// NewBatchCmd constructs the `docqa batch` command, which answers one
// question per line of a file.
func NewBatchCmd() *cobra.Command {
	var (
		file   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Answer every question in a file, one per line",
		Long: `Answer each non-blank line of a file as a separate question.

A failing question never stops the batch; its answer reports the error.
Use "-" to read questions from stdin.

Examples:
  docqa batch --file questions.txt
  docqa batch --file questions.txt --json > answers.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a := appFrom(ctx)

			queries, err := readQueries(cmd.InOrStdin(), file)
			if err != nil {
				return fmt.Errorf("batch: %w", err)
			}
			if len(queries) == 0 {
				return fmt.Errorf("batch: no questions in %s", file)
			}

			qs, err := buildQueryStack(ctx, a)
			if err != nil {
				return fmt.Errorf("batch: %w", err)
			}
			defer qs.Close()

			responses := qs.engine.BatchQuery(ctx, queries)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(responses)
			}
			printBatch(out, responses)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File with one question per line (- for stdin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print responses as JSON")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// readQueries returns the trimmed non-blank lines of path, or of stdin when
// path is "-".
func readQueries(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path) //nolint:gosec // path is chosen by the operator
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func printBatch(w io.Writer, responses []*engine.Response) {
	for i, r := range responses {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Q%d: %s\n", i+1, r.Query)
		fmt.Fprintf(w, "A%d: %s\n", i+1, r.Answer)
	}
}

// printResults writes one line per result.
func printResults(w io.Writer, results []rag.SearchResult) {
	for i, r := range results {
		printResult(w, i+1, r)
	}
}

// printResult writes rank, score, id and source on one line.
func printResult(w io.Writer, rank int, r rag.SearchResult) {
	src := r.Metadata.Source()
	if src == "" {
		src = "-"
	}
	fmt.Fprintf(w, "%2d. [%.4f] %s (%s)\n", rank, r.Score, r.ID, src)
}
