package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/rag"
)

// snippetRunes bounds the text preview printed per search result.
const snippetRunes = 160

// NewSearchCmd constructs the `docqa search` command, which runs a semantic
// search with an optional keyword filter and prints the ranked chunks.
func NewSearchCmd() *cobra.Command {
	var (
		keyword string
		topK    int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the index, optionally requiring a keyword",
		Long: `Rank chunks by semantic similarity to the query. With --keyword only
chunks whose text contains the keyword (case-insensitive) are kept.

Examples:
  docqa search "deployment rollback"
  docqa search --keyword helm --top-k 10 "deployment rollback"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := appFrom(ctx)

			qs, err := buildQueryStack(ctx, a)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer qs.Close()

			results, err := qs.engine.HybridSearch(ctx, strings.Join(args, " "), keyword, topK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			printSnippets(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyword, "keyword", "", "Keep only results containing this keyword")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default: TOP_K)")

	return cmd
}

// NewSimilarCmd constructs the `docqa similar` command, which finds the
// chunks closest to an already indexed chunk.
func NewSimilarCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "similar ID",
		Short: "Find chunks similar to an indexed chunk",
		Long: `Find the chunks nearest to the stored vector of ID. The chunk itself is
never part of the result.

Examples:
  docqa similar handbook_chunk3_9f86d081
  docqa similar --top-k 10 handbook_chunk3_9f86d081`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a := appFrom(ctx)

			qs, err := buildQueryStack(ctx, a)
			if err != nil {
				return fmt.Errorf("similar: %w", err)
			}
			defer qs.Close()

			results, err := qs.engine.SimilarDocuments(ctx, args[0], topK)
			if err != nil {
				return fmt.Errorf("similar: %w", err)
			}
			if len(results) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no chunk with id %q, or nothing similar to it\n", args[0])
				return nil
			}
			printSnippets(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default: TOP_K)")

	return cmd
}

// printSnippets prints each result followed by a short text preview.
func printSnippets(w io.Writer, results []rag.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	for i, r := range results {
		printResult(w, i+1, r)
		fmt.Fprintf(w, "    %s\n", snippet(r.Metadata.Text()))
	}
}

// snippet collapses whitespace and cuts text to snippetRunes.
func snippet(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	r := []rune(s)
	if len(r) <= snippetRunes {
		return s
	}
	return string(r[:snippetRunes]) + "..."
}
