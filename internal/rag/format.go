package rag

import (
	"fmt"
	"strings"
)

// BlockMarker starts the label line of every formatted context block.
const BlockMarker = "[Document"

// contextSeparator sits between formatted blocks.
const contextSeparator = "\n---\n"

// FormatContext renders ranked results into a single context string, one
// labelled block per result in the given order. Empty input yields "".
func FormatContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(results))
	for i, r := range results {
		source := r.Metadata.Source()
		if source == "" {
			source = "Unknown"
		}
		blocks = append(blocks, fmt.Sprintf("%s %d] (Source: %s, Relevance: %.3f)\n%s\n",
			BlockMarker, i+1, source, r.Score, r.Metadata.Text()))
	}
	return strings.Join(blocks, contextSeparator)
}
