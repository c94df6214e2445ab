// Command docqa is the entry point for the document question-answering
// pipeline. It ingests local documents into a vector index and answers
// questions over them from the CLI or an HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
