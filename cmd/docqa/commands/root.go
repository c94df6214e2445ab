// Package commands defines all Cobra CLI commands for the docqa binary.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/audit"
	"github.com/54b3r/docqa-go/internal/config"
	"github.com/54b3r/docqa-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docqa",
		Short: "docqa: question answering over your own documents",
		Long: `docqa chunks local documents, embeds them into a vector index, and
answers questions by retrieving the most relevant chunks.

Answers are extractive by default. Set GENERATION_MODE=delegated (or
USE_LLM=true) to have a language model write the answer from the retrieved
context instead.

Settings come from defaults, a YAML config file (~/.docqa/config.yaml),
a .env file, and environment variables, in increasing precedence.
See 'docqa --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Bootstrap logger until the config says otherwise.
			log := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			log = logging.New(cfg.Logging.Level, cfg.Logging.Format)

			audit.LogCommandStart(log, cmd.Name(), path, cfg)

			cmd.SetContext(withApp(logging.WithLogger(cmd.Context(), log), &app{cfg: cfg, log: log}))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docqa/config.yaml)")

	root.AddCommand(
		NewSetupIndexCmd(),
		NewIngestCmd(),
		NewWatchCmd(),
		NewAskCmd(),
		NewBatchCmd(),
		NewSearchCmd(),
		NewSimilarCmd(),
		NewStatsCmd(),
		NewDeleteCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
