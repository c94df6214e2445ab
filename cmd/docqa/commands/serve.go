package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/engine"
	"github.com/54b3r/docqa-go/internal/server"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// query API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP API",
		Long: `Start the docqa HTTP API.

Endpoints:
  POST /api/query                   answer a question
  POST /api/query/batch             answer several questions
  POST /api/search                  semantic search with optional keyword
  GET  /api/documents/{id}/similar  chunks similar to an indexed chunk
  GET  /api/index/stats             index statistics
  GET  /api/health, /api/ready      liveness and readiness probes
  GET  /metrics                     Prometheus metrics

Examples:
  docqa serve
  docqa serve --port 9090
  GENERATION_MODE=delegated MODEL_PROVIDER=azure docqa serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a := appFrom(ctx)

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			metrics := server.NewMetrics(prometheus.DefaultRegisterer)

			qs, err := buildQueryStack(ctx, a, engine.WithObserver(metrics))
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer qs.Close()

			a.log.Info("serve starting",
				slog.String("store", a.cfg.Store.Backend),
				slog.String("index", a.cfg.Store.Index),
				slog.String("generation", a.cfg.Generation.Mode),
			)

			srv, err := server.New(qs.engine, &server.Config{
				Host:   a.cfg.Server.Host,
				Port:   a.cfg.Server.Port,
				Logger: a.log,
				Pingers: []server.Pinger{
					server.NewStorePinger(qs.store, a.cfg.Store.Backend),
					server.NewEmbedderPinger(qs.embedder),
				},
				QueryBudget:  server.Budget{Rate: a.cfg.Server.RateLimit, Burst: a.cfg.Server.RateBurst},
				BatchBudget:  server.Budget{Rate: a.cfg.Server.BatchRateLimit, Burst: a.cfg.Server.BatchRateBurst},
				SearchBudget: server.Budget{Rate: a.cfg.Server.SearchRateLimit, Burst: a.cfg.Server.SearchRateBurst},
				StoreBackend: a.cfg.Store.Backend,
				Metrics:      metrics,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (default: SERVER_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (default: SERVER_PORT)")

	return cmd
}
