package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/health"
	"github.com/pampax/pampax/internal/logging"
	"github.com/pampax/pampax/internal/mcp"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieval tools over MCP stdio",
		Long: `Serve speaks MCP over stdin/stdout, exposing search, assemble,
rerank, the memory tools, learn, health, and index_status to agent
clients. Logs go to file only: stdout belongs to the JSON-RPC stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}

			level := logLevel
			if level == "" {
				level = cfg.Server.LogLevel
			}
			cleanup, err := logging.SetupStdioMode(level)
			if err != nil {
				return err
			}
			defer cleanup()

			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			checker := health.New(a.store,
				health.WithEmbedder(a.embedder),
				health.WithRerankBus(a.bus),
				health.WithSignatureCache(a.sigs),
				health.WithIndexer(a.indexer, a.repo),
				health.WithTelemetry(a.metrics),
				health.WithLogger(a.log),
			)

			srv, err := mcp.NewServer(a.pipe,
				mcp.WithHealth(checker),
				mcp.WithIndexer(a.indexer, a.repo),
				mcp.WithTelemetry(a.metrics),
				mcp.WithLogger(slog.Default()),
			)
			if err != nil {
				return err
			}

			slog.Info("serve_started", "repo", a.repo, "root", a.root)
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level for the server (defaults to config)")
	return cmd
}
