package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/health"
	"github.com/pampax/pampax/internal/output"
)

func newHealthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the store, embedder, providers, and disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()

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
			rep := checker.Run(cmd.Context())

			if root.jsonOut {
				return emit(cmd, root, "health", rep, start)
			}
			printHealth(output.New(cmd.OutOrStdout()), rep)
			return nil
		},
	}
}

func printHealth(out *output.Writer, rep *health.Report) {
	switch rep.Status {
	case health.StatusOK:
		out.Successf("healthy")
	case health.StatusDegraded:
		out.Warningf("degraded")
	default:
		out.Errorf("down")
	}
	out.Newline()

	for _, c := range rep.Checks {
		line := string(c.Status)
		if c.Detail != "" {
			line = fmt.Sprintf("%s — %s", c.Status, c.Detail)
		}
		out.Field(c.Name, line)
	}
}
