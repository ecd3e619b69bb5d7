package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/ui"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index counts and the last job outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()

			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.indexer.Status(cmd.Context(), a.repo)
			if err != nil {
				if root.jsonOut {
					return emitError(cmd, root, "status", err, start)
				}
				return err
			}

			info := ui.StatusInfo{
				Root:       a.root,
				Files:      st.Files,
				Spans:      st.Spans,
				Chunks:     st.Chunks,
				References: st.References,
				Watching:   st.Running,
				Embedder: ui.EmbedderInfo{
					Provider:   a.cfg.Embeddings.Provider,
					Model:      a.embedder.ModelName(),
					Dimensions: a.embedder.Dimensions(),
				},
			}
			for _, n := range st.Embeddings {
				info.Embedded += n
			}
			if st.LastJob != nil {
				info.LastIndexed = st.LastJob.FinishedAt
				info.LastStatus = st.LastJob.Status
			}
			if fi, err := os.Stat(filepath.Join(a.cfg.StateDir(a.root), "index.db")); err == nil {
				info.StoreBytes = fi.Size()
			}

			r := ui.NewStatusRenderer(cmd.OutOrStdout(), root.noColor || root.plain)
			if root.jsonOut {
				return r.RenderJSON(info)
			}
			r.Render(info)
			return nil
		},
	}
}
