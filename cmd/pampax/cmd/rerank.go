package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/output"
	"github.com/pampax/pampax/internal/rerank"
)

type rerankOptions struct {
	provider string
	model    string
	topK     int
	noCache  bool
	file     string
}

func newRerankCmd(root *rootOptions) *cobra.Command {
	opts := &rerankOptions{}

	cmd := &cobra.Command{
		Use:   "rerank <query>",
		Short: "Score documents against a query through the provider bus",
		Long: `Rerank reads a JSON array of {"id", "content"} documents from stdin
(or --file) and scores them against the query. Providers are tried in
the configured fallback order; results are cached by content hash.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRerank(cmd, root, opts, strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.provider, "provider", "", "provider override (local|cohere|voyage|rrf)")
	f.StringVar(&opts.model, "model", "", "model override")
	f.IntVarP(&opts.topK, "top-k", "n", 0, "truncate the ranking (0 keeps all)")
	f.BoolVar(&opts.noCache, "no-cache", false, "bypass the rerank cache")
	f.StringVarP(&opts.file, "file", "f", "", "read documents from a file instead of stdin")
	return cmd
}

func runRerank(cmd *cobra.Command, root *rootOptions, opts *rerankOptions, query string) error {
	start := time.Now()

	docs, err := readDocuments(cmd.InOrStdin(), opts.file)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), root)
	if err != nil {
		return err
	}
	defer a.Close()

	ranking, err := a.pipe.Rerank(cmd.Context(), query, docs, rerank.Options{
		Provider: providerID(opts.provider),
		Model:    opts.model,
		TopK:     opts.topK,
		NoCache:  opts.noCache,
	})
	if err != nil {
		if root.jsonOut {
			return emitError(cmd, root, "rerank", err, start)
		}
		return err
	}

	if root.jsonOut {
		return emit(cmd, root, "rerank", ranking, start)
	}
	out := output.New(cmd.OutOrStdout())
	for i, r := range ranking {
		out.Status(fmt.Sprintf("%2d.", i+1), fmt.Sprintf("%s  (%.4f)", r.DocID, r.Score))
	}
	return nil
}

// providerID maps the short CLI names onto bus registry ids.
func providerID(name string) string {
	switch name {
	case "local":
		return rerank.ProviderLocal
	case "cohere":
		return rerank.ProviderCohere
	case "voyage":
		return rerank.ProviderVoyage
	case "rrf":
		return rerank.ProviderRRF
	default:
		return name
	}
}

func readDocuments(stdin io.Reader, file string) ([]rerank.Document, error) {
	const op = "cmd.readDocuments"

	var r io.Reader = stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, errors.Wrap(errors.KindNotFound, op, err)
		}
		defer f.Close()
		r = f
	}

	var docs []rerank.Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, errors.E(errors.KindInvalidInput, op,
			"documents must be a JSON array of {id, content}", err)
	}
	if len(docs) == 0 {
		return nil, errors.E(errors.KindInvalidInput, op, "no documents to rerank", nil)
	}
	return docs, nil
}
