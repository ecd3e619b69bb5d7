package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/output"
	"github.com/pampax/pampax/internal/pipeline"
)

type searchOptions struct {
	k        int
	language string
	session  string
	intent   string
	budget   int
	model    string
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank chunks for a query without packing",
		Long: `Search classifies the query intent, fans out the candidate
generators (full-text, vector, memory, symbols), and fuses their lists
with weighted reciprocal-rank fusion into one deterministic ranking.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, root, opts, strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.k, "limit", "n", 0, "max results (0 uses the configured default)")
	f.StringVarP(&opts.language, "language", "l", "", "restrict to one language")
	f.StringVarP(&opts.session, "session", "s", "", "session id scoping the memory generator")
	f.StringVar(&opts.intent, "intent", "", "override intent classification (symbol|config|api|incident|search)")
	f.IntVar(&opts.budget, "budget", 0, "token budget hint for policy adjustment")
	f.StringVar(&opts.model, "model", "", "target model for token estimates")
	return cmd
}

func runSearch(cmd *cobra.Command, root *rootOptions, opts *searchOptions, query string) error {
	start := time.Now()

	a, err := openApp(cmd.Context(), root)
	if err != nil {
		return err
	}
	defer a.Close()

	intentOverride, err := parseIntentFlag(opts.intent)
	if err != nil {
		return err
	}

	res, err := a.pipe.Search(cmd.Context(), pipeline.SearchRequest{
		Query:          query,
		K:              opts.k,
		Repo:           a.repo,
		Language:       opts.language,
		SessionID:      opts.session,
		IntentOverride: intentOverride,
		TargetModel:    opts.model,
		TokenBudget:    opts.budget,
	})
	if err != nil {
		if root.jsonOut {
			return emitError(cmd, root, "search", err, start)
		}
		return err
	}
	a.metrics.Observe("cli.search", query, len(res.Items), res.Duration)

	if root.jsonOut {
		return emit(cmd, root, "search", res, start)
	}
	printSearchResult(output.New(cmd.OutOrStdout()), res)
	return nil
}

func printSearchResult(out *output.Writer, res *pipeline.SearchResult) {
	out.Status("🔎", fmt.Sprintf("%q → intent %s (%.0f%% confident), %d results in %s",
		res.Query, res.Intent.Intent, res.Intent.Confidence*100, len(res.Items),
		res.Duration.Round(time.Millisecond)))
	out.Newline()

	for _, item := range res.Items {
		name := item.Path
		if item.Name != "" {
			name = fmt.Sprintf("%s · %s", item.Path, item.Name)
		}
		out.Status(fmt.Sprintf("%2d.", item.Rank), fmt.Sprintf("%s  (%.3f, %s)",
			name, item.Score, sourceList(item.Sources)))
		if item.Signature != "" {
			out.Field("", item.Signature)
		}
	}
	for _, r := range res.StoppingReasons {
		out.Warningf("%s: %s", r.Stage, r.Message)
	}
}

func sourceList(sources []bundle.Source) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return strings.Join(names, "+")
}

// parseIntentFlag validates an intent override, empty meaning none.
func parseIntentFlag(s string) (bundle.Intent, error) {
	if s == "" {
		return "", nil
	}
	it := bundle.Intent(s)
	if !it.Valid() {
		return "", errors.Ef(errors.KindInvalidInput, "cmd.parseIntent",
			"unknown intent %q, want one of %v", s, bundle.Intents)
	}
	return it, nil
}
