package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/output"
	"github.com/pampax/pampax/internal/pipeline"
)

type assembleOptions struct {
	k        int
	language string
	session  string
	intent   string
	budget   int
	model    string
	provider string
	rmodel   string
	include  []string
	noCache  bool
	content  bool
}

func newAssembleCmd(root *rootOptions) *cobra.Command {
	opts := &assembleOptions{}

	cmd := &cobra.Command{
		Use:   "assemble <query>",
		Short: "Assemble a token-budgeted context bundle",
		Long: `Assemble runs the full pipeline: intent classification, policy
gating, candidate generation, fusion, graph expansion, packing into
tiered token budgets, and optional reranking. Identical requests over
an unchanged index are served from the signature cache.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssemble(cmd, root, opts, strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.k, "limit", "n", 0, "max fused candidates before packing")
	f.StringVarP(&opts.language, "language", "l", "", "restrict to one language")
	f.StringVarP(&opts.session, "session", "s", "", "session id for memories and feedback")
	f.StringVar(&opts.intent, "intent", "", "override intent classification")
	f.IntVarP(&opts.budget, "budget", "b", 0, "token budget (0 uses the configured default)")
	f.StringVar(&opts.model, "model", "", "target model for token counting")
	f.StringVar(&opts.provider, "rerank", "", "rerank provider (local|cohere|voyage|rrf)")
	f.StringVar(&opts.rmodel, "rerank-model", "", "rerank model override")
	f.StringSliceVar(&opts.include, "include", nil, "candidate sources to include (code, memory)")
	f.BoolVar(&opts.noCache, "no-cache", false, "bypass the signature cache")
	f.BoolVar(&opts.content, "content", false, "print packed chunk content")
	return cmd
}

func runAssemble(cmd *cobra.Command, root *rootOptions, opts *assembleOptions, query string) error {
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

	budget := opts.budget
	if budget == 0 {
		budget = a.cfg.Packing.DefaultBudget
	}

	res, err := a.pipe.Assemble(cmd.Context(), pipeline.AssembleRequest{
		Query:          query,
		SessionID:      opts.session,
		Repo:           a.repo,
		Language:       opts.language,
		K:              opts.k,
		IntentOverride: intentOverride,
		TargetModel:    opts.model,
		TokenBudget:    budget,
		RerankProvider: opts.provider,
		RerankModel:    opts.rmodel,
		Include:        opts.include,
		NoCache:        opts.noCache,
	})
	if err != nil {
		if root.jsonOut {
			return emitError(cmd, root, "assemble", err, start)
		}
		return err
	}
	a.metrics.Observe("cli.assemble", query, len(res.Bundle.Items), res.Duration)

	if root.jsonOut {
		return emit(cmd, root, "assemble", res, start)
	}
	printBundle(output.New(cmd.OutOrStdout()), res, opts.content)
	return nil
}

func printBundle(out *output.Writer, res *pipeline.AssembleResult, withContent bool) {
	b := res.Bundle
	cached := ""
	if b.FromCache {
		cached = " (cached)"
	}
	out.Status("📦", fmt.Sprintf("%d items, %d/%d tokens for %s%s",
		len(b.Items), b.TokenReport.EstUsed, b.TokenReport.Budget, b.Intent, cached))
	out.Newline()

	for _, item := range b.Items {
		out.Status(fmt.Sprintf("%2d.", item.Rank), fmt.Sprintf("%s  [%s] %d tokens",
			item.Path, item.Tier, item.PackedTokens))
		if withContent && item.ChunkContent != "" {
			out.Code(item.ChunkContent)
		}
	}

	for _, r := range b.StoppingReasons {
		out.Warningf("%s: %s", r.Stage, r.Message)
	}
	if res.InteractionID != "" {
		out.Newline()
		out.Field("interaction", res.InteractionID)
	}
}
