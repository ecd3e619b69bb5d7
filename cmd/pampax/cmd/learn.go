package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/learner"
	"github.com/pampax/pampax/internal/output"
)

type learnOptions struct {
	sinceDays  int
	apply      bool
	minSignals int
	intents    []string
}

func newLearnCmd(root *rootOptions) *cobra.Command {
	opts := &learnOptions{}

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Tune retrieval weights from recorded outcomes",
		Long: `Learn analyzes recorded interaction outcomes and tunes per-intent
seed weights and stopping policies by gradient descent. Without
--apply it is a dry run that reports what would change; --apply
persists the decisions and keeps a rollback record.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLearn(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.sinceDays, "since-days", 0, "only consider interactions newer than this")
	f.BoolVar(&opts.apply, "apply", false, "persist tuned policies instead of a dry run")
	f.IntVar(&opts.minSignals, "min-signals", 0, "override the signal floor per intent")
	f.StringSliceVar(&opts.intents, "intent", nil, "restrict tuning to these intents")
	return cmd
}

func runLearn(cmd *cobra.Command, root *rootOptions, opts *learnOptions) error {
	start := time.Now()

	a, err := openApp(cmd.Context(), root)
	if err != nil {
		return err
	}
	defer a.Close()

	var intents []bundle.Intent
	for _, s := range opts.intents {
		it, err := parseIntentFlag(s)
		if err != nil {
			return err
		}
		intents = append(intents, it)
	}

	req := learner.Request{
		Repo:          a.repo,
		Intents:       intents,
		UpdateWeights: opts.apply,
		MinSignals:    opts.minSignals,
	}
	if opts.sinceDays > 0 {
		req.Since = time.Now().AddDate(0, 0, -opts.sinceDays)
	}

	rep, err := a.pipe.Learn(cmd.Context(), req)
	if err != nil {
		if root.jsonOut {
			return emitError(cmd, root, "learn", err, start)
		}
		return err
	}

	if root.jsonOut {
		return emit(cmd, root, "learn", rep, start)
	}
	printLearnReport(output.New(cmd.OutOrStdout()), rep)
	return nil
}

func printLearnReport(out *output.Writer, rep *learner.Report) {
	verb := "dry run"
	if rep.Applied {
		verb = "applied"
	}
	out.Status("🧠", fmt.Sprintf("%s: %d signals across %d intents in %s",
		verb, rep.Signals, len(rep.Intents), rep.Duration.Round(time.Millisecond)))

	for _, it := range bundle.Intents {
		ir, ok := rep.Intents[it]
		if !ok {
			continue
		}
		if ir.Skipped {
			out.Field(string(it), fmt.Sprintf("skipped: %s", ir.SkipReason))
			continue
		}
		out.Field(string(it), fmt.Sprintf("loss %.4f → %.4f in %d iterations",
			ir.LossBefore, ir.LossAfter, ir.Iterations))
	}
	if rep.Rollback != nil {
		out.Newline()
		out.Status("", fmt.Sprintf("rollback record kept for %d policies", len(rep.Rollback.Entries)))
	}
}
