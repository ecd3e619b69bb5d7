package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/memory"
	"github.com/pampax/pampax/internal/output"
	"github.com/pampax/pampax/internal/pipeline"
)

func newRememberCmd(root *rootOptions) *cobra.Command {
	var (
		session string
		kind    string
		key     string
		ttlDays int
		pinned  bool
		pinSpan string
		label   string
	)

	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a session memory",
		Long: `Remember stores a fact for later recall. Keyed memories replace
their predecessor in place. With --pin-span the content is optional
and the memory anchors a span so retrieval keeps surfacing it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := a.pipe.Memories()
			if svc == nil {
				return errors.E(errors.KindUnavailable, "cmd.remember", "memory feature is disabled", nil)
			}

			if pinSpan != "" {
				mem, err := svc.PinSpan(cmd.Context(), session, pinSpan, label, strings.Join(args, " "))
				if err != nil {
					return finishMemoryErr(cmd, root, "remember", err, start)
				}
				return finishMemory(cmd, root, "remember", mem, start,
					fmt.Sprintf("pinned span %s as %s", pinSpan, mem.ID))
			}

			if len(args) == 0 {
				return errors.E(errors.KindInvalidInput, "cmd.remember", "content is required", nil)
			}
			mem, err := svc.Create(cmd.Context(), memory.CreateRequest{
				SessionID: session,
				Kind:      kind,
				Key:       key,
				Content:   args[0],
				TTL:       time.Duration(ttlDays) * 24 * time.Hour,
				Pinned:    pinned,
			})
			if err != nil {
				return finishMemoryErr(cmd, root, "remember", err, start)
			}
			return finishMemory(cmd, root, "remember", mem, start,
				fmt.Sprintf("remembered %s", mem.ID))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&session, "session", "s", "", "session id the memory belongs to")
	f.StringVar(&kind, "kind", "", "memory kind (defaults to note)")
	f.StringVarP(&key, "key", "k", "", "stable key; re-remembering a key replaces the memory")
	f.IntVar(&ttlDays, "ttl-days", 0, "days until expiry (0 uses the configured default)")
	f.BoolVar(&pinned, "pin", false, "exempt the memory from expiry")
	f.StringVar(&pinSpan, "pin-span", "", "pin an indexed span by id instead of free text")
	f.StringVar(&label, "label", "", "label for a pinned span")
	return cmd
}

func newRecallCmd(root *rootOptions) *cobra.Command {
	var (
		session string
		kind    string
		k       int
		expired bool
	)

	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Recall session memories, ranked when a query is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := a.pipe.Memories()
			if svc == nil {
				return errors.E(errors.KindUnavailable, "cmd.recall", "memory feature is disabled", nil)
			}

			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			hits, err := svc.Query(cmd.Context(), memory.QueryRequest{
				SessionID:      session,
				Query:          query,
				Kind:           kind,
				K:              k,
				IncludeExpired: expired,
			})
			if err != nil {
				if root.jsonOut {
					return emitError(cmd, root, "recall", err, start)
				}
				return err
			}
			if root.jsonOut {
				return emit(cmd, root, "recall", hits, start)
			}

			out := output.New(cmd.OutOrStdout())
			if len(hits) == 0 {
				out.Status("", "nothing remembered")
				return nil
			}
			for _, h := range hits {
				pin := ""
				if h.Memory.Pinned {
					pin = " 📌"
				}
				out.Status("•", fmt.Sprintf("[%s]%s %s", h.Memory.ID, pin, h.Memory.Content))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&session, "session", "s", "", "session id to recall from")
	f.StringVar(&kind, "kind", "", "filter by memory kind")
	f.IntVarP(&k, "limit", "n", 0, "max results")
	f.BoolVar(&expired, "include-expired", false, "include expired memories")
	return cmd
}

func newForgetCmd(root *rootOptions) *cobra.Command {
	var (
		session string
		key     string
	)

	cmd := &cobra.Command{
		Use:   "forget [memory-id]",
		Short: "Delete a memory by id or by session key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := a.pipe.Memories()
			if svc == nil {
				return errors.E(errors.KindUnavailable, "cmd.forget", "memory feature is disabled", nil)
			}

			var ferr error
			switch {
			case len(args) == 1:
				ferr = svc.Forget(cmd.Context(), args[0])
			case key != "":
				ferr = svc.ForgetByKey(cmd.Context(), session, key)
			default:
				ferr = errors.E(errors.KindInvalidInput, "cmd.forget",
					"need a memory id or --key with --session", nil)
			}
			if ferr != nil {
				if root.jsonOut {
					return emitError(cmd, root, "forget", ferr, start)
				}
				return ferr
			}
			if root.jsonOut {
				return emit(cmd, root, "forget", map[string]bool{"forgotten": true}, start)
			}
			output.New(cmd.OutOrStdout()).Successf("forgotten")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&session, "session", "s", "", "session id scoping --key")
	f.StringVarP(&key, "key", "k", "", "forget by key instead of id")
	return cmd
}

func newFeedbackCmd(root *rootOptions) *cobra.Command {
	var (
		satisfied   bool
		unsatisfied bool
		topClick    string
		timeToFix   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "feedback <interaction-id>",
		Short: "Record the outcome of an assembled bundle",
		Long: `Feedback marks how a bundle worked out. Explicit verdicts and
implicit signals (first chunk opened, time to fix) feed the outcome
analyzer, which the learner turns into per-intent policy tuning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			a, err := openApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			fb := pipeline.Feedback{
				InteractionID: args[0],
				TopClick:      topClick,
				TimeToFix:     timeToFix,
			}
			switch {
			case satisfied && unsatisfied:
				return errors.E(errors.KindInvalidInput, "cmd.feedback",
					"--satisfied and --unsatisfied are mutually exclusive", nil)
			case satisfied:
				v := true
				fb.Satisfied = &v
			case unsatisfied:
				v := false
				fb.Satisfied = &v
			}

			if err := a.pipe.MarkOutcome(cmd.Context(), fb); err != nil {
				if root.jsonOut {
					return emitError(cmd, root, "feedback", err, start)
				}
				return err
			}
			if root.jsonOut {
				return emit(cmd, root, "feedback", map[string]string{"interaction": args[0]}, start)
			}
			output.New(cmd.OutOrStdout()).Successf("outcome recorded for %s", args[0])
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&satisfied, "satisfied", false, "mark the bundle as having worked")
	f.BoolVar(&unsatisfied, "unsatisfied", false, "mark the bundle as having failed")
	f.StringVar(&topClick, "top-click", "", "chunk id opened first")
	f.DurationVar(&timeToFix, "time-to-fix", 0, "time until the problem was resolved")
	return cmd
}

func finishMemory(cmd *cobra.Command, root *rootOptions, command string, mem any, start time.Time, msg string) error {
	if root.jsonOut {
		return emit(cmd, root, command, mem, start)
	}
	output.New(cmd.OutOrStdout()).Successf("%s", msg)
	return nil
}

func finishMemoryErr(cmd *cobra.Command, root *rootOptions, command string, err error, start time.Time) error {
	if root.jsonOut {
		return emitError(cmd, root, command, err, start)
	}
	return err
}
