// Package cmd wires the pampax CLI: one cobra command per operation,
// a shared bootstrap that assembles the retrieval pipeline from
// config, and a uniform JSON envelope for scripted use.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/profiling"
	"github.com/pampax/pampax/pkg/version"
)

// rootOptions carries the persistent flags every subcommand sees.
type rootOptions struct {
	root    string
	jsonOut bool
	plain   bool
	noColor bool
	debug   bool

	profileCPU   string
	profileMem   string
	profileTrace string
}

// mode returns the output mode recorded in JSON envelopes.
func (o *rootOptions) mode() string {
	if o.jsonOut {
		return "json"
	}
	return "text"
}

// Execute runs the root command with signal-aware cancellation.
// Errors print once here; cobra's own reporting is silenced.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}

// NewRootCmd builds the pampax command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var profCleanups []func()

	root := &cobra.Command{
		Use:   "pampax",
		Short: "Code-aware context assembly for agents and humans",
		Long: `pampax indexes a repository into spans, chunks, and references,
answers retrieval queries by fusing lexical, vector, memory, and
symbol candidates, and packs the winners into token-budgeted context
bundles. The same operations are exposed over MCP stdio via "serve".`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(opts.debug)
			cs, err := startProfiling(opts)
			if err != nil {
				return err
			}
			profCleanups = cs
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.profileMem != "" {
				if err := profiling.NewProfiler().WriteHeap(opts.profileMem); err != nil {
					slog.Warn("heap_profile_failed", "path", opts.profileMem, "error", err)
				}
			}
			for i := len(profCleanups) - 1; i >= 0; i-- {
				profCleanups[i]()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.root, "root", "r", ".", "repository root to operate on")
	pf.BoolVar(&opts.jsonOut, "json", false, "emit a machine-readable JSON envelope")
	pf.BoolVar(&opts.plain, "plain", false, "force plain output without TUI or styling")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable ANSI colors")
	pf.BoolVar(&opts.debug, "debug", false, "log at debug level to stderr")
	pf.StringVar(&opts.profileCPU, "profile-cpu", "", "write a CPU profile to this file")
	pf.StringVar(&opts.profileMem, "profile-mem", "", "write a heap profile to this file on exit")
	pf.StringVar(&opts.profileTrace, "profile-trace", "", "write an execution trace to this file")

	root.AddCommand(
		newIndexCmd(opts),
		newSearchCmd(opts),
		newAssembleCmd(opts),
		newRerankCmd(opts),
		newRememberCmd(opts),
		newRecallCmd(opts),
		newForgetCmd(opts),
		newFeedbackCmd(opts),
		newLearnCmd(opts),
		newConfigCmd(opts),
		newHealthCmd(opts),
		newStatusCmd(opts),
		newServeCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// setupLogging installs the process logger. Non-serve commands log to
// stderr only; warn by default so human output stays clean.
func setupLogging(debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))
}

// startProfiling begins CPU and trace capture when requested and
// returns the stop functions.
func startProfiling(opts *rootOptions) ([]func(), error) {
	var cleanups []func()
	prof := profiling.NewProfiler()

	if opts.profileCPU != "" {
		stop, err := prof.StartCPU(opts.profileCPU)
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, stop)
	}
	if opts.profileTrace != "" {
		stop, err := prof.StartTrace(opts.profileTrace)
		if err != nil {
			for _, c := range cleanups {
				c()
			}
			return nil, err
		}
		cleanups = append(cleanups, stop)
	}
	return cleanups, nil
}
