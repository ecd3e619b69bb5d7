package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// DefaultGenTimeout bounds each generator independently. A source that
// cannot answer in time contributes nothing instead of stalling the
// query.
const DefaultGenTimeout = 300 * time.Millisecond

// Results holds the per-source candidate lists from one run, plus the
// stopping reasons for sources that timed out or failed.
type Results struct {
	BySource map[bundle.Source][]bundle.Candidate
	Reasons  []bundle.StoppingReason
}

// Candidates flattens the total candidate count across sources.
func (r *Results) Candidates() int {
	n := 0
	for _, list := range r.BySource {
		n += len(list)
	}
	return n
}

// Runner fans a query out to all generators concurrently. Generator
// failures degrade the mix; only caller cancellation fails the run.
type Runner struct {
	generators []Generator
	timeout    time.Duration
	log        *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout overrides the per-generator timeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the runner's logger.
func WithLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner builds a runner over the given generators.
func NewRunner(gens []Generator, opts ...RunnerOption) *Runner {
	r := &Runner{
		generators: gens,
		timeout:    DefaultGenTimeout,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type genOutcome struct {
	source     bundle.Source
	candidates []bundle.Candidate
	err        error
	elapsed    time.Duration
}

// Run executes every generator under its own timeout and collects the
// per-source lists. Sources that error or time out come back empty with
// a stopping reason attached.
func (r *Runner) Run(ctx context.Context, q Query, policy *bundle.PolicyDecision, k int) (*Results, error) {
	const op = "seed.Runner.Run"
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.KindCancelled, op, err)
	}
	if k <= 0 {
		k = DefaultK
	}

	outcomes := make([]genOutcome, len(r.generators))
	g, gctx := errgroup.WithContext(ctx)
	for i, gen := range r.generators {
		g.Go(func() error {
			start := time.Now()
			genCtx, cancel := context.WithTimeout(gctx, r.timeout)
			defer cancel()

			cands, err := gen.Generate(genCtx, q, policy, k)
			outcomes[i] = genOutcome{
				source:     gen.Source(),
				candidates: cands,
				err:        err,
				elapsed:    time.Since(start),
			}
			// Failures are recorded per source, never returned: one bad
			// generator must not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.KindCancelled, op, err)
	}

	res := &Results{BySource: make(map[bundle.Source][]bundle.Candidate, len(outcomes))}
	for _, out := range outcomes {
		if out.err != nil {
			res.BySource[out.source] = nil
			res.Reasons = append(res.Reasons, reasonFor(out, r.timeout))
			r.log.Warn("seed_generator_failed",
				slog.String("source", string(out.source)),
				slog.Duration("elapsed", out.elapsed),
				slog.Any("error", out.err))
			continue
		}
		res.BySource[out.source] = out.candidates
		r.log.Debug("seed_generator_done",
			slog.String("source", string(out.source)),
			slog.Int("candidates", len(out.candidates)),
			slog.Int64("elapsed_ms", out.elapsed.Milliseconds()))
	}
	return res, nil
}

func reasonFor(out genOutcome, timeout time.Duration) bundle.StoppingReason {
	if errors.IsKind(out.err, errors.KindTimeout) {
		return bundle.StoppingReason{
			Category: bundle.ReasonPerformance,
			Severity: bundle.SeverityWarning,
			Stage:    "seed/" + string(out.source),
			Message:  fmt.Sprintf("%s generator timed out after %s", out.source, timeout),
			Hint:     "raise gen_timeout_ms or check store health",
		}
	}
	return bundle.StoppingReason{
		Category: bundle.ReasonError,
		Severity: bundle.SeverityWarning,
		Stage:    "seed/" + string(out.source),
		Message:  fmt.Sprintf("%s generator failed: %v", out.source, out.err),
	}
}
