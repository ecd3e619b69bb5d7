// Package learner tunes retrieval policy offline. It reads outcome
// signals, runs gradient descent on per-intent seed weights and a
// coordinate search on policy thresholds, and writes versioned policy
// rows with a rollback record. Nothing here runs on the query path.
package learner

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/outcome"
	"github.com/pampax/pampax/internal/store"
)

// Config bounds the optimization.
type Config struct {
	// LearningRate scales each gradient step.
	LearningRate float64
	// ConvThreshold stops descent when the loss improves less.
	ConvThreshold float64
	// MaxIterations caps descent steps per intent.
	MaxIterations int
	// MinSignals skips intents with fewer outcome signals.
	MinSignals int
	// FDStep is the finite-difference probe size.
	FDStep float64
}

// DefaultConfig returns the standard optimization bounds.
func DefaultConfig() Config {
	return Config{
		LearningRate:  0.1,
		ConvThreshold: 1e-3,
		MaxIterations: 100,
		MinSignals:    5,
		FDStep:        0.05,
	}
}

// Store is the policy read/write surface the learner needs.
type Store interface {
	PolicyFor(ctx context.Context, repo string, intent bundle.Intent) (*store.PolicyRecord, error)
	SavePolicy(ctx context.Context, repo string, d *bundle.PolicyDecision) error
	DeletePolicy(ctx context.Context, repo string, intent bundle.Intent) error
}

// Analyzer supplies outcome signals.
type Analyzer interface {
	Signals(ctx context.Context, filter *store.InteractionFilter) ([]outcome.Signal, error)
}

// Defaulter supplies the baseline decision when no policy row exists.
type Defaulter interface {
	Defaults(it bundle.Intent) bundle.PolicyDecision
}

// Request scopes one learning run.
type Request struct {
	// Repo scopes the policy rows touched.
	Repo string
	// Since bounds the interaction window; zero uses the analyzer's
	// default lookback.
	Since time.Time
	// Intents restricts tuning; empty tunes every intent with signals.
	Intents []bundle.Intent
	// UpdateWeights applies the tuned decisions to the store. False is
	// a dry run: the report shows what would change.
	UpdateWeights bool
	// MinSignals overrides the config floor when positive.
	MinSignals int
}

// IntentReport describes what the tuner did for one intent.
type IntentReport struct {
	Signals    int                       `json:"signals"`
	Skipped    bool                      `json:"skipped"`
	SkipReason string                    `json:"skip_reason,omitempty"`
	Iterations int                       `json:"iterations"`
	Converged  bool                      `json:"converged"`
	LossBefore float64                   `json:"loss_before"`
	LossAfter  float64                   `json:"loss_after"`
	Before     map[bundle.Source]float64 `json:"weights_before"`
	After      map[bundle.Source]float64 `json:"weights_after"`

	EarlyStopBefore int `json:"early_stop_before"`
	EarlyStopAfter  int `json:"early_stop_after"`
	MaxDepthBefore  int `json:"max_depth_before"`
	MaxDepthAfter   int `json:"max_depth_after"`
}

// Report is the outcome of one learning run.
type Report struct {
	Repo     string                          `json:"repo"`
	Signals  int                             `json:"signals"`
	Intents  map[bundle.Intent]*IntentReport `json:"intents"`
	Applied  bool                            `json:"applied"`
	Rollback *RollbackRecord                 `json:"rollback,omitempty"`
	Duration time.Duration                   `json:"duration"`
}

// RollbackRecord captures the policy rows as they were before a run
// applied changes. Rollback restores them exactly.
type RollbackRecord struct {
	Repo      string          `json:"repo"`
	Entries   []RollbackEntry `json:"entries"`
	CreatedAt time.Time       `json:"created_at"`
}

// RollbackEntry is one intent's pre-run policy. A nil Previous means
// no row existed; rollback deletes the written one.
type RollbackEntry struct {
	Intent   bundle.Intent          `json:"intent"`
	Previous *bundle.PolicyDecision `json:"previous,omitempty"`
}

// Learner runs the offline tuning loop.
type Learner struct {
	store    Store
	analyzer Analyzer
	defaults Defaulter
	cfg      Config
	log      *slog.Logger
}

// Option configures a Learner.
type Option func(*Learner)

// WithConfig overrides the optimization bounds.
func WithConfig(cfg Config) Option {
	return func(l *Learner) { l.cfg = cfg }
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Learner) {
		if log != nil {
			l.log = log
		}
	}
}

// New builds a learner.
func New(s Store, a Analyzer, d Defaulter, opts ...Option) *Learner {
	l := &Learner{
		store:    s,
		analyzer: a,
		defaults: d,
		cfg:      DefaultConfig(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Learn tunes per-intent weights and thresholds from the window's
// signals. With UpdateWeights set, tuned decisions are written as
// versioned policy rows and the report carries a rollback record.
func (l *Learner) Learn(ctx context.Context, req Request) (*Report, error) {
	const op = "learner.Learn"
	start := time.Now()

	filter := &store.InteractionFilter{Repo: req.Repo, Since: req.Since}
	signals, err := l.analyzer.Signals(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}

	minSignals := l.cfg.MinSignals
	if req.MinSignals > 0 {
		minSignals = req.MinSignals
	}

	byIntent := make(map[bundle.Intent][]outcome.Signal)
	for _, s := range signals {
		byIntent[s.Intent] = append(byIntent[s.Intent], s)
	}

	intents := req.Intents
	if len(intents) == 0 {
		for it := range byIntent {
			intents = append(intents, it)
		}
		sort.Slice(intents, func(i, j int) bool { return intents[i] < intents[j] })
	}

	report := &Report{
		Repo:    req.Repo,
		Signals: len(signals),
		Intents: make(map[bundle.Intent]*IntentReport, len(intents)),
	}
	tuned := make(map[bundle.Intent]*bundle.PolicyDecision)

	for _, it := range intents {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.KindCancelled, op, err)
		}

		group := byIntent[it]
		ir := &IntentReport{Signals: len(group)}
		report.Intents[it] = ir
		if len(group) < minSignals {
			ir.Skipped = true
			ir.SkipReason = "not enough signals"
			continue
		}

		current, err := l.currentDecision(ctx, req.Repo, it)
		if err != nil {
			return nil, err
		}

		weights := decisionWeights(current)
		ir.Before = cloneWeights(weights)
		ir.EarlyStopBefore = current.EarlyStopThreshold
		ir.MaxDepthBefore = current.MaxDepth

		after, iters, lossBefore, lossAfter, converged := l.optimizeWeights(weights, group)
		ir.After = after
		ir.Iterations = iters
		ir.LossBefore = lossBefore
		ir.LossAfter = lossAfter
		ir.Converged = converged

		ir.EarlyStopAfter = l.tuneThreshold(group, current.EarlyStopThreshold,
			bundle.MinEarlyStop, bundle.MaxEarlyStop, minSignals,
			func(s outcome.Signal) int { return s.PolicyThresholds.EarlyStopThreshold })
		ir.MaxDepthAfter = l.tuneThreshold(group, current.MaxDepth,
			bundle.MinDepth, bundle.MaxDepth, minSignals,
			func(s outcome.Signal) int { return s.PolicyThresholds.MaxDepth })

		next := current.Clone()
		if next.SeedWeights == nil {
			next.SeedWeights = make(map[string]float64, len(after))
		}
		// Only the tuned source keys change; kind weights sharing the
		// row (definition, declaration, ...) stay as gated.
		for src, w := range after {
			next.SeedWeights[string(src)] = w
		}
		next.EarlyStopThreshold = ir.EarlyStopAfter
		next.MaxDepth = ir.MaxDepthAfter
		tuned[it] = next
	}

	if req.UpdateWeights && len(tuned) > 0 {
		rollback, err := l.apply(ctx, req.Repo, tuned)
		if err != nil {
			return nil, err
		}
		report.Applied = true
		report.Rollback = rollback
	}

	report.Duration = time.Since(start)
	l.log.Info("learn_run",
		slog.String("repo", req.Repo),
		slog.Int("signals", len(signals)),
		slog.Bool("applied", report.Applied),
		slog.Duration("elapsed", report.Duration))
	return report, nil
}

// Rollback restores the policy rows captured before an applied run.
func (l *Learner) Rollback(ctx context.Context, rec *RollbackRecord) error {
	const op = "learner.Rollback"
	if rec == nil {
		return errors.E(errors.KindInvalidInput, op, "rollback record is nil", nil)
	}
	for _, e := range rec.Entries {
		if e.Previous == nil {
			if err := l.store.DeletePolicy(ctx, rec.Repo, e.Intent); err != nil && !errors.IsKind(err, errors.KindNotFound) {
				return errors.Wrap(errors.KindOf(err), op, err)
			}
			continue
		}
		if err := l.store.SavePolicy(ctx, rec.Repo, e.Previous); err != nil {
			return errors.Wrap(errors.KindOf(err), op, err)
		}
	}
	return nil
}

// currentDecision loads the stored policy or falls back to defaults.
func (l *Learner) currentDecision(ctx context.Context, repo string, it bundle.Intent) (*bundle.PolicyDecision, error) {
	const op = "learner.currentDecision"
	rec, err := l.store.PolicyFor(ctx, repo, it)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	if rec != nil && rec.Decision != nil {
		return rec.Decision.Clone(), nil
	}
	d := l.defaults.Defaults(it)
	return &d, nil
}

// apply writes the tuned decisions, capturing each intent's previous
// row first so the whole run can be rolled back.
func (l *Learner) apply(ctx context.Context, repo string, tuned map[bundle.Intent]*bundle.PolicyDecision) (*RollbackRecord, error) {
	const op = "learner.apply"

	intents := make([]bundle.Intent, 0, len(tuned))
	for it := range tuned {
		intents = append(intents, it)
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i] < intents[j] })

	rec := &RollbackRecord{Repo: repo, CreatedAt: time.Now()}
	for _, it := range intents {
		prev, err := l.store.PolicyFor(ctx, repo, it)
		if err != nil && !errors.IsKind(err, errors.KindNotFound) {
			return nil, errors.Wrap(errors.KindOf(err), op, err)
		}
		entry := RollbackEntry{Intent: it}
		if prev != nil && prev.Decision != nil {
			entry.Previous = prev.Decision.Clone()
		}
		rec.Entries = append(rec.Entries, entry)

		if err := l.store.SavePolicy(ctx, repo, tuned[it]); err != nil {
			return nil, errors.Wrap(errors.KindOf(err), op, err)
		}
	}
	return rec, nil
}

// optimizeWeights runs finite-difference gradient descent on the
// squared logistic loss over the intent's signals.
func (l *Learner) optimizeWeights(weights map[bundle.Source]float64, signals []outcome.Signal) (after map[bundle.Source]float64, iters int, lossBefore, lossAfter float64, converged bool) {
	features := make([]map[bundle.Source]float64, len(signals))
	labels := make([]float64, len(signals))
	for i, s := range signals {
		features[i] = featureVector(s)
		if s.Satisfied {
			labels[i] = 1
		}
	}

	w := cloneWeights(weights)
	lossBefore = loss(w, features, labels)
	prev := lossBefore

	for iters = 0; iters < l.cfg.MaxIterations; iters++ {
		for _, src := range bundle.SeedSources {
			up := cloneWeights(w)
			down := cloneWeights(w)
			up[src] = clipWeight(up[src] + l.cfg.FDStep)
			down[src] = clipWeight(down[src] - l.cfg.FDStep)
			grad := (loss(up, features, labels) - loss(down, features, labels)) / (2 * l.cfg.FDStep)
			w[src] = clipWeight(w[src] - l.cfg.LearningRate*grad)
		}

		cur := loss(w, features, labels)
		if prev-cur < l.cfg.ConvThreshold {
			iters++
			converged = true
			break
		}
		prev = cur
	}

	return w, iters, lossBefore, loss(w, features, labels), converged
}

// tuneThreshold picks the observed value of one policy knob with the
// best outcome cost. Only values backed by enough signals compete;
// with no eligible group the current value stands.
func (l *Learner) tuneThreshold(signals []outcome.Signal, current, min, max, minSignals int, knob func(outcome.Signal) int) int {
	groups := make(map[int][]outcome.Signal)
	for _, s := range signals {
		v := knob(s)
		if v < min || v > max {
			continue
		}
		groups[v] = append(groups[v], s)
	}

	best := current
	bestCost := math.Inf(1)
	values := make([]int, 0, len(groups))
	for v := range groups {
		values = append(values, v)
	}
	sort.Ints(values)

	for _, v := range values {
		group := groups[v]
		if len(group) < minSignals {
			continue
		}
		cost := outcomeCost(group)
		if cost < bestCost {
			bestCost = cost
			best = v
		}
	}
	return best
}

// outcomeCost scores a signal group: dissatisfaction dominates, then
// time to fix, then token spend.
func outcomeCost(signals []outcome.Signal) float64 {
	satisfied := 0
	var fixTotal time.Duration
	fixCount := 0
	tokens := 0
	for _, s := range signals {
		if s.Satisfied {
			satisfied++
		}
		if s.TimeToFix > 0 {
			fixTotal += s.TimeToFix
			fixCount++
		}
		tokens += s.TokenUsage
	}

	rate := float64(satisfied) / float64(len(signals))
	cost := (1 - rate) * 10
	if fixCount > 0 {
		cost += (fixTotal / time.Duration(fixCount)).Minutes()
	}
	cost += float64(tokens) / float64(len(signals)) / 1000
	return cost
}

// featureVector is the signal's per-source evidence: its recorded
// seed weights normalized to a distribution. Signals without recorded
// weights contribute a uniform vector.
func featureVector(s outcome.Signal) map[bundle.Source]float64 {
	x := make(map[bundle.Source]float64, len(bundle.SeedSources))
	total := 0.0
	for _, src := range bundle.SeedSources {
		total += s.SeedWeights[src]
	}
	if total <= 0 {
		uniform := 1.0 / float64(len(bundle.SeedSources))
		for _, src := range bundle.SeedSources {
			x[src] = uniform
		}
		return x
	}
	for _, src := range bundle.SeedSources {
		x[src] = s.SeedWeights[src] / total
	}
	return x
}

// loss is the mean squared logistic loss. The sigmoid is centered at
// 1.0 because weights hover around the neutral 1.0.
func loss(w map[bundle.Source]float64, features []map[bundle.Source]float64, labels []float64) float64 {
	if len(features) == 0 {
		return 0
	}
	sum := 0.0
	for i, x := range features {
		dot := 0.0
		for _, src := range bundle.SeedSources {
			dot += w[src] * x[src]
		}
		p := 1.0 / (1.0 + math.Exp(-(dot - 1.0)))
		d := p - labels[i]
		sum += d * d
	}
	return sum / float64(len(features))
}

func decisionWeights(d *bundle.PolicyDecision) map[bundle.Source]float64 {
	w := make(map[bundle.Source]float64, len(bundle.SeedSources))
	for _, src := range bundle.SeedSources {
		w[src] = d.Weight(string(src))
	}
	return w
}

func cloneWeights(w map[bundle.Source]float64) map[bundle.Source]float64 {
	cp := make(map[bundle.Source]float64, len(w))
	for k, v := range w {
		cp[k] = v
	}
	return cp
}

func clipWeight(w float64) float64 {
	if w < bundle.MinSeedWeight {
		return bundle.MinSeedWeight
	}
	if w > bundle.MaxSeedWeight {
		return bundle.MaxSeedWeight
	}
	return w
}
