// Package outcome turns recorded interactions into satisfaction
// signals and aggregates. The analyzer is the read side of the
// learning loop: it decides, per interaction, whether the user got
// what they needed, and folds those verdicts into rates the tuner can
// optimize against.
package outcome

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/store"
)

// Analyzer defaults.
const (
	// DefaultWindow is how far back Analyze reads interactions.
	DefaultWindow = 30 * 24 * time.Hour
	// DefaultFixThreshold is the time-to-fix under which an
	// interaction counts as satisfied even without a click.
	DefaultFixThreshold = 5 * time.Minute
	// usageBucket coarsens token counts for bundle signatures.
	usageBucket = 500
)

// Store is the interaction source.
type Store interface {
	ListInteractions(ctx context.Context, filter *store.InteractionFilter) ([]*bundle.Interaction, error)
}

// Signal is the per-interaction verdict consumed by the tuner.
type Signal struct {
	InteractionID    string                    `json:"interaction_id"`
	BundleSignature  string                    `json:"bundle_signature"`
	Intent           bundle.Intent             `json:"intent"`
	Satisfied        bool                      `json:"satisfied"`
	TokenUsage       int                       `json:"token_usage"`
	TimeToFix        time.Duration             `json:"time_to_fix,omitempty"`
	SeedWeights      map[bundle.Source]float64 `json:"seed_weights,omitempty"`
	PolicyThresholds bundle.PolicyThresholds   `json:"policy_thresholds"`
	Language         string                    `json:"language,omitempty"`
	Repo             string                    `json:"repo,omitempty"`
	Timestamp        time.Time                 `json:"ts"`
}

// Metrics aggregates satisfaction over one slice of interactions.
type Metrics struct {
	Interactions int           `json:"interactions"`
	Satisfied    int           `json:"satisfied"`
	Rate         float64       `json:"rate"`
	AvgTimeToFix time.Duration `json:"avg_time_to_fix,omitempty"`
	AvgTokens    float64       `json:"avg_tokens"`
}

// Report is the full analysis output.
type Report struct {
	Window      time.Duration             `json:"window"`
	Since       time.Time                 `json:"since"`
	Overall     Metrics                   `json:"overall"`
	ByIntent    map[bundle.Intent]Metrics `json:"by_intent,omitempty"`
	BySignature map[string]Metrics        `json:"by_signature,omitempty"`
	ByLanguage  map[string]Metrics        `json:"by_language,omitempty"`
	ByRepo      map[string]Metrics        `json:"by_repo,omitempty"`
	Signals     []Signal                  `json:"-"`
}

// Analyzer derives outcome signals from stored interactions.
type Analyzer struct {
	store        Store
	window       time.Duration
	fixThreshold time.Duration
	log          *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWindow overrides the analysis lookback.
func WithWindow(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithFixThreshold overrides the satisfied time-to-fix cutoff.
func WithFixThreshold(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.fixThreshold = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Analyzer) {
		if log != nil {
			a.log = log
		}
	}
}

// New builds an analyzer over the store.
func New(s Store, opts ...Option) *Analyzer {
	a := &Analyzer{
		store:        s,
		window:       DefaultWindow,
		fixThreshold: DefaultFixThreshold,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BundleSignature fingerprints what a bundle was made of: sorted
// source-kind counts, the intent, and coarse usage buckets. Bundles
// with the same composition share a signature, which is what lets
// satisfaction aggregate across queries.
func BundleSignature(b *bundle.Bundle) string {
	counts := b.SourceKindCounts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strconv.Itoa(counts[k]))
		sb.WriteByte(',')
	}
	sb.WriteByte('|')
	sb.WriteString(string(b.Intent))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(b.TokenReport.Actual / usageBucket))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(budgetShareBucket(b.TokenReport.Actual, b.TokenReport.Budget)))

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// budgetShareBucket buckets budget utilization into tenths.
func budgetShareBucket(actual, budget int) int {
	if budget <= 0 {
		return 0
	}
	share := float64(actual) / float64(budget)
	if share > 1 {
		share = 1
	}
	return int(share * 10)
}

// SignalFor derives one signal from an interaction. Satisfied when the
// user said so, clicked the top result, or fixed their problem under
// the threshold; an explicit negative always wins.
func (a *Analyzer) SignalFor(it *bundle.Interaction) Signal {
	satisfied := false
	switch {
	case it.Satisfied != nil:
		satisfied = *it.Satisfied
	case it.TopClick != "":
		satisfied = true
	case it.TimeToFix > 0 && it.TimeToFix <= a.fixThreshold:
		satisfied = true
	}

	return Signal{
		InteractionID:    it.ID,
		BundleSignature:  it.BundleSignature,
		Intent:           it.Intent,
		Satisfied:        satisfied,
		TokenUsage:       it.TokenUsage,
		TimeToFix:        it.TimeToFix,
		SeedWeights:      it.SeedWeights,
		PolicyThresholds: it.PolicyThresholds,
		Language:         it.Language,
		Repo:             it.Repo,
		Timestamp:        it.Timestamp,
	}
}

// Signals reads the window's interactions and derives their signals,
// newest first as the store returns them.
func (a *Analyzer) Signals(ctx context.Context, filter *store.InteractionFilter) ([]Signal, error) {
	const op = "outcome.Signals"

	if filter == nil {
		filter = &store.InteractionFilter{}
	}
	if filter.Since.IsZero() {
		filter.Since = time.Now().Add(-a.window)
	}

	rows, err := a.store.ListInteractions(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}

	signals := make([]Signal, 0, len(rows))
	for _, it := range rows {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.KindCancelled, op, err)
		}
		signals = append(signals, a.SignalFor(it))
	}
	return signals, nil
}

// Analyze derives signals for the window and aggregates satisfaction
// overall and per intent, bundle signature, language, and repo.
func (a *Analyzer) Analyze(ctx context.Context, filter *store.InteractionFilter) (*Report, error) {
	start := time.Now()
	signals, err := a.Signals(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Window:      a.window,
		Since:       time.Now().Add(-a.window),
		ByIntent:    make(map[bundle.Intent]Metrics),
		BySignature: make(map[string]Metrics),
		ByLanguage:  make(map[string]Metrics),
		ByRepo:      make(map[string]Metrics),
		Signals:     signals,
	}

	type acc struct {
		n, satisfied int
		fixTotal     time.Duration
		fixCount     int
		tokens       int
	}
	overall := acc{}
	byIntent := make(map[bundle.Intent]*acc)
	bySig := make(map[string]*acc)
	byLang := make(map[string]*acc)
	byRepo := make(map[string]*acc)

	add := func(m *acc, s Signal) {
		m.n++
		if s.Satisfied {
			m.satisfied++
		}
		if s.TimeToFix > 0 {
			m.fixTotal += s.TimeToFix
			m.fixCount++
		}
		m.tokens += s.TokenUsage
	}
	group := func(m map[string]*acc, key string, s Signal) {
		if key == "" {
			return
		}
		if m[key] == nil {
			m[key] = &acc{}
		}
		add(m[key], s)
	}

	for _, s := range signals {
		add(&overall, s)
		if byIntent[s.Intent] == nil {
			byIntent[s.Intent] = &acc{}
		}
		add(byIntent[s.Intent], s)
		group(bySig, s.BundleSignature, s)
		group(byLang, s.Language, s)
		group(byRepo, s.Repo, s)
	}

	finish := func(m *acc) Metrics {
		out := Metrics{Interactions: m.n, Satisfied: m.satisfied}
		if m.n > 0 {
			out.Rate = float64(m.satisfied) / float64(m.n)
			out.AvgTokens = float64(m.tokens) / float64(m.n)
		}
		if m.fixCount > 0 {
			out.AvgTimeToFix = m.fixTotal / time.Duration(m.fixCount)
		}
		return out
	}

	report.Overall = finish(&overall)
	for k, v := range byIntent {
		report.ByIntent[k] = finish(v)
	}
	for k, v := range bySig {
		report.BySignature[k] = finish(v)
	}
	for k, v := range byLang {
		report.ByLanguage[k] = finish(v)
	}
	for k, v := range byRepo {
		report.ByRepo[k] = finish(v)
	}

	a.log.Debug("outcome_analysis",
		slog.Int("signals", len(signals)),
		slog.Float64("rate", report.Overall.Rate),
		slog.Duration("elapsed", time.Since(start)))
	return report, nil
}
