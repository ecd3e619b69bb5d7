// Package policy maps classified intents to retrieval policy
// decisions: graph depth, early-stop threshold, inclusion flags, and
// seed weights. Context adjustments apply in a fixed order so the same
// inputs always produce the same decision.
package policy

import (
	"math"
	"strings"

	"github.com/gobwas/glob"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/intent"
)

// Adjustment trigger points.
const (
	// HighConfidence widens the decision: +1 depth, +50% early stop.
	HighConfidence = 0.8
	// LowConfidence narrows it: depth to 1, threshold halved.
	LowConfidence = 0.5
	// ShortQueryChars adds a depth level for terse queries.
	ShortQueryChars = 10
	// LongQueryChars removes a depth level for verbose queries.
	LongQueryChars = 50
	// TightBudgetTokens disables content inlining and halves the
	// early-stop threshold.
	TightBudgetTokens = 2000
)

// SearchContext carries the optional request context the gate adjusts
// decisions with. The zero value applies no context adjustments.
type SearchContext struct {
	// Repo selects repository overrides.
	Repo string `json:"repo,omitempty"`
	// Language selects seed weight multipliers.
	Language string `json:"language,omitempty"`
	// QueryLength is the query length in bytes. Zero means unknown.
	QueryLength int `json:"query_length"`
	// Budget is the token budget for the eventual bundle. Zero means
	// unknown.
	Budget int `json:"budget,omitempty"`
}

// LanguageProfile multiplies matching seed weight keys for a language.
type LanguageProfile struct {
	Multipliers map[string]float64 `yaml:"multipliers" json:"multipliers"`
}

// RepoOverride overlays decision fields when the repo name matches
// Pattern (glob syntax). Nil fields leave the decision untouched.
type RepoOverride struct {
	Pattern            string             `yaml:"pattern" json:"pattern"`
	MaxDepth           *int               `yaml:"max_depth,omitempty" json:"max_depth,omitempty"`
	EarlyStopThreshold *int               `yaml:"early_stop_threshold,omitempty" json:"early_stop_threshold,omitempty"`
	IncludeSymbols     *bool              `yaml:"include_symbols,omitempty" json:"include_symbols,omitempty"`
	IncludeFiles       *bool              `yaml:"include_files,omitempty" json:"include_files,omitempty"`
	IncludeContent     *bool              `yaml:"include_content,omitempty" json:"include_content,omitempty"`
	SeedWeights        map[string]float64 `yaml:"seed_weights,omitempty" json:"seed_weights,omitempty"`

	matcher glob.Glob
}

// Gate produces policy decisions. Safe for concurrent use after
// construction.
type Gate struct {
	defaults  map[bundle.Intent]bundle.PolicyDecision
	languages map[string]LanguageProfile
	repos     []RepoOverride
}

// Option configures a Gate.
type Option func(*Gate)

// WithLanguageProfile registers weight multipliers for a language.
func WithLanguageProfile(language string, profile LanguageProfile) Option {
	return func(g *Gate) {
		g.languages[strings.ToLower(language)] = profile
	}
}

// WithRepoOverride registers a repository overlay. Overrides apply in
// registration order; later registrations win on overlap.
func WithRepoOverride(o RepoOverride) Option {
	return func(g *Gate) {
		m, err := glob.Compile(o.Pattern)
		if err != nil {
			return
		}
		o.matcher = m
		g.repos = append(g.repos, o)
	}
}

// WithDefaults replaces the per-intent weight defaults, typically with
// learner-tuned values loaded from the store. Missing intents keep the
// builtin defaults.
func WithDefaults(weights map[bundle.Intent]map[string]float64) Option {
	return func(g *Gate) {
		for it, w := range weights {
			dec, ok := g.defaults[it]
			if !ok {
				continue
			}
			for k, v := range w {
				dec.SeedWeights[k] = bundle.ClampWeight(v)
			}
			g.defaults[it] = dec
		}
	}
}

// NewGate creates a policy gate with builtin per-intent defaults.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		defaults:  defaultDecisions(),
		languages: make(map[string]LanguageProfile),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decide maps an intent result plus context to a validated decision.
func (g *Gate) Decide(res intent.Result, sctx SearchContext) (bundle.PolicyDecision, error) {
	const op = "policy.Decide"

	base, ok := g.defaults[res.Intent]
	if !ok {
		base = g.defaults[bundle.IntentSearch]
	}
	d := *base.Clone()

	// 1: confidence.
	switch {
	case res.Confidence > HighConfidence:
		d.MaxDepth++
		d.EarlyStopThreshold = int(math.Round(float64(d.EarlyStopThreshold) * 1.5))
	case res.Confidence < LowConfidence:
		d.MaxDepth = bundle.MinDepth
		d.EarlyStopThreshold = halve(d.EarlyStopThreshold)
	}

	// 2: query length.
	if sctx.QueryLength > 0 {
		switch {
		case sctx.QueryLength < ShortQueryChars:
			d.MaxDepth++
		case sctx.QueryLength > LongQueryChars:
			d.MaxDepth--
		}
	}

	// 3: budget.
	if sctx.Budget > 0 && sctx.Budget < TightBudgetTokens {
		d.IncludeContent = false
		d.EarlyStopThreshold = halve(d.EarlyStopThreshold)
	}

	// 4: language multipliers on matching keys only.
	if lp, ok := g.languages[strings.ToLower(sctx.Language)]; ok && sctx.Language != "" {
		for key, mult := range lp.Multipliers {
			if cur, present := d.SeedWeights[key]; present {
				d.SeedWeights[key] = bundle.ClampWeight(cur * mult)
			}
		}
	}

	// 5: repository overlay, last so it wins.
	if sctx.Repo != "" {
		for _, o := range g.repos {
			if o.matcher == nil || !o.matcher.Match(sctx.Repo) {
				continue
			}
			overlay(&d, o)
		}
	}

	d.MaxDepth = bundle.ClampDepth(d.MaxDepth)
	d.EarlyStopThreshold = bundle.ClampEarlyStop(d.EarlyStopThreshold)

	if violation := d.Validate(); violation != "" {
		return bundle.PolicyDecision{}, errors.E(errors.KindIntegrity, op, "invalid policy decision: "+violation, nil).
			WithDetail("intent", string(res.Intent))
	}
	return d, nil
}

// Defaults returns a deep copy of the default decision for an intent.
func (g *Gate) Defaults(it bundle.Intent) bundle.PolicyDecision {
	d, ok := g.defaults[it]
	if !ok {
		d = g.defaults[bundle.IntentSearch]
	}
	return *d.Clone()
}

// overlay applies the non-nil fields of a repo override.
func overlay(d *bundle.PolicyDecision, o RepoOverride) {
	if o.MaxDepth != nil {
		d.MaxDepth = *o.MaxDepth
	}
	if o.EarlyStopThreshold != nil {
		d.EarlyStopThreshold = *o.EarlyStopThreshold
	}
	if o.IncludeSymbols != nil {
		d.IncludeSymbols = *o.IncludeSymbols
	}
	if o.IncludeFiles != nil {
		d.IncludeFiles = *o.IncludeFiles
	}
	if o.IncludeContent != nil {
		d.IncludeContent = *o.IncludeContent
	}
	for k, v := range o.SeedWeights {
		d.SeedWeights[k] = v
	}
}

func halve(n int) int {
	if n <= 1 {
		return 1
	}
	return n / 2
}
