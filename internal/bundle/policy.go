package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Policy bounds. Decisions outside these ranges are rejected before use.
const (
	MinDepth          = 1
	MaxDepth          = 10
	MinEarlyStop      = 1
	MaxEarlyStop      = 50
	MinSeedWeight     = 0.1
	MaxSeedWeight     = 5.0
	DefaultRRFK       = 60
	EarlyStopScoreCut = 0.30
)

// PolicyDecision governs depth, thresholds, inclusion flags, and
// per-source seed weights for one query.
type PolicyDecision struct {
	Intent             Intent             `json:"intent"`
	MaxDepth           int                `json:"max_depth"`
	IncludeSymbols     bool               `json:"include_symbols"`
	IncludeFiles       bool               `json:"include_files"`
	IncludeContent     bool               `json:"include_content"`
	EarlyStopThreshold int                `json:"early_stop_threshold"`
	SeedWeights        map[string]float64 `json:"seed_weights"`
}

// Clone returns a deep copy. Adjustment passes mutate the copy so the
// intent defaults stay pristine.
func (p *PolicyDecision) Clone() *PolicyDecision {
	cp := *p
	cp.SeedWeights = make(map[string]float64, len(p.SeedWeights))
	for k, v := range p.SeedWeights {
		cp.SeedWeights[k] = v
	}
	return &cp
}

// Weight returns the seed weight for a key, or the neutral 1.0 when the
// key is absent.
func (p *PolicyDecision) Weight(key string) float64 {
	if w, ok := p.SeedWeights[key]; ok {
		return w
	}
	return 1.0
}

// Thresholds extracts the tunable knobs for interaction records.
func (p *PolicyDecision) Thresholds() PolicyThresholds {
	return PolicyThresholds{
		MaxDepth:           p.MaxDepth,
		EarlyStopThreshold: p.EarlyStopThreshold,
	}
}

// Hash returns a stable digest of the decision, used as a cache key
// component by the seed mixer. Weight keys are sorted for determinism.
func (p *PolicyDecision) Hash() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%t|%t|%t|%d", p.Intent, p.MaxDepth,
		p.IncludeSymbols, p.IncludeFiles, p.IncludeContent, p.EarlyStopThreshold)
	keys := make([]string, 0, len(p.SeedWeights))
	for k := range p.SeedWeights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%.4f", k, p.SeedWeights[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// Validate checks the decision against the policy bounds.
// Returns a description of the first violation, or "" when valid.
func (p *PolicyDecision) Validate() string {
	if p.MaxDepth < MinDepth || p.MaxDepth > MaxDepth {
		return fmt.Sprintf("max_depth %d outside [%d,%d]", p.MaxDepth, MinDepth, MaxDepth)
	}
	if p.EarlyStopThreshold < MinEarlyStop || p.EarlyStopThreshold > MaxEarlyStop {
		return fmt.Sprintf("early_stop_threshold %d outside [%d,%d]", p.EarlyStopThreshold, MinEarlyStop, MaxEarlyStop)
	}
	for k, w := range p.SeedWeights {
		if w < MinSeedWeight || w > MaxSeedWeight {
			return fmt.Sprintf("weight %s=%.2f outside [%.1f,%.1f]", k, w, MinSeedWeight, MaxSeedWeight)
		}
	}
	return ""
}

// ClampWeight bounds a seed weight to the legal range.
func ClampWeight(w float64) float64 {
	if w < MinSeedWeight {
		return MinSeedWeight
	}
	if w > MaxSeedWeight {
		return MaxSeedWeight
	}
	return w
}

// ClampDepth bounds an expansion depth to the legal range.
func ClampDepth(d int) int {
	if d < MinDepth {
		return MinDepth
	}
	if d > MaxDepth {
		return MaxDepth
	}
	return d
}

// ClampEarlyStop bounds an early-stop threshold to the legal range.
func ClampEarlyStop(t int) int {
	if t < MinEarlyStop {
		return MinEarlyStop
	}
	if t > MaxEarlyStop {
		return MaxEarlyStop
	}
	return t
}
