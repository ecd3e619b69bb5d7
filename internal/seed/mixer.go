package seed

import (
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/intent"
)

const (
	// ProfileCacheSize bounds the weight-profile cache.
	ProfileCacheSize = 1000
	// ProfileCacheTTL expires cached profiles so learner updates to the
	// policy weights take effect within minutes.
	ProfileCacheTTL = 5 * time.Minute
)

// intentProfiles are the per-intent source multipliers. They tilt the
// mix toward the sources that historically answer each intent: symbol
// queries lean on the name index, incident queries on session memory.
var intentProfiles = map[bundle.Intent]map[bundle.Source]float64{
	bundle.IntentSymbol: {
		bundle.SourceSymbol: 1.5,
		bundle.SourceFTS:    1.2,
		bundle.SourceVector: 1.0,
		bundle.SourceMemory: 0.8,
	},
	bundle.IntentConfig: {
		bundle.SourceFTS:    1.4,
		bundle.SourceSymbol: 1.0,
		bundle.SourceVector: 0.9,
		bundle.SourceMemory: 1.0,
	},
	bundle.IntentAPI: {
		bundle.SourceSymbol: 1.3,
		bundle.SourceFTS:    1.2,
		bundle.SourceVector: 1.0,
		bundle.SourceMemory: 0.9,
	},
	bundle.IntentIncident: {
		bundle.SourceMemory: 1.4,
		bundle.SourceFTS:    1.2,
		bundle.SourceVector: 1.1,
		bundle.SourceSymbol: 1.0,
	},
	bundle.IntentSearch: {
		bundle.SourceFTS:    1.0,
		bundle.SourceVector: 1.0,
		bundle.SourceMemory: 1.0,
		bundle.SourceSymbol: 1.0,
	},
}

// confidenceBucket coarsens classifier confidence for cache keying and
// profile damping. Cut points match the policy gate.
func confidenceBucket(c float64) string {
	switch {
	case c > 0.8:
		return "high"
	case c >= 0.5:
		return "mid"
	default:
		return "low"
	}
}

type profile struct {
	weights map[bundle.Source]float64
}

// weightProfile combines the policy's per-source weights with the
// intent profile. Low classifier confidence damps the intent tilt
// toward neutral so a misread query is not steered hard at the wrong
// sources.
func weightProfile(it bundle.Intent, bucket string, policy *bundle.PolicyDecision) profile {
	prof, ok := intentProfiles[it]
	if !ok {
		prof = intentProfiles[bundle.IntentSearch]
	}
	damp := 1.0
	switch bucket {
	case "low":
		damp = 0.0
	case "mid":
		damp = 0.5
	}

	weights := make(map[bundle.Source]float64, len(bundle.SeedSources))
	for _, src := range bundle.SeedSources {
		mult, ok := prof[src]
		if !ok {
			mult = 1.0
		}
		mult = 1.0 + (mult-1.0)*damp
		w := 1.0
		if policy != nil {
			w = policy.Weight(string(src))
		}
		weights[src] = w * mult
	}
	return profile{weights: weights}
}

// Mixer fuses per-source candidate lists with weighted reciprocal rank
// fusion. Weight profiles are cached per (intent, confidence bucket,
// policy hash).
type Mixer struct {
	k        int
	profiles *expirable.LRU[string, profile]
}

// NewMixer returns a mixer with the standard rank constant and a fresh
// profile cache.
func NewMixer() *Mixer {
	return &Mixer{
		k:        bundle.DefaultRRFK,
		profiles: expirable.NewLRU[string, profile](ProfileCacheSize, nil, ProfileCacheTTL),
	}
}

func (m *Mixer) profileFor(res intent.Result, policy *bundle.PolicyDecision) profile {
	it := res.Intent
	if it == "" {
		it = bundle.IntentSearch
	}
	bucket := confidenceBucket(res.Confidence)
	hash := ""
	if policy != nil {
		hash = policy.Hash()
	}
	key := strings.Join([]string{string(it), bucket, hash}, "|")

	if prof, ok := m.profiles.Get(key); ok {
		return prof
	}
	prof := weightProfile(it, bucket, policy)
	m.profiles.Add(key, prof)
	return prof
}

// Mix fuses the run's per-source lists into one ranked slice. Each
// source contributes w_s * 1/(k + rank) per candidate; a chunk seen by
// several sources sums their contributions and records every source.
// Scores are normalized to [0, 1]. When the score curve collapses
// below the early-stop cut at the policy's threshold, the tail is
// dropped.
func (m *Mixer) Mix(res *Results, q Query, policy *bundle.PolicyDecision, limit int) []bundle.Fused {
	if res == nil || len(res.BySource) == 0 {
		return nil
	}
	prof := m.profileFor(q.Intent, policy)

	fused := make(map[string]*bundle.Fused)
	for _, src := range bundle.SeedSources {
		list := res.BySource[src]
		if len(list) == 0 {
			continue
		}
		w := prof.weights[src]
		for i, c := range list {
			r := c.RankInSource
			if r <= 0 {
				r = i + 1
			}
			f, ok := fused[c.ChunkID]
			if !ok {
				f = &bundle.Fused{ChunkID: c.ChunkID, BestRank: r}
				fused[c.ChunkID] = f
			}
			f.Score += w / float64(m.k+r)
			f.Sources = append(f.Sources, src)
			if r < f.BestRank {
				f.BestRank = r
			}
			if c.RawScore > f.MaxRawScore {
				f.MaxRawScore = c.RawScore
			}
		}
	}
	if len(fused) == 0 {
		return nil
	}

	out := make([]bundle.Fused, 0, len(fused))
	for _, f := range fused {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].MaxRawScore != out[j].MaxRawScore {
			return out[i].MaxRawScore > out[j].MaxRawScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	// Normalize against the top score. Ratios survive, so early-stop
	// can compare either way.
	if top := out[0].Score; top > 0 {
		for i := range out {
			out[i].Score /= top
		}
	}

	if t := earlyStopAt(out, policy); t > 0 {
		out = out[:t]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// earlyStopAt returns the truncation point when the score at the
// policy's threshold has collapsed relative to the top, or 0 to keep
// the whole list.
func earlyStopAt(out []bundle.Fused, policy *bundle.PolicyDecision) int {
	if policy == nil || policy.EarlyStopThreshold <= 0 {
		return 0
	}
	t := policy.EarlyStopThreshold
	if len(out) <= t || out[0].Score <= 0 {
		return 0
	}
	if out[t-1].Score/out[0].Score < bundle.EarlyStopScoreCut {
		return t
	}
	return 0
}
