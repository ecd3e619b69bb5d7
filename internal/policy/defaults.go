package policy

import "github.com/pampax/pampax/internal/bundle"

// Seed source keys present in every default decision. The learner
// tunes these per intent; generators and the mixer read them by name.
var seedSourceKeys = []string{"fts", "vector", "memory", "symbol"}

// defaultDecisions builds the per-intent starting points. Kind weights
// express what each intent cares about; span kinds and edge kinds not
// listed default to 1.0 at read time.
func defaultDecisions() map[bundle.Intent]bundle.PolicyDecision {
	d := map[bundle.Intent]bundle.PolicyDecision{
		bundle.IntentSymbol: {
			Intent:             bundle.IntentSymbol,
			MaxDepth:           2,
			EarlyStopThreshold: 3,
			IncludeSymbols:     true,
			IncludeFiles:       true,
			IncludeContent:     true,
			SeedWeights: map[string]float64{
				"definition":     2.0,
				"declaration":    1.8,
				"implementation": 1.5,
				"usage":          1.0,
				"test":           0.8,
				"reference":      0.5,
			},
		},
		bundle.IntentConfig: {
			Intent:             bundle.IntentConfig,
			MaxDepth:           1,
			EarlyStopThreshold: 2,
			IncludeSymbols:     false,
			IncludeFiles:       true,
			IncludeContent:     true,
			SeedWeights: map[string]float64{
				"config":        2.0,
				"file":          1.5,
				"documentation": 1.0,
				"reference":     0.8,
			},
		},
		bundle.IntentAPI: {
			Intent:             bundle.IntentAPI,
			MaxDepth:           2,
			EarlyStopThreshold: 2,
			IncludeSymbols:     true,
			IncludeFiles:       true,
			IncludeContent:     true,
			SeedWeights: map[string]float64{
				"handler":    2.0,
				"endpoint":   1.8,
				"route":      1.8,
				"middleware": 1.2,
				"usage":      1.0,
				"test":       0.8,
			},
		},
		bundle.IntentIncident: {
			Intent:             bundle.IntentIncident,
			MaxDepth:           3,
			EarlyStopThreshold: 5,
			IncludeSymbols:     true,
			IncludeFiles:       true,
			IncludeContent:     true,
			SeedWeights: map[string]float64{
				"error":     2.0,
				"exception": 1.8,
				"caller":    1.5,
				"test":      1.2,
				"usage":     1.0,
			},
		},
		bundle.IntentSearch: {
			Intent:             bundle.IntentSearch,
			MaxDepth:           2,
			EarlyStopThreshold: 10,
			IncludeSymbols:     true,
			IncludeFiles:       true,
			IncludeContent:     true,
			SeedWeights:        map[string]float64{},
		},
	}

	for it, dec := range d {
		for _, src := range seedSourceKeys {
			dec.SeedWeights[src] = 1.0
		}
		d[it] = dec
	}
	return d
}
