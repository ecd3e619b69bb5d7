package bundle

// Source identifies which generator produced a candidate.
type Source string

const (
	SourceFTS    Source = "fts"
	SourceVector Source = "vector"
	SourceMemory Source = "memory"
	SourceSymbol Source = "symbol"
	// SourceGraph marks candidates merged in by graph expansion.
	SourceGraph Source = "graph"
)

// SeedSources lists the candidate generators, in the order their
// results are fused. Graph is excluded: it expands, it does not seed.
var SeedSources = []Source{SourceFTS, SourceVector, SourceMemory, SourceSymbol}

// Candidate is a ranked reference to a chunk produced by one generator.
type Candidate struct {
	ChunkID      string  `json:"chunk_id"`
	Source       Source  `json:"source"`
	RawScore     float64 `json:"raw_score"`
	RankInSource int     `json:"rank_in_source"`
}

// Fused is a candidate after seed-mix fusion. Contributions from every
// source that returned the chunk are summed into Score.
type Fused struct {
	ChunkID string `json:"chunk_id"`
	// Score is the weighted RRF sum across sources.
	Score float64 `json:"score"`
	// Sources records every generator that returned this chunk.
	Sources []Source `json:"sources"`
	// BestRank is the best (lowest) rank across sources.
	BestRank int `json:"best_rank"`
	// MaxRawScore is the highest per-source raw score, used for
	// deterministic tie-breaking.
	MaxRawScore float64 `json:"max_raw_score"`
}

// HasSource reports whether the fused candidate was returned by src.
func (f *Fused) HasSource(src Source) bool {
	for _, s := range f.Sources {
		if s == src {
			return true
		}
	}
	return false
}
