// Package seed turns a classified query into ranked retrieval
// candidates. Four generators draw from different evidence: lexical
// match (fts), embedding similarity (vector), remembered notes
// (memory), and resolved identifiers (symbol). A runner executes them
// concurrently under a per-generator deadline, and the mixer fuses
// their lists into one deduplicated ranking with weighted reciprocal
// rank fusion.
//
// Generators degrade independently: an empty, slow, or failing source
// thins the mix and leaves a stopping reason, it never fails the query.
package seed

import (
	"context"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/store"
)

// DefaultK is the per-source candidate count when the caller passes no
// limit.
const DefaultK = 50

// Query carries one retrieval request through the generators.
type Query struct {
	// Text is the raw query string.
	Text string
	// Intent steers source weighting and gives the symbol generator
	// its entities.
	Intent intent.Result
	// Repo and Language narrow the search when set.
	Repo     string
	Language string
	// SessionID scopes the memory generator.
	SessionID string
}

// Generator produces a ranked candidate list from one retrieval source.
type Generator interface {
	// Source identifies the generator in fused results and logs.
	Source() bundle.Source
	// Generate returns up to k candidates, best first, with 1-indexed
	// RankInSource. An exhausted source returns an empty list, not an
	// error.
	Generate(ctx context.Context, q Query, policy *bundle.PolicyDecision, k int) ([]bundle.Candidate, error)
}

// searchFilter maps the query's narrowing onto the store filter, nil
// when nothing narrows.
func searchFilter(q Query) *store.SearchFilter {
	if q.Repo == "" && q.Language == "" {
		return nil
	}
	return &store.SearchFilter{Repo: q.Repo, Language: q.Language}
}
