package seed

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/symbols"
)

// SymbolStore is the store surface the symbol generator reads.
type SymbolStore interface {
	ChunksBySpanIDs(ctx context.Context, spanIDs []string) ([]*bundle.Chunk, error)
}

// SymbolResolver finds spans by name. *symbols.Index implements it.
type SymbolResolver interface {
	Resolve(ctx context.Context, name string, k int, repo string) ([]symbols.Match, error)
}

// SymbolGenerator resolves the query's identifier entities to spans and
// maps them to their chunks. Each match is weighted by the role it
// plays for the query, using the policy's role weights: a definition
// outranks its tests, a fuzzy near-miss trails everything.
type SymbolGenerator struct {
	resolver SymbolResolver
	store    SymbolStore
}

// NewSymbolGenerator returns a generator over the given name index and
// store.
func NewSymbolGenerator(r SymbolResolver, s SymbolStore) *SymbolGenerator {
	return &SymbolGenerator{resolver: r, store: s}
}

// Source implements Generator.
func (g *SymbolGenerator) Source() bundle.Source { return bundle.SourceSymbol }

// Generate implements Generator. A query mentioning no identifiers is
// an empty source.
func (g *SymbolGenerator) Generate(ctx context.Context, q Query, policy *bundle.PolicyDecision, k int) ([]bundle.Candidate, error) {
	const op = "seed.SymbolGenerator.Generate"
	if k <= 0 {
		k = DefaultK
	}

	targets := symbolTargets(q)
	if len(targets) == 0 {
		return nil, nil
	}

	// Best weighted score per span across all targets.
	spanScore := make(map[string]float64)
	for _, name := range targets {
		matches, err := g.resolver.Resolve(ctx, name, k, q.Repo)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, op, err)
		}
		for _, m := range matches {
			w := 1.0
			if policy != nil {
				w = policy.Weight(matchRole(m))
			}
			if s := m.Score * w; s > spanScore[m.SpanID] {
				spanScore[m.SpanID] = s
			}
		}
	}
	if len(spanScore) == 0 {
		return nil, nil
	}

	spanIDs := make([]string, 0, len(spanScore))
	for id := range spanScore {
		spanIDs = append(spanIDs, id)
	}
	sort.Strings(spanIDs)

	chunks, err := g.store.ChunksBySpanIDs(ctx, spanIDs)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	// A span can back several chunks; each inherits the span's score.
	chunkScore := make(map[string]float64, len(chunks))
	for _, c := range chunks {
		if s := spanScore[c.SpanID]; s > chunkScore[c.ID] {
			chunkScore[c.ID] = s
		}
	}

	ids := make([]string, 0, len(chunkScore))
	for id := range chunkScore {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := chunkScore[ids[i]], chunkScore[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	if len(ids) > k {
		ids = ids[:k]
	}

	out := make([]bundle.Candidate, 0, len(ids))
	for i, id := range ids {
		out = append(out, bundle.Candidate{
			ChunkID:      id,
			Source:       bundle.SourceSymbol,
			RawScore:     chunkScore[id],
			RankInSource: i + 1,
		})
	}
	return out, nil
}

// symbolTargets pulls the resolvable names out of the query's entities.
// Identifiers and config keys both live in the span table.
func symbolTargets(q Query) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, e := range q.Intent.Entities {
		if e.Type != "symbol" && e.Type != "config_key" {
			continue
		}
		if _, dup := seen[e.Value]; dup {
			continue
		}
		seen[e.Value] = struct{}{}
		names = append(names, e.Value)
	}
	return names
}

// matchRole classifies how a resolved span serves the query. Role keys
// line up with the per-intent policy weight tables.
func matchRole(m symbols.Match) string {
	if isTestPath(m.Path) {
		return "test"
	}
	if !m.Exact {
		return "reference"
	}
	switch m.Kind {
	case bundle.KindFunction, bundle.KindClass, bundle.KindType, bundle.KindEnum:
		return "definition"
	case bundle.KindMethod:
		return "implementation"
	case bundle.KindInterface, bundle.KindVariable, bundle.KindConstant,
		bundle.KindModule, bundle.KindImport, bundle.KindExport:
		return "declaration"
	default:
		return "usage"
	}
}

// isTestPath reports whether a path names a test file by the common
// conventions across the indexed languages.
func isTestPath(p string) bool {
	base := strings.ToLower(path.Base(p))
	lower := strings.ToLower(p)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasPrefix(base, "test_") ||
		strings.HasSuffix(base, "_test.py") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.Contains(lower, "__tests__/") ||
		strings.Contains(lower, "/tests/") ||
		strings.Contains(lower, "/test/")
}
