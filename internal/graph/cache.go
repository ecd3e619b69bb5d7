package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
)

// budgetBucketWidth coarsens the token budget inside cache keys so
// near-identical budgets share one entry.
const budgetBucketWidth = 1000

// normalizeSeeds dedupes and sorts seed ids so equivalent requests
// produce equal cache keys.
func normalizeSeeds(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func cacheKey(sortedSeeds []string, depth int, kinds []bundle.EdgeKind, budget int, mode Mode) string {
	ks := make([]string, 0, len(kinds))
	for _, k := range kinds {
		ks = append(ks, string(k))
	}
	sort.Strings(ks)

	var b strings.Builder
	b.WriteString(strings.Join(sortedSeeds, ","))
	fmt.Fprintf(&b, "|%d|%s|%d|%s", depth, strings.Join(ks, ","), budget/budgetBucketWidth, mode)
	return bundle.HashString(b.String())
}

// clone copies the result so cached entries and returned values never
// share slices. Node chunk pointers are shared; chunks are immutable
// once stored.
func (r *Result) clone() *Result {
	cp := *r
	cp.Nodes = append([]Node(nil), r.Nodes...)
	cp.Edges = append([]Edge(nil), r.Edges...)
	return &cp
}

func (r *Result) touchesAny(paths map[string]struct{}) bool {
	for i := range r.Nodes {
		if _, ok := paths[r.Nodes[i].Path]; ok {
			return true
		}
	}
	return false
}

// InvalidatePaths evicts cached expansions that visited any of the
// given paths. The index coordinator calls this after re-indexing, so
// stale neighborhoods never outlive the spans they point at. Returns
// the number of evicted entries.
func (e *Expander) InvalidatePaths(paths ...string) int {
	if len(paths) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}

	removed := 0
	for _, key := range e.cache.Keys() {
		res, ok := e.cache.Peek(key)
		if !ok {
			continue
		}
		if res.touchesAny(set) {
			e.cache.Remove(key)
			removed++
		}
	}
	return removed
}

// InvalidateAll drops every cached expansion.
func (e *Expander) InvalidateAll() {
	e.cache.Purge()
}

// CacheLen reports how many expansions are currently cached.
func (e *Expander) CacheLen() int {
	return e.cache.Len()
}
