package index

import (
	"context"
	"path"
	"strconv"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/parse"
)

// resolveCandidates bounds the name-lookup fan-out per reference.
const resolveCandidates = 8

// multiCandidatePenalty discounts confidence when a name resolves
// ambiguously.
const multiCandidatePenalty = 0.9

// resolveRefs turns raw name references into span-addressed edges.
// Unresolvable names drop silently: an edge to nowhere is worse than
// no edge.
func (ix *Indexer) resolveRefs(ctx context.Context, repo string, raw []parse.RawRef) ([]*bundle.Reference, error) {
	const op = "index.resolveRefs"
	if len(raw) == 0 {
		return nil, nil
	}

	srcIDs := make([]string, 0, len(raw))
	for _, r := range raw {
		srcIDs = append(srcIDs, r.SrcSpanID)
	}
	srcList, err := ix.store.SpansByIDs(ctx, srcIDs)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	srcByID := make(map[string]*bundle.Span, len(srcList))
	for _, sp := range srcList {
		srcByID[sp.ID] = sp
	}

	lookups := make(map[string][]*bundle.Span)
	byName := func(name string) ([]*bundle.Span, error) {
		if hit, ok := lookups[name]; ok {
			return hit, nil
		}
		spans, err := ix.store.SpansByName(ctx, name, false, resolveCandidates)
		if err != nil {
			return nil, err
		}
		lookups[name] = spans
		return spans, nil
	}

	var refs []*bundle.Reference
	seen := make(map[string]bool)
	for _, r := range raw {
		src := srcByID[r.SrcSpanID]
		if src == nil {
			continue
		}
		name := r.Target
		if r.Kind == bundle.EdgeImport {
			name = importBase(r.Target)
			if name == "" {
				continue
			}
		}
		candidates, err := byName(name)
		if err != nil {
			return nil, errors.Wrap(errors.KindOf(err), op, err)
		}

		dst, ambiguous := pickTarget(r.Kind, src, repo, candidates)
		if dst == nil {
			continue
		}
		confidence := r.Confidence
		if ambiguous {
			confidence *= multiCandidatePenalty
		}

		ref := &bundle.Reference{
			SrcSpanID:  src.ID,
			DstPath:    dst.Path,
			ByteStart:  dst.ByteStart,
			ByteEnd:    dst.ByteEnd,
			Kind:       r.Kind,
			Confidence: confidence,
		}
		key := ref.SrcSpanID + "|" + ref.DstPath + "|" + string(ref.Kind) + "|" + strconv.Itoa(ref.ByteStart)
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, ref)
	}
	return refs, nil
}

// pickTarget chooses the best destination span for an edge kind. The
// second return reports whether other plausible candidates remained.
func pickTarget(kind bundle.EdgeKind, src *bundle.Span, repo string, candidates []*bundle.Span) (*bundle.Span, bool) {
	var best *bundle.Span
	bestScore := -1
	plausible := 0
	for _, c := range candidates {
		if c.Repo != repo || c.ID == src.ID {
			continue
		}
		if !kindAccepts(kind, c) {
			continue
		}
		plausible++
		score := 0
		if c.Path == src.Path {
			score += 2
		} else if path.Dir(c.Path) == path.Dir(src.Path) {
			score++
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, plausible > 1
}

// kindAccepts filters candidate spans by what an edge kind can point
// at.
func kindAccepts(kind bundle.EdgeKind, c *bundle.Span) bool {
	switch kind {
	case bundle.EdgeCall, bundle.EdgeRoutes:
		return c.Kind == bundle.KindFunction || c.Kind == bundle.KindMethod
	case bundle.EdgeTestOf:
		// Tests point at implementation, not at other tests.
		return (c.Kind == bundle.KindFunction || c.Kind == bundle.KindMethod) && !isTestPath(c.Path)
	case bundle.EdgeConfigKey:
		return c.Kind == bundle.KindConstant || c.Kind == bundle.KindVariable
	case bundle.EdgeImport:
		return c.Kind == bundle.KindModule
	}
	return true
}

// importBase reduces an import path to the name its module span
// carries: the trailing path or dotted segment.
func importBase(target string) string {
	target = strings.TrimSuffix(target, "/")
	if i := strings.LastIndex(target, "/"); i >= 0 {
		target = target[i+1:]
	}
	if i := strings.LastIndex(target, "."); i >= 0 {
		target = target[i+1:]
	}
	return target
}

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
