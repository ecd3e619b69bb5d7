package graph

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// neighbor pairs a resolved adjacent span with the edge that admits it.
type neighbor struct {
	span *bundle.Span
	edge Edge
}

// Expand walks outward from the seed spans, one wave per depth level.
// Unknown seed ids are skipped. Store failures abort the expansion;
// the caller decides whether to degrade to seeds-only.
func (e *Expander) Expand(ctx context.Context, req Request) (*Result, error) {
	const op = "graph.Expand"
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.KindCancelled, op, err)
	}
	if len(req.SeedSpanIDs) == 0 {
		return &Result{PerformanceMS: time.Since(start).Milliseconds()}, nil
	}

	depth := req.MaxDepth
	if depth <= 0 || depth > MaxExpandDepth {
		depth = MaxExpandDepth
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeQuality
	}

	seeds := normalizeSeeds(req.SeedSpanIDs)
	key := cacheKey(seeds, depth, req.Kinds, req.TokenBudget, mode)
	if hit, ok := e.cache.Get(key); ok {
		out := hit.clone()
		out.CacheHit = true
		out.PerformanceMS = time.Since(start).Milliseconds()
		e.log.Debug("graph_cache_hit",
			slog.Int("seeds", len(seeds)),
			slog.Int("nodes", len(out.Nodes)))
		return out, nil
	}

	spans, err := e.store.SpansByIDs(ctx, seeds)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, op, err)
	}

	res := &Result{}
	visited := make(map[string]struct{}, len(spans))
	frontier := make([]*bundle.Span, 0, len(spans))
	for _, sp := range spans {
		visited[sp.ID] = struct{}{}
		res.Nodes = append(res.Nodes, Node{
			SpanID:     sp.ID,
			Repo:       sp.Repo,
			Path:       sp.Path,
			ByteStart:  sp.ByteStart,
			ByteEnd:    sp.ByteEnd,
			Name:       sp.Name,
			Kind:       sp.Kind,
			Depth:      0,
			Confidence: 1.0,
		})
		frontier = append(frontier, sp)
	}

	edgeSeen := make(map[string]struct{})
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		wave, err := e.collectWave(ctx, frontier, req.Kinds, mode)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, op, err)
		}
		frontier, err = e.admit(ctx, req, d, wave, visited, edgeSeen, res)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, op, err)
		}
	}

	res.PerformanceMS = time.Since(start).Milliseconds()
	e.cache.Add(key, res.clone())
	e.log.Debug("graph_expanded",
		slog.Int("seeds", len(seeds)),
		slog.Int("nodes", len(res.Nodes)),
		slog.Int("edges", len(res.Edges)),
		slog.Int("depth", res.DepthReached),
		slog.Int("tokens", res.TokensUsed),
		slog.Bool("truncated", res.Truncated),
		slog.Int64("ms", res.PerformanceMS))
	return res, nil
}

// collectWave fetches every frontier span's neighbors concurrently.
// Results are indexed by frontier position so the concatenated wave
// is deterministic regardless of goroutine scheduling.
func (e *Expander) collectWave(ctx context.Context, frontier []*bundle.Span, kinds []bundle.EdgeKind, mode Mode) ([]neighbor, error) {
	lists := make([][]neighbor, len(frontier))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, sp := range frontier {
		g.Go(func() error {
			nbrs, err := e.neighbors(gctx, sp, kinds)
			if err != nil {
				return err
			}
			lists[i] = orderNeighbors(nbrs, mode, e.fanout)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var wave []neighbor
	for _, l := range lists {
		wave = append(wave, l...)
	}
	return wave, nil
}

// neighbors enumerates both edge directions around one span: edges it
// owns, then edges pointing into its byte range.
func (e *Expander) neighbors(ctx context.Context, sp *bundle.Span, kinds []bundle.EdgeKind) ([]neighbor, error) {
	out, err := e.store.OutgoingReferences(ctx, sp.ID, kinds)
	if err != nil {
		return nil, err
	}

	var nbrs []neighbor
	for _, ref := range out {
		dst, err := e.resolveTarget(ctx, sp.Repo, ref)
		if err != nil {
			return nil, err
		}
		if dst == nil {
			// Edge into a file that is not indexed (yet).
			continue
		}
		nbrs = append(nbrs, neighbor{span: dst, edge: Edge{
			SrcSpanID:  sp.ID,
			DstSpanID:  dst.ID,
			Kind:       ref.Kind,
			Confidence: ref.Confidence,
		}})
	}

	in, err := e.store.IncomingReferences(ctx, sp.Path, sp.ByteStart, sp.ByteEnd, kinds)
	if err != nil {
		return nil, err
	}
	if len(in) > 0 {
		ids := make([]string, 0, len(in))
		for _, ref := range in {
			ids = append(ids, ref.SrcSpanID)
		}
		srcs, err := e.store.SpansByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]*bundle.Span, len(srcs))
		for _, s := range srcs {
			byID[s.ID] = s
		}
		for _, ref := range in {
			src, ok := byID[ref.SrcSpanID]
			if !ok {
				continue
			}
			nbrs = append(nbrs, neighbor{span: src, edge: Edge{
				SrcSpanID:  src.ID,
				DstSpanID:  sp.ID,
				Kind:       ref.Kind,
				Confidence: ref.Confidence,
			}})
		}
	}
	return nbrs, nil
}

// resolveTarget maps a reference's (path, byte range) destination to a
// concrete span. Overlapping spans nest, so the narrowest one is the
// actual target. Edges stay within the source span's repo.
func (e *Expander) resolveTarget(ctx context.Context, repo string, ref *bundle.Reference) (*bundle.Span, error) {
	spans, err := e.store.SpansByRange(ctx, repo, ref.DstPath, ref.ByteStart, ref.ByteEnd)
	if err != nil {
		return nil, err
	}
	var best *bundle.Span
	for _, sp := range spans {
		if best == nil || sp.ByteEnd-sp.ByteStart < best.ByteEnd-best.ByteStart {
			best = sp
		}
	}
	return best, nil
}

// orderNeighbors sorts one span's neighbor list for admission and
// applies the fanout cap. Quality mode prefers confident edges; the
// sort is stable so equal confidences keep store order.
func orderNeighbors(nbrs []neighbor, mode Mode, fanout int) []neighbor {
	if mode == ModeQuality {
		sort.SliceStable(nbrs, func(i, j int) bool {
			return nbrs[i].edge.Confidence > nbrs[j].edge.Confidence
		})
	}
	if fanout > 0 && len(nbrs) > fanout {
		nbrs = nbrs[:fanout]
	}
	return nbrs
}

// admit walks the wave in order, recording edges and adding nodes that
// fit the token budget. Returns the spans that form the next frontier.
func (e *Expander) admit(ctx context.Context, req Request, depth int, wave []neighbor, visited map[string]struct{}, edgeSeen map[string]struct{}, res *Result) ([]*bundle.Span, error) {
	newIDs := make([]string, 0, len(wave))
	pending := make(map[string]struct{}, len(wave))
	for _, nb := range wave {
		id := nb.span.ID
		if _, ok := visited[id]; ok {
			continue
		}
		if _, ok := pending[id]; ok {
			continue
		}
		pending[id] = struct{}{}
		newIDs = append(newIDs, id)
	}

	chunksBySpan := make(map[string][]*bundle.Chunk, len(newIDs))
	if len(newIDs) > 0 {
		chunks, err := e.store.ChunksBySpanIDs(ctx, newIDs)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			chunksBySpan[c.SpanID] = append(chunksBySpan[c.SpanID], c)
		}
	}

	var next []*bundle.Span
	for _, nb := range wave {
		ek := nb.edge.SrcSpanID + "\x1f" + nb.edge.DstSpanID + "\x1f" + string(nb.edge.Kind)
		if _, dup := edgeSeen[ek]; !dup {
			edgeSeen[ek] = struct{}{}
			res.Edges = append(res.Edges, nb.edge)
		}
		if _, ok := visited[nb.span.ID]; ok {
			continue
		}

		chunks := chunksBySpan[nb.span.ID]
		cost := 0
		for _, c := range chunks {
			cost += e.tokens.Count(req.Model, c.Content).Count
		}
		if req.TokenBudget > 0 && res.TokensUsed+cost > req.TokenBudget {
			// Over budget: skip this node but keep scanning, a
			// smaller neighbor later in the wave may still fit.
			res.Truncated = true
			continue
		}

		via := nb.edge.SrcSpanID
		if via == nb.span.ID {
			// Incoming edge: the walk arrived from its destination.
			via = nb.edge.DstSpanID
		}
		visited[nb.span.ID] = struct{}{}
		res.Nodes = append(res.Nodes, Node{
			SpanID:     nb.span.ID,
			Repo:       nb.span.Repo,
			Path:       nb.span.Path,
			ByteStart:  nb.span.ByteStart,
			ByteEnd:    nb.span.ByteEnd,
			Name:       nb.span.Name,
			Kind:       nb.span.Kind,
			Depth:      depth,
			Via:        via,
			EdgeKind:   nb.edge.Kind,
			Confidence: nb.edge.Confidence,
			Tokens:     cost,
			Chunks:     chunks,
		})
		res.TokensUsed += cost
		if depth > res.DepthReached {
			res.DepthReached = depth
		}
		next = append(next, nb.span)
	}
	return next, nil
}
