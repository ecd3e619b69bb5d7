package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/graph"
	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/outcome"
	"github.com/pampax/pampax/internal/pack"
	"github.com/pampax/pampax/internal/policy"
	"github.com/pampax/pampax/internal/reliability"
	"github.com/pampax/pampax/internal/rerank"
	"github.com/pampax/pampax/internal/seed"
	"github.com/pampax/pampax/internal/sigcache"
)

// Include selectors for the assemble surface.
const (
	IncludeCode   = "code"
	IncludeMemory = "memory"
)

// AssembleRequest describes one full context assembly.
type AssembleRequest struct {
	Query     string
	SessionID string
	Repo      string
	Language  string
	// K bounds fused candidates before packing; zero uses the default.
	K int
	// IntentOverride skips classification when set.
	IntentOverride bundle.Intent
	// TargetModel picks the tokenizer family; empty uses the default.
	TargetModel string
	// TokenBudget caps the bundle; zero uses the default.
	TokenBudget int
	// RerankProvider, when set, rescoring the packed items through the
	// provider bus before the bundle is returned.
	RerankProvider string
	RerankModel    string
	// Include restricts candidate sources: "code", "memory". Empty
	// includes both.
	Include []string
	// NoCache bypasses the signature cache both ways.
	NoCache bool
}

// AssembleResult is the assembled bundle plus its interaction record.
type AssembleResult struct {
	Bundle        *bundle.Bundle `json:"bundle"`
	InteractionID string         `json:"interaction_id,omitempty"`
	Duration      time.Duration  `json:"-"`
}

// Assemble runs the full pipeline: intent, policy, seeds, fusion,
// graph expansion, packing, and optional reranking. Recoverable stage
// failures thin the bundle and leave stopping reasons.
func (p *Pipeline) Assemble(ctx context.Context, req AssembleRequest) (*AssembleResult, error) {
	const op = "pipeline.Assemble"
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "query is empty", nil)
	}
	if req.TokenBudget <= 0 {
		req.TokenBudget = DefaultTokenBudget
	}
	if req.TargetModel == "" {
		req.TargetModel = DefaultModel
	}
	ctx, cancel := p.timeouts.WithTimeout(ctx, reliability.OpAssembly)
	defer cancel()

	res, err := p.classifyOrOverride(ctx, req.Query, req.IntentOverride)
	if err != nil {
		return nil, err
	}
	decision, err := p.deps.Gate.Decide(res, policy.SearchContext{
		Repo:        req.Repo,
		Language:    req.Language,
		QueryLength: len(req.Query),
		Budget:      req.TokenBudget,
	})
	if err != nil {
		return nil, err
	}

	sctx := sigcache.Context{
		Repo:        req.Repo,
		Language:    req.Language,
		Model:       req.TargetModel,
		TokenBudget: req.TokenBudget,
	}
	var reasons []bundle.StoppingReason
	if !req.NoCache && p.deps.Signatures != nil {
		cached, ok, err := p.deps.Signatures.Lookup(ctx, req.Query, res.Intent, sctx)
		switch {
		case err != nil && errors.IsKind(err, errors.KindCancelled):
			return nil, err
		case err != nil:
			reasons = append(reasons, bundle.StoppingReason{
				Category: bundle.ReasonError,
				Severity: bundle.SeverityInfo,
				Stage:    "sigcache",
				Message:  fmt.Sprintf("signature lookup failed: %v", err),
			})
		case ok:
			id := p.recordInteraction(ctx, req, res.Intent, &decision, cached)
			return &AssembleResult{Bundle: cached, InteractionID: id, Duration: time.Since(start)}, nil
		}
	}

	b, err := p.assemble(ctx, req, res, &decision, reasons)
	if err != nil {
		return nil, err
	}

	id := p.recordInteraction(ctx, req, res.Intent, &decision, b)
	if id != "" && p.deps.Signatures != nil && !req.NoCache {
		p.recent.Add(id, &assembled{
			query:  req.Query,
			intent: res.Intent,
			sctx:   sctx,
			bundle: b,
		})
	}
	p.logSearch(ctx, req.Query, res.Intent, len(b.Items), time.Since(start))
	return &AssembleResult{Bundle: b, InteractionID: id, Duration: time.Since(start)}, nil
}

// assemble is the uncached path: seeds through packing and reranking.
func (p *Pipeline) assemble(ctx context.Context, req AssembleRequest, res intent.Result, decision *bundle.PolicyDecision, reasons []bundle.StoppingReason) (*bundle.Bundle, error) {
	const op = "pipeline.assemble"

	q := seed.Query{
		Text:      req.Query,
		Intent:    res,
		Repo:      req.Repo,
		Language:  req.Language,
		SessionID: req.SessionID,
	}
	seeds, err := p.deps.Seeds.Run(ctx, q, decision, req.K)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	reasons = append(reasons, seeds.Reasons...)

	fused := p.deps.Mixer.Mix(seeds, q, decision, req.K)
	fused = filterSources(fused, req.Include)
	if len(fused) == 0 {
		reasons = append(reasons, bundle.StoppingReason{
			Category: bundle.ReasonQuality,
			Severity: bundle.SeverityWarning,
			Stage:    "seed",
			Message:  "no candidates from any source",
			Hint:     "check that the repository is indexed",
		})
	}

	cands, spanIDs, err := p.packCandidates(ctx, fused)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}

	if p.deps.Graph != nil && len(spanIDs) > 0 {
		extra, graphReasons := p.expand(ctx, req, decision, spanIDs, minScore(cands))
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.KindCancelled, op, err)
		}
		cands = append(cands, extra...)
		reasons = append(reasons, graphReasons...)
	}

	profile := p.packingProfile(ctx, req.Repo, req.TargetModel, &reasons)
	b, err := p.deps.Packer.Pack(ctx, pack.Request{
		Query:      req.Query,
		Intent:     res.Intent,
		Model:      req.TargetModel,
		Budget:     req.TokenBudget,
		Profile:    profile,
		Policy:     decision,
		Candidates: cands,
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	// Pre-pack reasons come first so the reader sees upstream causes
	// before packing effects.
	b.StoppingReasons = append(reasons, b.StoppingReasons...)

	if req.RerankProvider != "" {
		p.rerankBundle(ctx, req, b)
	}
	return b, nil
}

// packCandidates resolves fused candidates into packer inputs and
// collects the distinct seed span ids in fused order.
func (p *Pipeline) packCandidates(ctx context.Context, fused []bundle.Fused) ([]pack.Candidate, []string, error) {
	if len(fused) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, 0, len(fused))
	for _, f := range fused {
		if !bundle.IsMemoryRef(f.ChunkID) {
			ids = append(ids, f.ChunkID)
		}
	}
	chunks, err := p.deps.Store.ChunksByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	mems, err := p.resolveMemories(ctx, fused)
	if err != nil {
		return nil, nil, err
	}

	var spanIDs []string
	seen := make(map[string]struct{})
	for _, f := range fused {
		c, ok := chunks[f.ChunkID]
		if !ok || c.SpanID == "" {
			continue
		}
		if _, dup := seen[c.SpanID]; !dup {
			seen[c.SpanID] = struct{}{}
			spanIDs = append(spanIDs, c.SpanID)
		}
	}
	spans := make(map[string]*bundle.Span)
	if len(spanIDs) > 0 {
		list, err := p.deps.Store.SpansByIDs(ctx, spanIDs)
		if err != nil {
			return nil, nil, err
		}
		for _, sp := range list {
			spans[sp.ID] = sp
		}
	}

	cands := make([]pack.Candidate, 0, len(fused))
	for _, f := range fused {
		if memID, ok := bundle.MemoryIDFromRef(f.ChunkID); ok {
			m := mems[memID]
			if m == nil {
				continue
			}
			// Memory candidates pack with no path; the classifier files
			// path-less content under docs.
			cands = append(cands, pack.Candidate{
				ChunkID: f.ChunkID,
				Name:    memoryName(m),
				Content: m.Content,
				Score:   f.Score,
				Source:  bundle.SourceMemory,
				Sources: f.Sources,
			})
			continue
		}
		c, ok := chunks[f.ChunkID]
		if !ok {
			continue
		}
		pc := pack.Candidate{
			ChunkID: f.ChunkID,
			SpanID:  c.SpanID,
			Path:    c.Path,
			Content: c.Content,
			Score:   f.Score,
			Source:  f.Sources[0],
			Sources: f.Sources,
		}
		if sp, ok := spans[c.SpanID]; ok {
			pc.SpanKind = sp.Kind
			pc.Name = sp.Name
			pc.Signature = sp.Signature
			pc.Doc = sp.Doc
		}
		cands = append(cands, pc)
	}
	return cands, spanIDs, nil
}

// expand walks the reference graph from the seed spans and returns the
// neighborhood as additional pack candidates. Expansion is recoverable:
// failure returns no extras and a stopping reason.
func (p *Pipeline) expand(ctx context.Context, req AssembleRequest, decision *bundle.PolicyDecision, spanIDs []string, floor float64) ([]pack.Candidate, []bundle.StoppingReason) {
	gres, err := p.deps.Graph.Expand(ctx, graph.Request{
		SeedSpanIDs: spanIDs,
		MaxDepth:    decision.MaxDepth,
		TokenBudget: req.TokenBudget,
		Model:       req.TargetModel,
	})
	if err != nil {
		return nil, []bundle.StoppingReason{{
			Category: bundle.ReasonError,
			Severity: bundle.SeverityWarning,
			Stage:    "graph",
			Message:  fmt.Sprintf("graph expansion failed: %v", err),
		}}
	}

	var reasons []bundle.StoppingReason
	if gres.Truncated {
		reasons = append(reasons, bundle.StoppingReason{
			Category: bundle.ReasonResource,
			Severity: bundle.SeverityInfo,
			Stage:    "graph",
			Message: fmt.Sprintf("expansion stopped at %d of %d budget tokens",
				gres.TokensUsed, req.TokenBudget),
		})
	}

	var extras []pack.Candidate
	spanIDsNeeded := make([]string, 0, len(gres.Nodes))
	for _, n := range gres.Nodes {
		if n.Depth > 0 && len(n.Chunks) > 0 {
			spanIDsNeeded = append(spanIDsNeeded, n.SpanID)
		}
	}
	spans := make(map[string]*bundle.Span)
	if len(spanIDsNeeded) > 0 {
		if list, err := p.deps.Store.SpansByIDs(ctx, spanIDsNeeded); err == nil {
			for _, sp := range list {
				spans[sp.ID] = sp
			}
		}
	}

	for _, n := range gres.Nodes {
		if n.Depth == 0 || len(n.Chunks) == 0 {
			continue
		}
		// Expanded nodes rank below every seed: scaled off the seed
		// floor by edge confidence and distance.
		score := floor * n.Confidence / float64(n.Depth+1)
		for _, c := range n.Chunks {
			pc := pack.Candidate{
				ChunkID: c.ID,
				SpanID:  n.SpanID,
				Path:    n.Path,
				Content: c.Content,
				Score:   score,
				Source:  bundle.SourceGraph,
				Sources: []bundle.Source{bundle.SourceGraph},
				Name:    n.Name,
			}
			if sp, ok := spans[n.SpanID]; ok {
				pc.SpanKind = sp.Kind
				pc.Signature = sp.Signature
				pc.Doc = sp.Doc
			}
			extras = append(extras, pc)
		}
	}
	return extras, reasons
}

// packingProfile loads the stored (repo, model) profile, falling back
// to the built-in default. Load failures downgrade, never fail.
func (p *Pipeline) packingProfile(ctx context.Context, repo, model string, reasons *[]bundle.StoppingReason) *bundle.PackingProfile {
	prof, err := p.deps.Store.PackingProfileFor(ctx, repo, model)
	if err != nil {
		*reasons = append(*reasons, bundle.StoppingReason{
			Category: bundle.ReasonError,
			Severity: bundle.SeverityInfo,
			Stage:    "pack",
			Message:  fmt.Sprintf("packing profile load failed, using defaults: %v", err),
		})
		return bundle.DefaultPackingProfile(repo, model)
	}
	if prof == nil {
		return bundle.DefaultPackingProfile(repo, model)
	}
	return prof
}

// rerankBundle rescores the packed items through the provider bus,
// reordering them on success. Rerank failure keeps the fused order.
func (p *Pipeline) rerankBundle(ctx context.Context, req AssembleRequest, b *bundle.Bundle) {
	if p.deps.Rerank == nil {
		b.AddReason(bundle.StoppingReason{
			Category: bundle.ReasonError,
			Severity: bundle.SeverityWarning,
			Stage:    "rerank",
			Message:  "no rerank providers configured",
		})
		return
	}

	docs := make([]rerank.Document, 0, len(b.Items))
	for _, it := range b.Items {
		docs = append(docs, rerank.Document{ID: it.ChunkID, Content: it.ChunkContent})
	}
	ranked, err := p.deps.Rerank.Rerank(ctx, req.Query, docs, rerank.Options{
		Provider: req.RerankProvider,
		Model:    req.RerankModel,
		NoCache:  req.NoCache,
	})
	if err != nil {
		b.AddReason(bundle.StoppingReason{
			Category: bundle.ReasonError,
			Severity: bundle.SeverityWarning,
			Stage:    "rerank",
			Message:  fmt.Sprintf("rerank failed, keeping fused order: %v", err),
			Hint:     errors.HintOf(err),
		})
		return
	}

	pos := make(map[string]int, len(ranked))
	for i, r := range ranked {
		pos[r.DocID] = i
	}
	items := make([]bundle.Item, 0, len(b.Items))
	var tail []bundle.Item
	for _, it := range b.Items {
		if _, ok := pos[it.ChunkID]; ok {
			items = append(items, it)
		} else {
			tail = append(tail, it)
		}
	}
	sortByRank(items, pos)
	items = append(items, tail...)
	for i := range items {
		items[i].Rank = i + 1
	}
	b.Items = items
}

// recordInteraction persists the interaction for the offline learner.
// Failure is recoverable and returns an empty id.
func (p *Pipeline) recordInteraction(ctx context.Context, req AssembleRequest, it bundle.Intent, decision *bundle.PolicyDecision, b *bundle.Bundle) string {
	weights := make(map[bundle.Source]float64, len(bundle.SeedSources))
	for _, src := range bundle.SeedSources {
		weights[src] = decision.Weight(string(src))
	}
	rec, err := p.deps.Sessions.Record(ctx, &bundle.Interaction{
		SessionID:        req.SessionID,
		Query:            req.Query,
		Intent:           it,
		BundleSignature:  outcome.BundleSignature(b),
		TokenUsage:       b.TokenReport.Actual,
		SeedWeights:      weights,
		PolicyThresholds: decision.Thresholds(),
		Language:         req.Language,
		Repo:             req.Repo,
	})
	if err != nil {
		p.log.Warn("interaction_record_failed", slog.Any("error", err))
		return ""
	}
	return rec.ID
}

// filterSources drops fused candidates whose every source is excluded
// by the include list.
func filterSources(fused []bundle.Fused, include []string) []bundle.Fused {
	if len(include) == 0 {
		return fused
	}
	code, mem := false, false
	for _, in := range include {
		switch in {
		case IncludeCode:
			code = true
		case IncludeMemory:
			mem = true
		}
	}
	if code && mem {
		return fused
	}

	kept := fused[:0]
	for _, f := range fused {
		keep := false
		for _, src := range f.Sources {
			isMem := src == bundle.SourceMemory
			if (isMem && mem) || (!isMem && code) {
				keep = true
				break
			}
		}
		if keep {
			kept = append(kept, f)
		}
	}
	return kept
}

// minScore returns the lowest candidate score, or zero when empty.
func minScore(cands []pack.Candidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	min := cands[0].Score
	for _, c := range cands[1:] {
		if c.Score < min {
			min = c.Score
		}
	}
	return min
}

// sortByRank orders items by their rerank position.
func sortByRank(items []bundle.Item, pos map[string]int) {
	sort.SliceStable(items, func(i, j int) bool {
		return pos[items[i].ChunkID] < pos[items[j].ChunkID]
	})
}
