// Package pack assembles ranked candidates into a token-budgeted
// bundle. Candidates are classified by content kind, split into tiers
// by score quantile, and emitted tier by tier against per-tier token
// allocations. Items that do not fit are truncated or replaced by a
// capsule; when even capsules cannot fit the must-have tier, the
// packer escalates through degrade levels until the bundle fits or
// only signatures remain.
package pack

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/tokenizer"
)

const (
	mustHaveQuantile      = 0.90
	importantQuantile     = 0.70
	supplementaryQuantile = 0.40

	// Truncation only pays off above a minimum size and keep ratio;
	// below either, a capsule reads better than a stub.
	minTruncateTokens = 24
	truncateKeepShare = 0.40
)

// intentBoosts promote a content kind one tier for the intents that
// lean on it. Symbol queries are steered by seed weights instead.
var intentBoosts = map[bundle.Intent]map[bundle.ContentKind]struct{}{
	bundle.IntentIncident: {bundle.ContentTests: {}},
	bundle.IntentConfig:   {bundle.ContentConfig: {}},
	bundle.IntentAPI:      {bundle.ContentExamples: {}},
}

// Candidate is one fused, content-resolved entry handed to the packer.
type Candidate struct {
	ChunkID   string
	SpanID    string
	Path      string
	Content   string
	Score     float64
	Source    bundle.Source
	Sources   []bundle.Source
	SpanKind  bundle.SpanKind
	Name      string
	Signature string
	Doc       string
}

// Request describes one packing run.
type Request struct {
	Query      string
	Intent     bundle.Intent
	Model      string
	Budget     int
	Profile    *bundle.PackingProfile
	Policy     *bundle.PolicyDecision
	Candidates []Candidate
}

// Packer turns candidates into bundles.
type Packer struct {
	tokens *tokenizer.Factory
	log    *slog.Logger
}

// Option configures a Packer.
type Option func(*Packer)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Packer) {
		if log != nil {
			p.log = log
		}
	}
}

// New builds a Packer around the shared tokenizer factory.
func New(tokens *tokenizer.Factory, opts ...Option) *Packer {
	p := &Packer{
		tokens: tokens,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// packItem is a candidate with its packing metadata resolved once.
type packItem struct {
	c    Candidate
	kind bundle.ContentKind
	tier bundle.Tier
	cost int
}

type emitStatus int

const (
	emittedFull emitStatus = iota
	emittedCapsule
	emittedTruncated
	skippedItem
	failedMust
)

// levelResult is the outcome of one packing attempt at a fixed level.
type levelResult struct {
	items      []bundle.Item
	per        map[bundle.Tier]*bundle.TierReport
	used       int
	dropped    int
	mustFailed bool
	overflowed bool
}

// Pack assembles a bundle from the request's candidates. It never
// exceeds the token budget: items are reduced or skipped first, and
// must-have pressure escalates the degrade level instead.
func (p *Packer) Pack(ctx context.Context, req Request) (*bundle.Bundle, error) {
	const op = "pack.Pack"

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.KindCancelled, op, err)
	}
	if req.Budget <= 0 {
		return nil, errors.E(errors.KindInvalidInput, op, "token budget must be positive", nil)
	}

	prof := req.Profile
	if prof == nil {
		prof = bundle.DefaultPackingProfile("", req.Model)
	}

	byTier := p.prepare(req, prof)
	alloc, reserve := allocate(req.Budget, prof)

	level := initialLevel(byTier, prof, req.Budget)
	if level > bundle.DegradeNone {
		p.log.Debug("pack_pressure",
			slog.String("level", level.String()),
			slog.Int("budget", req.Budget))
	}
	var res levelResult
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.KindCancelled, op, err)
		}
		res = p.packAtLevel(req, prof, byTier, alloc, reserve, level)
		if !res.mustFailed || level >= bundle.DegradeEmergency {
			break
		}
		level++
		p.log.Debug("pack_escalate",
			slog.String("level", level.String()),
			slog.Int("budget", req.Budget))
	}

	return p.assemble(req, res, level), nil
}

// prepare classifies, measures, and tiers every candidate, returning
// them grouped per tier in emit order.
func (p *Packer) prepare(req Request, prof *bundle.PackingProfile) map[bundle.Tier][]packItem {
	items := make([]packItem, 0, len(req.Candidates))
	scores := make([]float64, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		items = append(items, packItem{
			c:    c,
			kind: Classify(c.Path, c.SpanKind, c.Name, c.Content),
			cost: p.tokens.Count(req.Model, c.Content).Count,
		})
		scores = append(scores, c.Score)
	}

	t90 := quantile(scores, mustHaveQuantile)
	t70 := quantile(scores, importantQuantile)
	t40 := quantile(scores, supplementaryQuantile)
	boosts := intentBoosts[req.Intent]

	byTier := make(map[bundle.Tier][]packItem, len(bundle.Tiers))
	for i := range items {
		it := &items[i]
		switch {
		case it.c.Score >= t90:
			it.tier = bundle.TierMustHave
		case it.c.Score >= t70:
			it.tier = bundle.TierImportant
		case it.c.Score >= t40:
			it.tier = bundle.TierSupplementary
		default:
			it.tier = bundle.TierOptional
		}
		if _, ok := boosts[it.kind]; ok {
			it.tier = promote(it.tier)
		}
		byTier[it.tier] = append(byTier[it.tier], *it)
	}
	for tier := range byTier {
		sortTier(byTier[tier], prof)
	}
	return byTier
}

// quantile returns the nearest-rank quantile of the scores.
func quantile(scores []float64, q float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// promote moves a tier one step up. Must-have stays put.
func promote(t bundle.Tier) bundle.Tier {
	for i, tier := range bundle.Tiers {
		if tier == t && i > 0 {
			return bundle.Tiers[i-1]
		}
	}
	return t
}

// sortTier orders items within a tier: score, then the profile's kind
// priority, then chunk ID so equal items pack deterministically.
func sortTier(items []packItem, prof *bundle.PackingProfile) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].c.Score != items[j].c.Score {
			return items[i].c.Score > items[j].c.Score
		}
		pi, pj := prof.Priorities[items[i].kind], prof.Priorities[items[j].kind]
		if pi != pj {
			return pi > pj
		}
		return items[i].c.ChunkID < items[j].c.ChunkID
	})
}

// allocate splits the budget into per-tier allocations plus a reserve
// only the must-have tier may draw from. Shares are normalized when a
// profile oversubscribes; integer dust lands in the reserve.
func allocate(budget int, prof *bundle.PackingProfile) (map[bundle.Tier]int, int) {
	total := prof.ReserveShare
	for _, tier := range bundle.Tiers {
		total += prof.TierShares[tier]
	}
	scale := 1.0
	if total > 1 {
		scale = 1 / total
	}

	alloc := make(map[bundle.Tier]int, len(bundle.Tiers))
	sum := 0
	for _, tier := range bundle.Tiers {
		alloc[tier] = int(float64(budget) * prof.TierShares[tier] * scale)
		sum += alloc[tier]
	}
	reserve := budget - sum
	if reserve < 0 {
		reserve = 0
	}
	return alloc, reserve
}

// initialLevel raises the degrade level until the ladder's projected
// cost fits the budget. Must-have items project at full cost; the
// must-failure loop in Pack handles the case where they alone overflow.
func initialLevel(byTier map[bundle.Tier][]packItem, prof *bundle.PackingProfile, budget int) bundle.DegradeLevel {
	for level := bundle.DegradeNone; level < bundle.DegradeEmergency; level++ {
		if projectCost(byTier, prof, level) <= budget {
			return level
		}
	}
	return bundle.DegradeEmergency
}

// projectCost estimates what the prepared items would cost at a level:
// dropped tiers cost nothing, capsuled tiers their capsule budgets,
// everything else its measured size.
func projectCost(byTier map[bundle.Tier][]packItem, prof *bundle.PackingProfile, level bundle.DegradeLevel) int {
	total := 0
	for _, tier := range bundle.Tiers {
		if tierDropped(level, tier) {
			continue
		}
		capsuled := tierCapsuled(level, tier)
		for _, it := range byTier[tier] {
			if capsuled {
				c := capsuleBudget(level, it.cost, prof.CapsuleMaxToken)
				if c > it.cost {
					c = it.cost
				}
				total += c
				continue
			}
			total += it.cost
		}
	}
	return total
}

// effectiveAlloc shrinks degraded tiers and hands the released tokens
// to must-have, so each level frees real space for the top tier.
func effectiveAlloc(level bundle.DegradeLevel, alloc map[bundle.Tier]int) map[bundle.Tier]int {
	eff := make(map[bundle.Tier]int, len(alloc))
	released := 0
	for _, tier := range bundle.Tiers {
		a := alloc[tier]
		switch {
		case tier == bundle.TierMustHave:
			eff[tier] = a
		case tierDropped(level, tier):
			released += a
			eff[tier] = 0
		case tierCapsuled(level, tier):
			kept := int(float64(a) * capsuleKeepShare[level])
			released += a - kept
			eff[tier] = kept
		default:
			eff[tier] = a
		}
	}
	eff[bundle.TierMustHave] += released
	return eff
}

// packAtLevel runs one packing pass at a fixed degrade level. Unused
// allocation flows to later tiers; the reserve backs must-have only.
func (p *Packer) packAtLevel(req Request, prof *bundle.PackingProfile, byTier map[bundle.Tier][]packItem, alloc map[bundle.Tier]int, reserve int, level bundle.DegradeLevel) levelResult {
	res := levelResult{per: make(map[bundle.Tier]*bundle.TierReport, len(bundle.Tiers))}
	contentOff := req.Policy != nil && !req.Policy.IncludeContent
	eff := effectiveAlloc(level, alloc)
	reserveLeft := reserve
	slack := 0

	for _, tier := range bundle.Tiers {
		report := &bundle.TierReport{Allocated: alloc[tier]}
		res.per[tier] = report
		items := byTier[tier]

		if tierDropped(level, tier) {
			report.Skipped = len(items)
			res.dropped += len(items)
			continue
		}

		tierCap := eff[tier] + slack
		tierUsed := 0
		must := tier == bundle.TierMustHave

		for _, it := range items {
			remaining := tierCap - tierUsed
			if remaining < 0 {
				remaining = 0
			}
			if must {
				remaining += reserveLeft
			}

			item, status := p.emit(req, prof, it, level, remaining, must, contentOff)
			switch status {
			case failedMust:
				res.mustFailed = true
				return res
			case skippedItem:
				report.Skipped++
				res.dropped++
				if must && (contentOff || level >= bundle.DegradeEmergency) {
					res.overflowed = true
				}
				continue
			case emittedCapsule:
				report.Capsuled++
			case emittedTruncated:
				report.Truncated++
			}

			packed := item.PackedTokens
			before := tierUsed
			tierUsed += packed
			if must && tierUsed > tierCap {
				draw := tierUsed - tierCap
				if before > tierCap {
					draw = packed
				}
				reserveLeft -= draw
			}
			report.Items++
			report.Used += packed
			res.used += packed
			res.items = append(res.items, *item)
		}

		if tierUsed < tierCap {
			slack = tierCap - tierUsed
		} else {
			slack = 0
		}

		// A pass that somehow overran the whole budget is a must-have
		// failure: escalate rather than emit an oversized bundle.
		if res.used > req.Budget {
			if level >= bundle.DegradeEmergency {
				res.overflowed = true
			} else {
				res.mustFailed = true
			}
			return res
		}
	}
	return res
}

// emit packs one item into the remaining space, reducing it as the
// level and fit require.
func (p *Packer) emit(req Request, prof *bundle.PackingProfile, it packItem, level bundle.DegradeLevel, remaining int, must, contentOff bool) (*bundle.Item, emitStatus) {
	// Policy gate: signatures only, regardless of fit or level.
	// Escalating cannot help here, so unfittable items are skipped.
	if contentOff {
		budget := prof.CapsuleMaxToken
		if remaining < budget {
			budget = remaining
		}
		out, n := p.signatureCapsule(it.c, budget, req.Model)
		if out == "" {
			return nil, skippedItem
		}
		return makeItem(it, out, n, bundle.DegradeNone, "signature-only"), emittedCapsule
	}

	// Emergency keeps must-have signatures only; whatever fits, fits.
	if level >= bundle.DegradeEmergency {
		out, n := p.signatureCapsule(it.c, remaining, req.Model)
		if out == "" {
			return nil, skippedItem
		}
		return makeItem(it, out, n, level, "capsuled:emergency"), emittedCapsule
	}

	forced := tierCapsuled(level, it.tier)
	if !forced && it.cost <= remaining {
		return makeItem(it, it.c.Content, it.cost, bundle.DegradeNone, ""), emittedFull
	}

	if forced {
		if out, n, ok := p.capsule(it, level, remaining, prof, req.Model); ok {
			return makeItem(it, out, n, level, "capsuled"), emittedCapsule
		}
		// Capsule refused; full content is still better than nothing
		// when it fits the remaining space.
		if it.cost <= remaining {
			return makeItem(it, it.c.Content, it.cost, bundle.DegradeNone, ""), emittedFull
		}
		return nil, skippedItem
	}

	// Does not fit. Must-have falls back to a full-quality capsule or
	// escalates; levels free space for it rather than shrink it.
	if must {
		if out, n, ok := p.capsule(it, bundle.DegradeNone, remaining, prof, req.Model); ok {
			return makeItem(it, out, n, level, "capsuled"), emittedCapsule
		}
		return nil, failedMust
	}

	// Lower tiers: truncate when enough of the item survives.
	if remaining >= minTruncateTokens && float64(remaining) >= float64(it.cost)*truncateKeepShare {
		if out, n := p.truncate(it.c.Content, prof.Truncate, remaining, req.Model); out != "" {
			reason := "truncated:" + string(prof.Truncate)
			return makeItem(it, out, n, level, reason), emittedTruncated
		}
	}
	if out, n, ok := p.capsule(it, level, remaining, prof, req.Model); ok {
		return makeItem(it, out, n, level, "capsuled"), emittedCapsule
	}
	return nil, skippedItem
}

// capsule builds a level-sized capsule and gates it on fit and on
// structural similarity to the original.
func (p *Packer) capsule(it packItem, level bundle.DegradeLevel, remaining int, prof *bundle.PackingProfile, model string) (string, int, bool) {
	budget := capsuleBudget(level, it.cost, prof.CapsuleMaxToken)
	out, n := p.buildCapsule(it.c, budget, model)
	if out == "" || n > remaining {
		return "", 0, false
	}
	if structuralSimilarity(out, structuralTargets(it.c)) < SimilarityFloor {
		return "", 0, false
	}
	return out, n, true
}

// makeItem fills a bundle item from an emitted candidate. Degradation
// is recorded only when the level actually reduced the content.
func makeItem(it packItem, content string, packed int, level bundle.DegradeLevel, reason string) *bundle.Item {
	item := &bundle.Item{
		SpanRef:        it.c.SpanID,
		ChunkID:        it.c.ChunkID,
		Path:           it.c.Path,
		ChunkContent:   content,
		Source:         it.c.Source,
		Sources:        it.c.Sources,
		Score:          it.c.Score,
		Kind:           it.kind,
		Tier:           it.tier,
		Degradation:    level,
		OriginalTokens: it.cost,
		PackedTokens:   packed,
	}
	if reason != "" {
		item.Reasons = []string{reason}
	}
	return item
}

// assemble ranks the emitted items and attaches the token report and
// any stopping reasons.
func (p *Packer) assemble(req Request, res levelResult, level bundle.DegradeLevel) *bundle.Bundle {
	estUsed, actual := 0, 0
	for i := range res.items {
		res.items[i].Rank = i + 1
		estUsed += res.items[i].OriginalTokens
		actual += res.items[i].PackedTokens
	}

	per := make(map[bundle.Tier]bundle.TierReport, len(res.per))
	for tier, report := range res.per {
		per[tier] = *report
	}

	b := &bundle.Bundle{
		Query:  req.Query,
		Intent: req.Intent,
		Items:  res.items,
		TokenReport: bundle.TokenReport{
			Budget:      req.Budget,
			EstUsed:     estUsed,
			Actual:      actual,
			Model:       req.Model,
			PerTier:     per,
			Degradation: level,
		},
		Degradation: level,
		CreatedAt:   time.Now(),
	}

	switch {
	case res.overflowed:
		b.AddReason(bundle.StoppingReason{
			Category: bundle.ReasonResource,
			Severity: bundle.SeverityCritical,
			Stage:    "pack",
			Message:  fmt.Sprintf("budget of %d tokens cannot hold even must-have signatures; packed %d", req.Budget, actual),
			Hint:     "raise the token budget or narrow the query",
		})
	case level >= bundle.DegradeSevere:
		b.AddReason(bundle.StoppingReason{
			Category: bundle.ReasonResource,
			Severity: bundle.SeverityWarning,
			Stage:    "pack",
			Message:  fmt.Sprintf("degrade level %s dropped %d lower-tier items to fit %d tokens", level, res.dropped, req.Budget),
		})
	case level > bundle.DegradeNone:
		b.AddReason(bundle.StoppingReason{
			Category: bundle.ReasonResource,
			Severity: bundle.SeverityInfo,
			Stage:    "pack",
			Message:  fmt.Sprintf("degrade level %s reduced lower-tier items to fit %d tokens", level, req.Budget),
		})
	}

	p.log.Debug("packed",
		slog.Int("candidates", len(req.Candidates)),
		slog.Int("items", len(res.items)),
		slog.Int("budget", req.Budget),
		slog.Int("actual", actual),
		slog.String("degradation", level.String()))
	return b
}
