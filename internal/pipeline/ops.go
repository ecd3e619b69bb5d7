package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/learner"
	"github.com/pampax/pampax/internal/rerank"
	"github.com/pampax/pampax/internal/session"
	"github.com/pampax/pampax/internal/sigcache"
)

// Satisfaction scores attached to implicit feedback. Explicit verdicts
// score 1.0 or 0.0; a click or a fast fix lands just above the
// signature cache floor.
const implicitSatisfaction = 0.85

// Feedback is post-hoc quality evidence for an assembled bundle.
type Feedback struct {
	InteractionID string
	// Satisfied is the explicit verdict; nil means implicit only.
	Satisfied *bool
	// TopClick is the chunk id the user opened first.
	TopClick string
	// TimeToFix is how long until the user resolved their problem.
	TimeToFix time.Duration
}

// MarkOutcome records feedback against an interaction and, when the
// evidence clears the satisfaction floor, promotes the bundle into the
// signature cache.
func (p *Pipeline) MarkOutcome(ctx context.Context, fb Feedback) error {
	const op = "pipeline.MarkOutcome"
	if fb.InteractionID == "" {
		return errors.E(errors.KindInvalidInput, op, "interaction id is required", nil)
	}

	if err := p.deps.Sessions.MarkOutcome(ctx, fb.InteractionID, session.Outcome{
		Satisfied: fb.Satisfied,
		TopClick:  fb.TopClick,
		TimeToFix: fb.TimeToFix,
	}); err != nil {
		return err
	}

	score := satisfactionScore(fb)
	if score <= sigcache.SatisfactionFloor || p.deps.Signatures == nil {
		return nil
	}
	entry, ok := p.recent.Get(fb.InteractionID)
	if !ok {
		return nil
	}
	if err := p.deps.Signatures.Record(ctx, entry.query, entry.intent, entry.sctx,
		fb.InteractionID, entry.bundle, score); err != nil {
		// Cache promotion is best effort; the outcome row is already
		// written.
		p.log.Warn("signature_record_failed", slog.Any("error", err))
	}
	return nil
}

// satisfactionScore maps feedback to the [0,1] scale the signature
// cache gates on. An explicit verdict wins; a click or a fix under the
// analyzer's threshold counts as implicit satisfaction.
func satisfactionScore(fb Feedback) float64 {
	if fb.Satisfied != nil {
		if *fb.Satisfied {
			return 1.0
		}
		return 0.0
	}
	if fb.TopClick != "" {
		return implicitSatisfaction
	}
	if fb.TimeToFix > 0 && fb.TimeToFix <= 5*time.Minute {
		return implicitSatisfaction
	}
	return 0.0
}

// Rerank rescores candidate documents through the provider bus.
func (p *Pipeline) Rerank(ctx context.Context, query string, docs []rerank.Document, opts rerank.Options) ([]rerank.Ranked, error) {
	const op = "pipeline.Rerank"
	if p.deps.Rerank == nil {
		return nil, errors.E(errors.KindUnavailable, op, "no rerank providers configured", nil)
	}
	return p.deps.Rerank.Rerank(ctx, query, docs, opts)
}

// Learn runs the offline tuner over the recorded interaction window.
func (p *Pipeline) Learn(ctx context.Context, req learner.Request) (*learner.Report, error) {
	const op = "pipeline.Learn"
	if p.deps.Learner == nil {
		return nil, errors.E(errors.KindUnavailable, op, "learner is not configured", nil)
	}
	return p.deps.Learner.Learn(ctx, req)
}

// RollbackLearn restores the policies captured by a Learn run.
func (p *Pipeline) RollbackLearn(ctx context.Context, rec *learner.RollbackRecord) error {
	const op = "pipeline.RollbackLearn"
	if p.deps.Learner == nil {
		return errors.E(errors.KindUnavailable, op, "learner is not configured", nil)
	}
	return p.deps.Learner.Rollback(ctx, rec)
}
