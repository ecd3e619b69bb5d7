// Package session tracks who is asking. A session groups the
// interactions of one working context; every assembled bundle records
// an interaction against it, and post-hoc feedback (clicks, explicit
// satisfaction, time to fix) lands on the interaction row the learner
// later reads.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/store"
)

// DefaultRetention is how long an idle session survives before Prune
// removes it along with its interactions and unpinned memories.
const DefaultRetention = 30 * 24 * time.Hour

// Store is the persistence surface the manager needs.
type Store interface {
	UpsertSession(ctx context.Context, sess *bundle.Session) error
	SessionByID(ctx context.Context, id string) (*bundle.Session, error)
	TouchSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	PruneSessions(ctx context.Context, cutoff time.Time) (int, error)
	RecordInteraction(ctx context.Context, it *bundle.Interaction) error
	UpdateInteractionOutcome(ctx context.Context, id string, satisfied *bool, topClick string, timeToFix time.Duration) error
	InteractionByID(ctx context.Context, id string) (*bundle.Interaction, error)
	ListInteractions(ctx context.Context, filter *store.InteractionFilter) ([]*bundle.Interaction, error)
}

// Manager handles session lifecycle and interaction recording.
type Manager struct {
	store     Store
	retention time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetention overrides how long idle sessions are kept.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a session manager over the store.
func NewManager(s Store, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		retention: DefaultRetention,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns the session with the given id, creating it if needed.
// An empty id mints a fresh session. Existing sessions get their
// last-used time bumped and their repo updated when one is given.
func (m *Manager) Open(ctx context.Context, id, repo string) (*bundle.Session, error) {
	const op = "session.Open"

	if id == "" {
		sess := &bundle.Session{
			ID:        uuid.NewString(),
			Repo:      repo,
			CreatedAt: m.now(),
			LastUsed:  m.now(),
		}
		if err := m.store.UpsertSession(ctx, sess); err != nil {
			return nil, errors.Wrap(errors.KindOf(err), op, err)
		}
		m.log.Debug("session_created", slog.String("session", sess.ID))
		return sess, nil
	}

	existing, err := m.store.SessionByID(ctx, id)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	sess := &bundle.Session{ID: id, Repo: repo, LastUsed: m.now()}
	if existing != nil {
		sess.CreatedAt = existing.CreatedAt
		if repo == "" {
			sess.Repo = existing.Repo
		}
	} else {
		sess.CreatedAt = m.now()
	}
	if err := m.store.UpsertSession(ctx, sess); err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	return sess, nil
}

// Get fetches a session without touching it.
func (m *Manager) Get(ctx context.Context, id string) (*bundle.Session, error) {
	const op = "session.Get"
	sess, err := m.store.SessionByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	return sess, nil
}

// Delete removes a session; its interactions and unpinned memories
// cascade away with it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	const op = "session.Delete"
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	m.log.Debug("session_deleted", slog.String("session", id))
	return nil
}

// Prune removes sessions idle past the retention window.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	const op = "session.Prune"
	pruned, err := m.store.PruneSessions(ctx, m.now().Add(-m.retention))
	if err != nil {
		return 0, errors.Wrap(errors.KindOf(err), op, err)
	}
	if pruned > 0 {
		m.log.Info("sessions_pruned", slog.Int("count", pruned))
	}
	return pruned, nil
}

// Record stores one query round trip against its session. Missing ids
// and timestamps are filled in; the session is opened on demand so a
// first query never fails on a missing row.
func (m *Manager) Record(ctx context.Context, it *bundle.Interaction) (*bundle.Interaction, error) {
	const op = "session.Record"
	if it == nil {
		return nil, errors.E(errors.KindInvalidInput, op, "interaction is nil", nil)
	}

	rec := *it
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	if rec.SessionID == "" {
		sess, err := m.Open(ctx, "", rec.Repo)
		if err != nil {
			return nil, err
		}
		rec.SessionID = sess.ID
	} else if _, err := m.Open(ctx, rec.SessionID, rec.Repo); err != nil {
		return nil, err
	}

	if err := m.store.RecordInteraction(ctx, &rec); err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	return &rec, nil
}

// Outcome is post-hoc feedback for a recorded interaction.
type Outcome struct {
	// Satisfied is the explicit user verdict; nil leaves it unset.
	Satisfied *bool
	// TopClick is the chunk id the user opened first.
	TopClick string
	// TimeToFix is how long until the user resolved their problem.
	TimeToFix time.Duration
}

// MarkOutcome attaches feedback to an interaction.
func (m *Manager) MarkOutcome(ctx context.Context, interactionID string, out Outcome) error {
	const op = "session.MarkOutcome"
	if interactionID == "" {
		return errors.E(errors.KindInvalidInput, op, "interaction id is required", nil)
	}
	if err := m.store.UpdateInteractionOutcome(ctx, interactionID, out.Satisfied, out.TopClick, out.TimeToFix); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	return nil
}

// Interaction fetches one recorded interaction.
func (m *Manager) Interaction(ctx context.Context, id string) (*bundle.Interaction, error) {
	const op = "session.Interaction"
	it, err := m.store.InteractionByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	return it, nil
}

// Interactions lists recorded interactions, newest first.
func (m *Manager) Interactions(ctx context.Context, filter *store.InteractionFilter) ([]*bundle.Interaction, error) {
	const op = "session.Interactions"
	items, err := m.store.ListInteractions(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	return items, nil
}
