// Package memory manages remembered facts and span pins: session-
// scoped notes the memory seed generator can retrieve alongside code.
// The service is a thin policy layer over the store's memory tables;
// it owns id generation, TTL defaults, and the pinning rules.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/store"
)

// Service defaults.
const (
	// DefaultTTL applies to unpinned memories created without one.
	DefaultTTL = 30 * 24 * time.Hour
	// KindNote is the default memory kind.
	KindNote = "note"
	// KindSpanPin marks memories created by PinSpan.
	KindSpanPin = "span_pin"
	// DefaultQueryK bounds RememberQuery results.
	DefaultQueryK = 20
)

// Store is the persistence surface the service needs. The session
// methods let Create open the owning session on demand, mirroring how
// interaction recording does it.
type Store interface {
	UpsertSession(ctx context.Context, sess *bundle.Session) error
	SessionByID(ctx context.Context, id string) (*bundle.Session, error)
	UpsertMemory(ctx context.Context, m *bundle.Memory) error
	MemoryByID(ctx context.Context, id string) (*bundle.Memory, error)
	MemoryByKey(ctx context.Context, sessionID, key string) (*bundle.Memory, error)
	ListMemories(ctx context.Context, sessionID string, includeExpired bool) ([]*bundle.Memory, error)
	SearchMemories(ctx context.Context, query, sessionID string, k int) ([]*store.MemoryHit, error)
	SetMemoryPinned(ctx context.Context, id string, pinned bool) error
	DeleteMemory(ctx context.Context, id string) error
	PruneExpiredMemories(ctx context.Context) (int, error)
	LinkMemory(ctx context.Context, memoryID, spanID, label, note string) error
	UnlinkMemory(ctx context.Context, memoryID, spanID string) error
	MemoryLinks(ctx context.Context, memoryID string) ([]*store.MemoryLink, error)
	MemoriesForSpan(ctx context.Context, spanID string) ([]*bundle.Memory, error)
	SpanByID(ctx context.Context, id string) (*bundle.Span, error)
}

// Service exposes the memory operations.
type Service struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the default memory lifetime.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a memory service over the store.
func New(st Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		ttl:   DefaultTTL,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest describes one memory to remember.
type CreateRequest struct {
	SessionID string
	// Kind defaults to "note".
	Kind string
	// Key, when set, makes the memory addressable: a second create
	// with the same (session, key) replaces the first.
	Key      string
	Content  string
	Metadata map[string]string
	// TTL defaults to DefaultTTL; ignored for pinned memories.
	TTL    time.Duration
	Pinned bool
}

// Create remembers one fact. Keyed memories replace their predecessor
// in place, keeping the original id.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*bundle.Memory, error) {
	const op = "memory.Create"
	if strings.TrimSpace(req.Content) == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "content is empty", nil)
	}

	kind := req.Kind
	if kind == "" {
		kind = KindNote
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	m := &bundle.Memory{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Kind:      kind,
		Key:       req.Key,
		Content:   req.Content,
		Metadata:  req.Metadata,
		CreatedAt: s.now(),
		Pinned:    req.Pinned,
	}
	if !req.Pinned {
		m.ExpiresAt = m.CreatedAt.Add(ttl)
	}

	if req.Key != "" {
		prev, err := s.store.MemoryByKey(ctx, req.SessionID, req.Key)
		if err != nil && !errors.IsKind(err, errors.KindNotFound) {
			return nil, errors.Wrap(errors.KindOf(err), op, err)
		}
		if prev != nil {
			m.ID = prev.ID
			m.CreatedAt = prev.CreatedAt
		}
	}

	if err := s.ensureSession(ctx, req.SessionID); err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	if err := s.store.UpsertMemory(ctx, m); err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	s.log.Debug("memory_created",
		slog.String("id", m.ID),
		slog.String("kind", m.Kind),
		slog.Bool("pinned", m.Pinned))
	return m, nil
}

// ensureSession upserts the owning session row so a first remember
// never trips the memory's foreign key. A global memory (empty id)
// needs no row.
func (s *Service) ensureSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	existing, err := s.store.SessionByID(ctx, id)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return err
	}
	sess := &bundle.Session{ID: id, LastUsed: s.now()}
	if existing != nil {
		sess.CreatedAt = existing.CreatedAt
		sess.Repo = existing.Repo
	} else {
		sess.CreatedAt = s.now()
	}
	return s.store.UpsertSession(ctx, sess)
}

// QueryRequest filters remembered facts.
type QueryRequest struct {
	SessionID string
	// Query, when set, ranks memories by text match; empty lists all.
	Query string
	// Kind filters by memory kind when set.
	Kind string
	// K bounds results; zero uses the default.
	K              int
	IncludeExpired bool
}

// Hit is one query result. Score is zero for unranked listings.
type Hit struct {
	Memory *bundle.Memory `json:"memory"`
	Score  float64        `json:"score,omitempty"`
}

// Query returns remembered facts, ranked when a query string is given.
func (s *Service) Query(ctx context.Context, req QueryRequest) ([]Hit, error) {
	const op = "memory.Query"
	k := req.K
	if k <= 0 {
		k = DefaultQueryK
	}

	var hits []Hit
	if strings.TrimSpace(req.Query) == "" {
		items, err := s.store.ListMemories(ctx, req.SessionID, req.IncludeExpired)
		if err != nil {
			return nil, errors.Wrap(errors.KindOf(err), op, err)
		}
		for _, m := range items {
			hits = append(hits, Hit{Memory: m})
		}
	} else {
		found, err := s.store.SearchMemories(ctx, req.Query, req.SessionID, k)
		if err != nil {
			return nil, errors.Wrap(errors.KindOf(err), op, err)
		}
		for _, h := range found {
			hits = append(hits, Hit{Memory: h.Memory, Score: h.Score})
		}
	}

	if req.Kind != "" {
		kept := hits[:0]
		for _, h := range hits {
			if h.Memory.Kind == req.Kind {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Forget deletes a memory by id.
func (s *Service) Forget(ctx context.Context, id string) error {
	const op = "memory.Forget"
	if id == "" {
		return errors.E(errors.KindInvalidInput, op, "memory id is required", nil)
	}
	if err := s.store.DeleteMemory(ctx, id); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	s.log.Debug("memory_forgotten", slog.String("id", id))
	return nil
}

// ForgetByKey deletes the keyed memory of a session, if present.
func (s *Service) ForgetByKey(ctx context.Context, sessionID, key string) error {
	const op = "memory.ForgetByKey"
	m, err := s.store.MemoryByKey(ctx, sessionID, key)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return errors.E(errors.KindNotFound, op, "no memory under key "+key, nil)
		}
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	return s.Forget(ctx, m.ID)
}

// PinSpan pins a code span: a pinned span_pin memory whose content
// names the span, linked to it through memory_links so re-indexing
// and recall can find it from either side.
func (s *Service) PinSpan(ctx context.Context, sessionID, spanID, label, note string) (*bundle.Memory, error) {
	const op = "memory.PinSpan"
	if spanID == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "span id is required", nil)
	}

	span, err := s.store.SpanByID(ctx, spanID)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}

	content := label
	if content == "" {
		content = span.Name
	}
	if content == "" {
		content = span.Path
	}

	m, err := s.Create(ctx, CreateRequest{
		SessionID: sessionID,
		Kind:      KindSpanPin,
		Content:   content,
		Metadata: map[string]string{
			"span_id": span.ID,
			"path":    span.Path,
			"repo":    span.Repo,
		},
		Pinned: true,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.LinkMemory(ctx, m.ID, spanID, label, note); err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	return m, nil
}

// UnpinSpan removes a span pin and its anchoring memory.
func (s *Service) UnpinSpan(ctx context.Context, memoryID, spanID string) error {
	const op = "memory.UnpinSpan"
	if err := s.store.UnlinkMemory(ctx, memoryID, spanID); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	return s.Forget(ctx, memoryID)
}

// SetPinned flips retention for an existing memory. A pinned memory
// never expires; unpinning lets its original expiry apply again.
func (s *Service) SetPinned(ctx context.Context, id string, pinned bool) error {
	const op = "memory.SetPinned"
	if err := s.store.SetMemoryPinned(ctx, id, pinned); err != nil {
		return errors.Wrap(errors.KindOf(err), op, err)
	}
	return nil
}

// ForSpan lists memories pinned to a span.
func (s *Service) ForSpan(ctx context.Context, spanID string) ([]*bundle.Memory, error) {
	const op = "memory.ForSpan"
	items, err := s.store.MemoriesForSpan(ctx, spanID)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	return items, nil
}

// Links lists the span anchors of a memory.
func (s *Service) Links(ctx context.Context, memoryID string) ([]*store.MemoryLink, error) {
	const op = "memory.Links"
	links, err := s.store.MemoryLinks(ctx, memoryID)
	if err != nil {
		return nil, errors.Wrap(errors.KindOf(err), op, err)
	}
	return links, nil
}

// Prune deletes expired, unpinned memories and reports the count.
func (s *Service) Prune(ctx context.Context) (int, error) {
	pruned, err := s.store.PruneExpiredMemories(ctx)
	if err != nil {
		return 0, errors.Wrap(errors.KindOf(err), "memory.Prune", err)
	}
	if pruned > 0 {
		s.log.Debug("memories_pruned", slog.Int("count", pruned))
	}
	return pruned, nil
}
