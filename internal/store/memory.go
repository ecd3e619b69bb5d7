package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// MemoryHit is a memory item matched by full-text search.
type MemoryHit struct {
	Memory *bundle.Memory
	Score  float64
}

// MemoryLink anchors a memory item to a code span.
type MemoryLink struct {
	MemoryID  string
	SpanID    string
	Label     string
	Note      string
	CreatedAt time.Time
}

// UpsertMemory inserts or replaces one memory item. Items with a
// session scope require the session row to exist.
func (s *Store) UpsertMemory(ctx context.Context, m *bundle.Memory) error {
	const op = "store.UpsertMemory"
	if m.ID == "" {
		return errors.E(errors.KindInvalidInput, op, "memory id is required", nil)
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.E(errors.KindInvalidInput, op, "memory content is empty", nil)
	}

	meta, err := json.Marshal(metadataOrEmpty(m.Metadata))
	if err != nil {
		return errors.E(errors.KindInvalidInput, op, "metadata is not serializable", err)
	}
	kind := m.Kind
	if kind == "" {
		kind = "note"
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory_items (id, session_id, kind, key, content, metadata, created_at, expires_at, pinned)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				session_id = excluded.session_id,
				kind       = excluded.kind,
				key        = excluded.key,
				content    = excluded.content,
				metadata   = excluded.metadata,
				expires_at = excluded.expires_at,
				pinned     = excluded.pinned
		`, m.ID, nullString(m.SessionID), kind, m.Key, m.Content, string(meta),
			createdAt.Unix(), unixOrNull(m.ExpiresAt), boolToInt(m.Pinned))
		return err
	})
}

// MemoryByID fetches one memory item.
func (s *Store) MemoryByID(ctx context.Context, id string) (*bundle.Memory, error) {
	const op = "store.MemoryByID"
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, kind, key, content, metadata, created_at, expires_at, pinned
		FROM memory_items WHERE id = ?
	`, id)
	m, err := scanMemory(row)
	if err != nil {
		return nil, classify(op, err)
	}
	return m, nil
}

// MemoryByKey fetches the memory with a given key in a session scope.
// An empty session matches only globally scoped memories.
func (s *Store) MemoryByKey(ctx context.Context, sessionID, key string) (*bundle.Memory, error) {
	const op = "store.MemoryByKey"
	if err := s.ready(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "memory key is empty", nil)
	}

	query := `SELECT id, session_id, kind, key, content, metadata, created_at, expires_at, pinned
		FROM memory_items WHERE key = ?`
	args := []any{key}
	if sessionID == "" {
		query += ` AND session_id IS NULL`
	} else {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	m, err := scanMemory(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, classify(op, err)
	}
	return m, nil
}

// ListMemories returns a session's items newest first. Expired items
// are skipped unless includeExpired is set; an empty session lists
// globally scoped items.
func (s *Store) ListMemories(ctx context.Context, sessionID string, includeExpired bool) ([]*bundle.Memory, error) {
	const op = "store.ListMemories"
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `SELECT id, session_id, kind, key, content, metadata, created_at, expires_at, pinned
		FROM memory_items`
	var args []any
	if sessionID == "" {
		query += ` WHERE session_id IS NULL`
	} else {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	if !includeExpired {
		query += ` AND (pinned = 1 OR expires_at IS NULL OR expires_at > ?)`
		args = append(args, s.now().Unix())
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var items []*bundle.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		items = append(items, m)
	}
	return items, classify(op, rows.Err())
}

// SearchMemories runs full-text search over memory content and
// metadata. Results cover both the session's items and globally
// scoped items; expired ones are excluded.
func (s *Store) SearchMemories(ctx context.Context, query, sessionID string, k int) ([]*MemoryHit, error) {
	const op = "store.SearchMemories"
	if err := s.ready(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	match := buildMatchQuery(query)
	if match == "" {
		return []*MemoryHit{}, nil
	}

	sqlQuery := `
		SELECT m.id, m.session_id, m.kind, m.key, m.content, m.metadata,
		       m.created_at, m.expires_at, m.pinned, f.rank
		FROM memory_fts f
		JOIN memory_items m ON m.id = f.memory_id
		WHERE memory_fts MATCH ?
		  AND (m.pinned = 1 OR m.expires_at IS NULL OR m.expires_at > ?)`
	args := []any{match, s.now().Unix()}
	if sessionID != "" {
		sqlQuery += ` AND (m.session_id = ? OR m.session_id IS NULL)`
		args = append(args, sessionID)
	}
	sqlQuery += ` ORDER BY f.rank LIMIT ?`
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		if isFTSSyntaxError(err) {
			return []*MemoryHit{}, nil
		}
		return nil, classify(op, err)
	}
	defer rows.Close()

	var hits []*MemoryHit
	for rows.Next() {
		var m bundle.Memory
		var sessionID sql.NullString
		var meta string
		var createdAt int64
		var expiresAt sql.NullInt64
		var pinned int
		var rank float64
		if err := rows.Scan(&m.ID, &sessionID, &m.Kind, &m.Key, &m.Content, &meta,
			&createdAt, &expiresAt, &pinned, &rank); err != nil {
			return nil, classify(op, err)
		}
		m.SessionID = sessionID.String
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		m.ExpiresAt = timeOrZero(expiresAt)
		m.Pinned = pinned != 0
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			m.Metadata = nil
		}
		hits = append(hits, &MemoryHit{Memory: &m, Score: -rank})
	}
	return hits, classify(op, rows.Err())
}

// SetMemoryPinned toggles the pinned flag. Pinned items never expire
// and never get pruned.
func (s *Store) SetMemoryPinned(ctx context.Context, id string, pinned bool) error {
	const op = "store.SetMemoryPinned"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE memory_items SET pinned = ? WHERE id = ?`, boolToInt(pinned), id)
		if err != nil {
			return err
		}
		return requireRowAffected(res)
	})
}

// DeleteMemory removes one item and its span links.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	const op = "store.DeleteMemory"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM memory_items WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireRowAffected(res)
	})
}

// PruneExpiredMemories deletes unpinned items past their TTL and
// reports how many were removed.
func (s *Store) PruneExpiredMemories(ctx context.Context) (int, error) {
	const op = "store.PruneExpiredMemories"
	var pruned int
	err := s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM memory_items
			WHERE pinned = 0 AND expires_at IS NOT NULL AND expires_at <= ?
		`, s.now().Unix())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		pruned = int(n)
		return err
	})
	return pruned, err
}

// LinkMemory anchors a memory to a span. Re-linking updates the label
// and note.
func (s *Store) LinkMemory(ctx context.Context, memoryID, spanID, label, note string) error {
	const op = "store.LinkMemory"
	if memoryID == "" || spanID == "" {
		return errors.E(errors.KindInvalidInput, op, "memory id and span id are required", nil)
	}
	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory_links (memory_id, span_id, label, note, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(memory_id, span_id) DO UPDATE SET
				label = excluded.label,
				note  = excluded.note
		`, memoryID, spanID, label, note, s.now().Unix())
		return err
	})
}

// UnlinkMemory removes one memory-to-span anchor.
func (s *Store) UnlinkMemory(ctx context.Context, memoryID, spanID string) error {
	const op = "store.UnlinkMemory"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM memory_links WHERE memory_id = ? AND span_id = ?`, memoryID, spanID)
		if err != nil {
			return err
		}
		return requireRowAffected(res)
	})
}

// MemoryLinks lists the span anchors of one memory.
func (s *Store) MemoryLinks(ctx context.Context, memoryID string) ([]*MemoryLink, error) {
	const op = "store.MemoryLinks"
	return s.queryMemoryLinks(ctx, op,
		`SELECT memory_id, span_id, label, note, created_at
		 FROM memory_links WHERE memory_id = ? ORDER BY span_id`, memoryID)
}

// MemoriesForSpan returns unexpired memories anchored to a span.
func (s *Store) MemoriesForSpan(ctx context.Context, spanID string) ([]*bundle.Memory, error) {
	const op = "store.MemoriesForSpan"
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.session_id, m.kind, m.key, m.content, m.metadata,
		       m.created_at, m.expires_at, m.pinned
		FROM memory_links l
		JOIN memory_items m ON m.id = l.memory_id
		WHERE l.span_id = ?
		  AND (m.pinned = 1 OR m.expires_at IS NULL OR m.expires_at > ?)
		ORDER BY m.created_at DESC, m.id
	`, spanID, s.now().Unix())
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var items []*bundle.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		items = append(items, m)
	}
	return items, classify(op, rows.Err())
}

func (s *Store) queryMemoryLinks(ctx context.Context, op, query string, args ...any) ([]*MemoryLink, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var links []*MemoryLink
	for rows.Next() {
		var l MemoryLink
		var createdAt int64
		if err := rows.Scan(&l.MemoryID, &l.SpanID, &l.Label, &l.Note, &createdAt); err != nil {
			return nil, classify(op, err)
		}
		l.CreatedAt = time.Unix(createdAt, 0).UTC()
		links = append(links, &l)
	}
	return links, classify(op, rows.Err())
}

func scanMemory(row rowScanner) (*bundle.Memory, error) {
	var m bundle.Memory
	var sessionID sql.NullString
	var meta string
	var createdAt int64
	var expiresAt sql.NullInt64
	var pinned int
	if err := row.Scan(&m.ID, &sessionID, &m.Kind, &m.Key, &m.Content, &meta,
		&createdAt, &expiresAt, &pinned); err != nil {
		return nil, err
	}
	m.SessionID = sessionID.String
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	m.ExpiresAt = timeOrZero(expiresAt)
	m.Pinned = pinned != 0
	if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
		m.Metadata = nil
	}
	return &m, nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// requireRowAffected turns a zero-row write into sql.ErrNoRows so the
// caller's classifier reports NotFound.
func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
