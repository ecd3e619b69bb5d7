package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pampax/pampax/internal/errors"
)

// SignatureEntry is a cached bundle for a repeated query signature.
type SignatureEntry struct {
	Signature    string
	BundleID     string
	Payload      string
	Satisfaction float64
	TTL          time.Duration
	UsageCount   int
	LastUsed     time.Time
	CreatedAt    time.Time
}

// Expired reports whether the entry's TTL has elapsed.
func (e *SignatureEntry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// SearchLogEntry is one recorded search for diagnostics.
type SearchLogEntry struct {
	ID          int64
	Query       string
	Intent      string
	ResultCount int
	Duration    time.Duration
	CreatedAt   time.Time
}

// PutRerankCache stores a provider response under its cache key.
func (s *Store) PutRerankCache(ctx context.Context, key, provider, model, payload string, ttl time.Duration) error {
	const op = "store.PutRerankCache"
	if key == "" {
		return errors.E(errors.KindInvalidInput, op, "cache key is empty", nil)
	}
	if ttl <= 0 {
		return errors.E(errors.KindInvalidInput, op, "ttl must be positive", nil)
	}
	now := s.now()

	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rerank_cache (cache_key, provider, model, payload, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(cache_key) DO UPDATE SET
				provider   = excluded.provider,
				model      = excluded.model,
				payload    = excluded.payload,
				created_at = excluded.created_at,
				expires_at = excluded.expires_at
		`, key, provider, model, payload, now.Unix(), now.Add(ttl).Unix())
		return err
	})
}

// GetRerankCache returns the cached payload for a key, or ok=false
// when absent or expired.
func (s *Store) GetRerankCache(ctx context.Context, key string) (string, bool, error) {
	const op = "store.GetRerankCache"
	if err := s.ready(); err != nil {
		return "", false, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM rerank_cache
		WHERE cache_key = ? AND expires_at > ?
	`, key, s.now().Unix()).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(op, err)
	}
	return payload, true, nil
}

// PruneRerankCache deletes expired rows and reports how many were
// removed.
func (s *Store) PruneRerankCache(ctx context.Context) (int, error) {
	const op = "store.PruneRerankCache"
	var pruned int
	err := s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM rerank_cache WHERE expires_at <= ?`, s.now().Unix())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		pruned = int(n)
		return err
	})
	return pruned, err
}

// PutSignature stores a bundle for replay on signature match.
func (s *Store) PutSignature(ctx context.Context, e *SignatureEntry) error {
	const op = "store.PutSignature"
	if e.Signature == "" {
		return errors.E(errors.KindInvalidInput, op, "signature is empty", nil)
	}
	if e.TTL <= 0 {
		return errors.E(errors.KindInvalidInput, op, "ttl must be positive", nil)
	}
	now := s.now()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastUsed := e.LastUsed
	if lastUsed.IsZero() {
		lastUsed = now
	}

	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO signature_cache (query_signature, bundle_id, payload, satisfaction,
				ttl_seconds, usage_count, last_used, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(query_signature) DO UPDATE SET
				bundle_id    = excluded.bundle_id,
				payload      = excluded.payload,
				satisfaction = excluded.satisfaction,
				ttl_seconds  = excluded.ttl_seconds,
				last_used    = excluded.last_used,
				created_at   = excluded.created_at
		`, e.Signature, e.BundleID, e.Payload, e.Satisfaction,
			int64(e.TTL/time.Second), e.UsageCount, lastUsed.Unix(), createdAt.Unix())
		return err
	})
}

// GetSignature returns a live cache entry and bumps its usage
// counters. Expired entries are deleted on sight and report nil.
func (s *Store) GetSignature(ctx context.Context, signature string) (*SignatureEntry, error) {
	const op = "store.GetSignature"
	if err := s.ready(); err != nil {
		return nil, err
	}

	var e SignatureEntry
	var ttlSeconds, lastUsed, createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT query_signature, bundle_id, payload, satisfaction,
		       ttl_seconds, usage_count, last_used, created_at
		FROM signature_cache WHERE query_signature = ?
	`, signature).Scan(&e.Signature, &e.BundleID, &e.Payload, &e.Satisfaction,
		&ttlSeconds, &e.UsageCount, &lastUsed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	e.TTL = time.Duration(ttlSeconds) * time.Second
	e.LastUsed = time.Unix(lastUsed, 0).UTC()
	e.CreatedAt = time.Unix(createdAt, 0).UTC()

	if e.Expired(s.now()) {
		err := s.write(ctx, op, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM signature_cache WHERE query_signature = ?`, signature)
			return err
		})
		if err != nil {
			return nil, err
		}
		return nil, nil
	}

	e.UsageCount++
	e.LastUsed = s.now()
	err = s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE signature_cache SET usage_count = usage_count + 1, last_used = ?
			WHERE query_signature = ?
		`, e.LastUsed.Unix(), signature)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// InvalidateSignatures clears the whole signature cache. Called when
// the index content changes underneath cached bundles.
func (s *Store) InvalidateSignatures(ctx context.Context) error {
	const op = "store.InvalidateSignatures"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM signature_cache`)
		return err
	})
}

// PruneSignatures deletes entries past their TTL and reports how many
// were removed.
func (s *Store) PruneSignatures(ctx context.Context) (int, error) {
	const op = "store.PruneSignatures"
	var pruned int
	err := s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM signature_cache WHERE created_at + ttl_seconds <= ?`, s.now().Unix())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		pruned = int(n)
		return err
	})
	return pruned, err
}

// LogSearch appends one row to the search log.
func (s *Store) LogSearch(ctx context.Context, query, intent string, resultCount int, duration time.Duration) error {
	const op = "store.LogSearch"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO search_log (query, intent, result_count, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, query, intent, resultCount, duration.Milliseconds(), s.now().Unix())
		return err
	})
}

// RecentSearches lists the latest search log rows, newest first.
func (s *Store) RecentSearches(ctx context.Context, limit int) ([]*SearchLogEntry, error) {
	const op = "store.RecentSearches"
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, intent, result_count, duration_ms, created_at
		FROM search_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var entries []*SearchLogEntry
	for rows.Next() {
		var e SearchLogEntry
		var durationMS, createdAt int64
		if err := rows.Scan(&e.ID, &e.Query, &e.Intent, &e.ResultCount, &durationMS, &createdAt); err != nil {
			return nil, classify(op, err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, &e)
	}
	return entries, classify(op, rows.Err())
}
