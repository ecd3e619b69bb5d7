package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// InteractionFilter narrows ListInteractions.
type InteractionFilter struct {
	Intent   bundle.Intent
	Repo     string
	Language string
	// Since excludes interactions recorded before this time.
	Since time.Time
	// SatisfiedOnly keeps interactions that carry an explicit
	// satisfied or unsatisfied signal.
	SatisfiedOnly bool
	Limit         int
}

// UpsertSession creates a session or refreshes its last-used time.
func (s *Store) UpsertSession(ctx context.Context, sess *bundle.Session) error {
	const op = "store.UpsertSession"
	if sess.ID == "" {
		return errors.E(errors.KindInvalidInput, op, "session id is required", nil)
	}
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	lastUsed := sess.LastUsed
	if lastUsed.IsZero() {
		lastUsed = createdAt
	}

	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, repo, created_at, last_used)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				repo      = excluded.repo,
				last_used = excluded.last_used
		`, sess.ID, sess.Repo, createdAt.Unix(), lastUsed.Unix())
		return err
	})
}

// SessionByID fetches one session.
func (s *Store) SessionByID(ctx context.Context, id string) (*bundle.Session, error) {
	const op = "store.SessionByID"
	if err := s.ready(); err != nil {
		return nil, err
	}

	var sess bundle.Session
	var createdAt, lastUsed int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repo, created_at, last_used FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Repo, &createdAt, &lastUsed)
	if err != nil {
		return nil, classify(op, err)
	}
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.LastUsed = time.Unix(lastUsed, 0).UTC()
	return &sess, nil
}

// TouchSession bumps a session's last-used time.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	const op = "store.TouchSession"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_used = ? WHERE id = ?`, s.now().Unix(), id)
		if err != nil {
			return err
		}
		return requireRowAffected(res)
	})
}

// DeleteSession removes a session and cascades to its memories and
// interactions.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	const op = "store.DeleteSession"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireRowAffected(res)
	})
}

// PruneSessions deletes sessions idle since the cutoff and reports how
// many were removed.
func (s *Store) PruneSessions(ctx context.Context, cutoff time.Time) (int, error) {
	const op = "store.PruneSessions"
	var pruned int
	err := s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE last_used < ?`, cutoff.Unix())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		pruned = int(n)
		return err
	})
	return pruned, err
}

// RecordInteraction stores one query round trip. The session row must
// exist.
func (s *Store) RecordInteraction(ctx context.Context, it *bundle.Interaction) error {
	const op = "store.RecordInteraction"
	if it.ID == "" || it.SessionID == "" {
		return errors.E(errors.KindInvalidInput, op, "interaction id and session id are required", nil)
	}

	weights, err := json.Marshal(it.SeedWeights)
	if err != nil {
		return errors.E(errors.KindInvalidInput, op, "seed weights are not serializable", err)
	}
	thresholds, err := json.Marshal(it.PolicyThresholds)
	if err != nil {
		return errors.E(errors.KindInvalidInput, op, "policy thresholds are not serializable", err)
	}
	ts := it.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO interactions (id, session_id, query, intent, bundle_signature,
				top_click, satisfied, time_to_fix_ms, token_usage,
				seed_weights, policy_thresholds, language, repo, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				top_click      = excluded.top_click,
				satisfied      = excluded.satisfied,
				time_to_fix_ms = excluded.time_to_fix_ms,
				token_usage    = excluded.token_usage
		`, it.ID, it.SessionID, it.Query, string(it.Intent), it.BundleSignature,
			it.TopClick, nullBool(it.Satisfied), durationMillisOrNull(it.TimeToFix),
			it.TokenUsage, string(weights), string(thresholds), it.Language, it.Repo, ts.Unix())
		return err
	})
}

// UpdateInteractionOutcome attaches post-hoc feedback to a recorded
// interaction.
func (s *Store) UpdateInteractionOutcome(ctx context.Context, id string, satisfied *bool, topClick string, timeToFix time.Duration) error {
	const op = "store.UpdateInteractionOutcome"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE interactions
			SET satisfied = ?, top_click = ?, time_to_fix_ms = ?
			WHERE id = ?
		`, nullBool(satisfied), topClick, durationMillisOrNull(timeToFix), id)
		if err != nil {
			return err
		}
		return requireRowAffected(res)
	})
}

// InteractionByID fetches one interaction.
func (s *Store) InteractionByID(ctx context.Context, id string) (*bundle.Interaction, error) {
	const op = "store.InteractionByID"
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, query, intent, bundle_signature, top_click,
		       satisfied, time_to_fix_ms, token_usage, seed_weights,
		       policy_thresholds, language, repo, ts
		FROM interactions WHERE id = ?
	`, id)
	it, err := scanInteraction(row)
	if err != nil {
		return nil, classify(op, err)
	}
	return it, nil
}

// ListInteractions returns interactions newest first, filtered for the
// learner's sampling window.
func (s *Store) ListInteractions(ctx context.Context, filter *InteractionFilter) ([]*bundle.Interaction, error) {
	const op = "store.ListInteractions"
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, session_id, query, intent, bundle_signature, top_click,
		       satisfied, time_to_fix_ms, token_usage, seed_weights,
		       policy_thresholds, language, repo, ts
		FROM interactions WHERE 1=1`
	var args []any
	limit := 0
	if filter != nil {
		if filter.Intent != "" {
			query += ` AND intent = ?`
			args = append(args, string(filter.Intent))
		}
		if filter.Repo != "" {
			query += ` AND repo = ?`
			args = append(args, filter.Repo)
		}
		if filter.Language != "" {
			query += ` AND language = ?`
			args = append(args, filter.Language)
		}
		if !filter.Since.IsZero() {
			query += ` AND ts >= ?`
			args = append(args, filter.Since.Unix())
		}
		if filter.SatisfiedOnly {
			query += ` AND satisfied IS NOT NULL`
		}
		limit = filter.Limit
	}
	query += ` ORDER BY ts DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var items []*bundle.Interaction
	for rows.Next() {
		it, err := scanInteraction(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		items = append(items, it)
	}
	return items, classify(op, rows.Err())
}

// CountInteractions reports how many interactions match the filter.
func (s *Store) CountInteractions(ctx context.Context, filter *InteractionFilter) (int, error) {
	const op = "store.CountInteractions"
	if err := s.ready(); err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM interactions WHERE 1=1`
	var args []any
	if filter != nil {
		if filter.Intent != "" {
			query += ` AND intent = ?`
			args = append(args, string(filter.Intent))
		}
		if filter.Repo != "" {
			query += ` AND repo = ?`
			args = append(args, filter.Repo)
		}
		if filter.Language != "" {
			query += ` AND language = ?`
			args = append(args, filter.Language)
		}
		if !filter.Since.IsZero() {
			query += ` AND ts >= ?`
			args = append(args, filter.Since.Unix())
		}
		if filter.SatisfiedOnly {
			query += ` AND satisfied IS NOT NULL`
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

func scanInteraction(row rowScanner) (*bundle.Interaction, error) {
	var it bundle.Interaction
	var intent string
	var satisfied sql.NullInt64
	var timeToFix sql.NullInt64
	var weights, thresholds string
	var ts int64
	if err := row.Scan(&it.ID, &it.SessionID, &it.Query, &intent, &it.BundleSignature,
		&it.TopClick, &satisfied, &timeToFix, &it.TokenUsage,
		&weights, &thresholds, &it.Language, &it.Repo, &ts); err != nil {
		return nil, err
	}
	it.Intent = bundle.Intent(intent)
	if satisfied.Valid {
		v := satisfied.Int64 != 0
		it.Satisfied = &v
	}
	if timeToFix.Valid {
		it.TimeToFix = time.Duration(timeToFix.Int64) * time.Millisecond
	}
	if err := json.Unmarshal([]byte(weights), &it.SeedWeights); err != nil {
		it.SeedWeights = nil
	}
	if err := json.Unmarshal([]byte(thresholds), &it.PolicyThresholds); err != nil {
		it.PolicyThresholds = bundle.PolicyThresholds{}
	}
	it.Timestamp = time.Unix(ts, 0).UTC()
	return &it, nil
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}

func durationMillisOrNull(d time.Duration) any {
	if d <= 0 {
		return nil
	}
	return d.Milliseconds()
}
