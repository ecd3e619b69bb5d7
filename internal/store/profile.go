package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// PolicyRecord is a learned per-repo policy with its version lineage.
type PolicyRecord struct {
	Repo      string
	Version   int
	Decision  *bundle.PolicyDecision
	UpdatedAt time.Time
}

// SavePolicy stores a learned decision for (repo, intent), bumping the
// version on every update. Decisions outside the policy bounds are
// rejected.
func (s *Store) SavePolicy(ctx context.Context, repo string, d *bundle.PolicyDecision) error {
	const op = "store.SavePolicy"
	if d == nil || d.Intent == "" {
		return errors.E(errors.KindInvalidInput, op, "decision with intent is required", nil)
	}
	if msg := d.Validate(); msg != "" {
		return errors.E(errors.KindIntegrity, op, "decision violates policy bounds", nil).
			WithDetail("violation", msg)
	}
	weights, err := json.Marshal(d.SeedWeights)
	if err != nil {
		return errors.E(errors.KindInvalidInput, op, "seed weights are not serializable", err)
	}

	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO policy (repo, intent, version, max_depth, early_stop_threshold,
				include_symbols, include_files, include_content, seed_weights, updated_at)
			VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(repo, intent) DO UPDATE SET
				version              = version + 1,
				max_depth            = excluded.max_depth,
				early_stop_threshold = excluded.early_stop_threshold,
				include_symbols      = excluded.include_symbols,
				include_files        = excluded.include_files,
				include_content      = excluded.include_content,
				seed_weights         = excluded.seed_weights,
				updated_at           = excluded.updated_at
		`, repo, string(d.Intent), d.MaxDepth, d.EarlyStopThreshold,
			boolToInt(d.IncludeSymbols), boolToInt(d.IncludeFiles), boolToInt(d.IncludeContent),
			string(weights), s.now().Unix())
		return err
	})
}

// PolicyFor returns the learned decision for (repo, intent), or nil
// when none has been saved.
func (s *Store) PolicyFor(ctx context.Context, repo string, intent bundle.Intent) (*PolicyRecord, error) {
	const op = "store.PolicyFor"
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT repo, intent, version, max_depth, early_stop_threshold,
		       include_symbols, include_files, include_content, seed_weights, updated_at
		FROM policy WHERE repo = ? AND intent = ?
	`, repo, string(intent))
	rec, err := scanPolicyRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return rec, nil
}

// ListPolicies returns all learned decisions for a repo.
func (s *Store) ListPolicies(ctx context.Context, repo string) ([]*PolicyRecord, error) {
	const op = "store.ListPolicies"
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT repo, intent, version, max_depth, early_stop_threshold,
		       include_symbols, include_files, include_content, seed_weights, updated_at
		FROM policy WHERE repo = ? ORDER BY intent
	`, repo)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var records []*PolicyRecord
	for rows.Next() {
		rec, err := scanPolicyRecord(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		records = append(records, rec)
	}
	return records, classify(op, rows.Err())
}

// DeletePolicy drops the learned decision so the built-in defaults
// apply again.
func (s *Store) DeletePolicy(ctx context.Context, repo string, intent bundle.Intent) error {
	const op = "store.DeletePolicy"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM policy WHERE repo = ? AND intent = ?`, repo, string(intent))
		if err != nil {
			return err
		}
		return requireRowAffected(res)
	})
}

// SavePackingProfile stores the packing profile for (repo, model),
// bumping the version on every update.
func (s *Store) SavePackingProfile(ctx context.Context, p *bundle.PackingProfile) error {
	const op = "store.SavePackingProfile"
	if p == nil || p.Repo == "" || p.Model == "" {
		return errors.E(errors.KindInvalidInput, op, "profile with repo and model is required", nil)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return errors.E(errors.KindInvalidInput, op, "profile is not serializable", err)
	}

	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO packing_profile (repo, model, profile, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(repo, model) DO UPDATE SET
				profile    = excluded.profile,
				version    = version + 1,
				updated_at = excluded.updated_at
		`, p.Repo, p.Model, string(payload), s.now().Unix())
		return err
	})
}

// PackingProfileFor returns the stored profile for (repo, model), or
// nil when none has been saved. The row's version and update time are
// authoritative over the serialized payload.
func (s *Store) PackingProfileFor(ctx context.Context, repo, model string) (*bundle.PackingProfile, error) {
	const op = "store.PackingProfileFor"
	if err := s.ready(); err != nil {
		return nil, err
	}

	var payload string
	var version int
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT profile, version, updated_at FROM packing_profile
		WHERE repo = ? AND model = ?
	`, repo, model).Scan(&payload, &version, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}

	var p bundle.PackingProfile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, errors.E(errors.KindIntegrity, op, "corrupt packing profile payload", err).
			WithDetail("repo", repo).
			WithDetail("model", model)
	}
	p.Version = version
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

func scanPolicyRecord(row rowScanner) (*PolicyRecord, error) {
	var rec PolicyRecord
	var d bundle.PolicyDecision
	var intent, weights string
	var symbols, files, content int
	var updatedAt int64
	if err := row.Scan(&rec.Repo, &intent, &rec.Version, &d.MaxDepth, &d.EarlyStopThreshold,
		&symbols, &files, &content, &weights, &updatedAt); err != nil {
		return nil, err
	}
	d.Intent = bundle.Intent(intent)
	d.IncludeSymbols = symbols != 0
	d.IncludeFiles = files != 0
	d.IncludeContent = content != 0
	if err := json.Unmarshal([]byte(weights), &d.SeedWeights); err != nil {
		d.SeedWeights = map[string]float64{}
	}
	rec.Decision = &d
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &rec, nil
}
