package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// BulkUpsertReferences stores reference edges. Re-upserting the same
// edge updates only its confidence.
func (s *Store) BulkUpsertReferences(ctx context.Context, refs []*bundle.Reference) error {
	const op = "store.BulkUpsertReferences"
	if len(refs) == 0 {
		return nil
	}
	for _, r := range refs {
		if r.SrcSpanID == "" || r.DstPath == "" || r.Kind == "" {
			return errors.E(errors.KindInvalidInput, op, "reference missing src, dst, or kind", nil)
		}
		if r.ByteStart >= r.ByteEnd {
			return errors.E(errors.KindInvalidInput, op, "reference byte range is empty", nil).
				WithDetail("src_span_id", r.SrcSpanID).
				WithDetail("dst_path", r.DstPath)
		}
	}

	return s.write(ctx, op, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO reference (src_span_id, dst_path, byte_start, byte_end, kind, confidence)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(src_span_id, dst_path, byte_start, byte_end, kind) DO UPDATE SET
				confidence = excluded.confidence
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range refs {
			conf := r.Confidence
			if conf == 0 {
				conf = 1.0
			}
			if _, err := stmt.ExecContext(ctx,
				r.SrcSpanID, r.DstPath, r.ByteStart, r.ByteEnd, string(r.Kind), conf); err != nil {
				return err
			}
		}
		return nil
	})
}

// OutgoingReferences lists edges leaving a span, optionally filtered
// by edge kind.
func (s *Store) OutgoingReferences(ctx context.Context, spanID string, kinds []bundle.EdgeKind) ([]*bundle.Reference, error) {
	const op = "store.OutgoingReferences"
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `SELECT src_span_id, dst_path, byte_start, byte_end, kind, confidence
		FROM reference WHERE src_span_id = ?`
	args := []any{spanID}
	query, args = appendKindFilter(query, args, kinds)
	query += ` ORDER BY dst_path, byte_start`

	return s.queryReferences(ctx, op, query, args)
}

// IncomingReferences lists edges whose destination range overlaps the
// given byte range of a path.
func (s *Store) IncomingReferences(ctx context.Context, path string, byteStart, byteEnd int, kinds []bundle.EdgeKind) ([]*bundle.Reference, error) {
	const op = "store.IncomingReferences"
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `SELECT src_span_id, dst_path, byte_start, byte_end, kind, confidence
		FROM reference WHERE dst_path = ? AND byte_start < ? AND byte_end > ?`
	args := []any{path, byteEnd, byteStart}
	query, args = appendKindFilter(query, args, kinds)
	query += ` ORDER BY src_span_id, byte_start`

	return s.queryReferences(ctx, op, query, args)
}

// DeleteReferencesToPath removes edges pointing into a path. Edges
// leaving a path are removed by the span cascade instead.
func (s *Store) DeleteReferencesToPath(ctx context.Context, path string) error {
	const op = "store.DeleteReferencesToPath"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM reference WHERE dst_path = ?`, path)
		return err
	})
}

// CountReferences reports the total number of stored edges.
func (s *Store) CountReferences(ctx context.Context) (int, error) {
	const op = "store.CountReferences"
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reference`).Scan(&n); err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

func (s *Store) queryReferences(ctx context.Context, op, query string, args []any) ([]*bundle.Reference, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var refs []*bundle.Reference
	for rows.Next() {
		var r bundle.Reference
		var kind string
		if err := rows.Scan(&r.SrcSpanID, &r.DstPath, &r.ByteStart, &r.ByteEnd, &kind, &r.Confidence); err != nil {
			return nil, classify(op, err)
		}
		r.Kind = bundle.EdgeKind(kind)
		refs = append(refs, &r)
	}
	return refs, classify(op, rows.Err())
}

func appendKindFilter(query string, args []any, kinds []bundle.EdgeKind) (string, []any) {
	if len(kinds) == 0 {
		return query, args
	}
	placeholders := make([]string, len(kinds))
	for i, k := range kinds {
		placeholders[i] = "?"
		args = append(args, string(k))
	}
	query += fmt.Sprintf(" AND kind IN (%s)", strings.Join(placeholders, ", "))
	return query, args
}
