package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pampax/pampax/internal/bundle"
	"github.com/pampax/pampax/internal/errors"
)

// UpsertFile records a tracked file, replacing any previous row for
// the same (repo, path).
func (s *Store) UpsertFile(ctx context.Context, f *bundle.File) error {
	const op = "store.UpsertFile"
	return s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO file (repo, path, content_hash, lang, size, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(repo, path) DO UPDATE SET
				content_hash = excluded.content_hash,
				lang         = excluded.lang,
				size         = excluded.size,
				indexed_at   = excluded.indexed_at
		`, f.Repo, f.Path, f.ContentHash, f.Lang, f.Size, s.now().Unix())
		return err
	})
}

// FileByPath returns one tracked file.
func (s *Store) FileByPath(ctx context.Context, repo, path string) (*bundle.File, error) {
	const op = "store.FileByPath"
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT repo, path, content_hash, lang, size, indexed_at
		FROM file WHERE repo = ? AND path = ?
	`, repo, path)

	var f bundle.File
	var indexed sql.NullInt64
	if err := row.Scan(&f.Repo, &f.Path, &f.ContentHash, &f.Lang, &f.Size, &indexed); err != nil {
		return nil, classify(op, err)
	}
	f.IndexedAt = timeOrZero(indexed)
	return &f, nil
}

// ListFiles returns all tracked files for a repo ordered by path.
func (s *Store) ListFiles(ctx context.Context, repo string) ([]*bundle.File, error) {
	const op = "store.ListFiles"
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT repo, path, content_hash, lang, size, indexed_at
		FROM file WHERE repo = ? ORDER BY path
	`, repo)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var files []*bundle.File
	for rows.Next() {
		var f bundle.File
		var indexed sql.NullInt64
		if err := rows.Scan(&f.Repo, &f.Path, &f.ContentHash, &f.Lang, &f.Size, &indexed); err != nil {
			return nil, classify(op, err)
		}
		f.IndexedAt = timeOrZero(indexed)
		files = append(files, &f)
	}
	return files, classify(op, rows.Err())
}

// DeleteFile removes a file row together with its spans, chunks,
// embeddings, and references.
func (s *Store) DeleteFile(ctx context.Context, repo, path string) error {
	const op = "store.DeleteFile"
	err := s.write(ctx, op, func(tx *sql.Tx) error {
		// Spans cascade to chunks, embeddings, and references.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM span WHERE repo = ? AND path = ?`, repo, path); err != nil {
			return fmt.Errorf("delete spans: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM file WHERE repo = ? AND path = ?`, repo, path); err != nil {
			return fmt.Errorf("delete file: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateVectors()
	return nil
}

// UpsertSpan writes one span.
func (s *Store) UpsertSpan(ctx context.Context, span *bundle.Span) error {
	return s.BulkUpsertSpans(ctx, []*bundle.Span{span})
}

// BulkUpsertSpans writes spans in one transaction. Invalid spans are
// rejected before any write happens.
func (s *Store) BulkUpsertSpans(ctx context.Context, spans []*bundle.Span) error {
	const op = "store.BulkUpsertSpans"
	if len(spans) == 0 {
		return nil
	}
	for _, sp := range spans {
		if !sp.Valid() {
			return errors.E(errors.KindInvalidInput, op, "invalid span", nil).
				WithDetail("span_id", sp.ID).
				WithDetail("path", sp.Path)
		}
	}

	return s.write(ctx, op, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO span (span_id, repo, path, byte_start, byte_end, kind, name, signature, doc, parents)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(span_id) DO UPDATE SET
				repo       = excluded.repo,
				path       = excluded.path,
				byte_start = excluded.byte_start,
				byte_end   = excluded.byte_end,
				kind       = excluded.kind,
				name       = excluded.name,
				signature  = excluded.signature,
				doc        = excluded.doc,
				parents    = excluded.parents
		`)
		if err != nil {
			return fmt.Errorf("prepare span upsert: %w", err)
		}
		defer stmt.Close()

		for _, sp := range spans {
			parents, err := json.Marshal(sp.Parents)
			if err != nil {
				return fmt.Errorf("marshal parents for %s: %w", sp.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				sp.ID, sp.Repo, sp.Path, sp.ByteStart, sp.ByteEnd,
				string(sp.Kind), sp.Name, sp.Signature, sp.Doc, string(parents),
			); err != nil {
				return fmt.Errorf("upsert span %s: %w", sp.ID, err)
			}
		}
		return nil
	})
}

// SpanByID returns one span.
func (s *Store) SpanByID(ctx context.Context, id string) (*bundle.Span, error) {
	const op = "store.SpanByID"
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT span_id, repo, path, byte_start, byte_end, kind, name, signature, doc, parents
		FROM span WHERE span_id = ?
	`, id)
	sp, err := scanSpan(row)
	if err != nil {
		return nil, classify(op, err)
	}
	return sp, nil
}

// SpansByIDs returns spans for the given ids, ordered by id. Missing
// ids are simply absent from the result.
func (s *Store) SpansByIDs(ctx context.Context, ids []string) ([]*bundle.Span, error) {
	const op = "store.SpansByIDs"
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	return s.querySpans(ctx, op, fmt.Sprintf(`
		SELECT span_id, repo, path, byte_start, byte_end, kind, name, signature, doc, parents
		FROM span WHERE span_id IN (%s)
		ORDER BY span_id
	`, strings.Join(placeholders, ",")), args...)
}

// SpansByPath returns the spans of one file ordered by start offset.
func (s *Store) SpansByPath(ctx context.Context, repo, path string) ([]*bundle.Span, error) {
	const op = "store.SpansByPath"
	return s.querySpans(ctx, op, `
		SELECT span_id, repo, path, byte_start, byte_end, kind, name, signature, doc, parents
		FROM span WHERE repo = ? AND path = ?
		ORDER BY byte_start, byte_end
	`, repo, path)
}

// SpansByRange returns spans overlapping [start, end) in a file.
func (s *Store) SpansByRange(ctx context.Context, repo, path string, start, end int) ([]*bundle.Span, error) {
	const op = "store.SpansByRange"
	return s.querySpans(ctx, op, `
		SELECT span_id, repo, path, byte_start, byte_end, kind, name, signature, doc, parents
		FROM span
		WHERE repo = ? AND path = ? AND byte_start < ? AND byte_end > ?
		ORDER BY byte_start, byte_end
	`, repo, path, end, start)
}

// SpansByName resolves spans by exact name. With fuzzy set, a
// case-insensitive substring match is used instead.
func (s *Store) SpansByName(ctx context.Context, name string, fuzzy bool, limit int) ([]*bundle.Span, error) {
	const op = "store.SpansByName"
	if name == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	if !fuzzy {
		return s.querySpans(ctx, op, `
			SELECT span_id, repo, path, byte_start, byte_end, kind, name, signature, doc, parents
			FROM span WHERE name = ?
			ORDER BY path, byte_start LIMIT ?
		`, name, limit)
	}

	pattern := "%" + escapeLike(name) + "%"
	return s.querySpans(ctx, op, `
		SELECT span_id, repo, path, byte_start, byte_end, kind, name, signature, doc, parents
		FROM span WHERE name LIKE ? ESCAPE '\' COLLATE NOCASE
		ORDER BY length(name), path, byte_start LIMIT ?
	`, pattern, limit)
}

// DeleteSpansByPath removes all spans of one file. Chunks, embeddings,
// and references cascade.
func (s *Store) DeleteSpansByPath(ctx context.Context, repo, path string) error {
	const op = "store.DeleteSpansByPath"
	err := s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM span WHERE repo = ? AND path = ?`, repo, path)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidateVectors()
	return nil
}

// CountSpans returns the total span count.
func (s *Store) CountSpans(ctx context.Context) (int, error) {
	const op = "store.CountSpans"
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM span`).Scan(&n); err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

func (s *Store) querySpans(ctx context.Context, op, query string, args ...any) ([]*bundle.Span, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var spans []*bundle.Span
	for rows.Next() {
		sp, err := scanSpan(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		spans = append(spans, sp)
	}
	return spans, classify(op, rows.Err())
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpan(r rowScanner) (*bundle.Span, error) {
	var sp bundle.Span
	var kind, parents string
	if err := r.Scan(&sp.ID, &sp.Repo, &sp.Path, &sp.ByteStart, &sp.ByteEnd,
		&kind, &sp.Name, &sp.Signature, &sp.Doc, &parents); err != nil {
		return nil, err
	}
	sp.Kind = bundle.SpanKind(kind)
	if err := json.Unmarshal([]byte(parents), &sp.Parents); err != nil {
		return nil, fmt.Errorf("unmarshal parents for %s: %w", sp.ID, err)
	}
	return &sp, nil
}

// escapeLike escapes LIKE wildcards in user-supplied match text.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
