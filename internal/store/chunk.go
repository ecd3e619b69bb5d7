package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/pampax/pampax/internal/bundle"
)

// FTSResult is one full-text match.
type FTSResult struct {
	ChunkID string
	Repo    string
	Path    string
	// Score is the negated bm25() rank; higher is better.
	Score float64
}

// SearchFilter narrows FTS and ANN searches.
type SearchFilter struct {
	Repo     string
	Language string
	PathGlob string
}

// UpsertChunk writes one chunk.
func (s *Store) UpsertChunk(ctx context.Context, c *bundle.Chunk) error {
	return s.BulkUpsertChunks(ctx, []*bundle.Chunk{c})
}

// BulkUpsertChunks writes chunks in one transaction. The FTS mirror
// stays in sync through triggers.
func (s *Store) BulkUpsertChunks(ctx context.Context, chunks []*bundle.Chunk) error {
	const op = "store.BulkUpsertChunks"
	if len(chunks) == 0 {
		return nil
	}

	return s.write(ctx, op, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunk (chunk_id, span_id, repo, path, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET
				span_id = excluded.span_id,
				repo    = excluded.repo,
				path    = excluded.path,
				content = excluded.content
		`)
		if err != nil {
			return fmt.Errorf("prepare chunk upsert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			created := c.CreatedAt
			if created.IsZero() {
				created = s.now()
			}
			if _, err := stmt.ExecContext(ctx,
				c.ID, c.SpanID, c.Repo, c.Path, c.Content, created.Unix(),
			); err != nil {
				return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// ChunkByID returns one chunk.
func (s *Store) ChunkByID(ctx context.Context, id string) (*bundle.Chunk, error) {
	const op = "store.ChunkByID"
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, span_id, repo, path, content, created_at
		FROM chunk WHERE chunk_id = ?
	`, id)

	var c bundle.Chunk
	var created sql.NullInt64
	if err := row.Scan(&c.ID, &c.SpanID, &c.Repo, &c.Path, &c.Content, &created); err != nil {
		return nil, classify(op, err)
	}
	c.CreatedAt = timeOrZero(created)
	return &c, nil
}

// ChunksByIDs returns chunks for the given ids, keyed by chunk id.
// Missing ids are simply absent from the result.
func (s *Store) ChunksByIDs(ctx context.Context, ids []string) (map[string]*bundle.Chunk, error) {
	const op = "store.ChunksByIDs"
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]*bundle.Chunk{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT chunk_id, span_id, repo, path, content, created_at
		FROM chunk WHERE chunk_id IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := make(map[string]*bundle.Chunk, len(ids))
	for rows.Next() {
		var c bundle.Chunk
		var created sql.NullInt64
		if err := rows.Scan(&c.ID, &c.SpanID, &c.Repo, &c.Path, &c.Content, &created); err != nil {
			return nil, classify(op, err)
		}
		c.CreatedAt = timeOrZero(created)
		out[c.ID] = &c
	}
	return out, classify(op, rows.Err())
}

// ChunksBySpanIDs returns the chunks derived from the given spans.
func (s *Store) ChunksBySpanIDs(ctx context.Context, spanIDs []string) ([]*bundle.Chunk, error) {
	const op = "store.ChunksBySpanIDs"
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(spanIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(spanIDs))
	args := make([]any, len(spanIDs))
	for i, id := range spanIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT chunk_id, span_id, repo, path, content, created_at
		FROM chunk WHERE span_id IN (%s)
		ORDER BY chunk_id
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var chunks []*bundle.Chunk
	for rows.Next() {
		var c bundle.Chunk
		var created sql.NullInt64
		if err := rows.Scan(&c.ID, &c.SpanID, &c.Repo, &c.Path, &c.Content, &created); err != nil {
			return nil, classify(op, err)
		}
		c.CreatedAt = timeOrZero(created)
		chunks = append(chunks, &c)
	}
	return chunks, classify(op, rows.Err())
}

// NeedingEmbedding pages through chunks that have no embedding row for
// the given model, ordered by chunk id for stable batching.
func (s *Store) NeedingEmbedding(ctx context.Context, model string, limit, offset int) ([]*bundle.Chunk, error) {
	const op = "store.NeedingEmbedding"
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.span_id, c.repo, c.path, c.content, c.created_at
		FROM chunk c
		WHERE NOT EXISTS (
			SELECT 1 FROM embedding e WHERE e.chunk_id = c.chunk_id AND e.model = ?
		)
		ORDER BY c.chunk_id
		LIMIT ? OFFSET ?
	`, model, limit, offset)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var chunks []*bundle.Chunk
	for rows.Next() {
		var c bundle.Chunk
		var created sql.NullInt64
		if err := rows.Scan(&c.ID, &c.SpanID, &c.Repo, &c.Path, &c.Content, &created); err != nil {
			return nil, classify(op, err)
		}
		c.CreatedAt = timeOrZero(created)
		chunks = append(chunks, &c)
	}
	return chunks, classify(op, rows.Err())
}

// DeleteChunk removes one chunk. Embeddings cascade; the FTS row goes
// through the delete trigger.
func (s *Store) DeleteChunk(ctx context.Context, id string) error {
	const op = "store.DeleteChunk"
	err := s.write(ctx, op, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM chunk WHERE chunk_id = ?`, id)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidateVectors()
	return nil
}

// CountChunks returns the total chunk count.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	const op = "store.CountChunks"
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk`).Scan(&n); err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

// SearchFTS runs a porter-tokenized full-text query over the chunk
// mirror and returns the top k by BM25 rank. A query that produces no
// usable terms returns an empty result, not an error.
func (s *Store) SearchFTS(ctx context.Context, query string, k int, filter *SearchFilter) ([]*FTSResult, error) {
	const op = "store.SearchFTS"
	if err := s.ready(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	match := buildMatchQuery(query)
	if match == "" {
		return []*FTSResult{}, nil
	}

	sqlQuery := `
		SELECT f.chunk_id, f.repo, f.path, bm25(chunk_fts) AS rank
		FROM chunk_fts f
	`
	args := []any{}
	var where []string

	if filter != nil && filter.Language != "" {
		sqlQuery += ` JOIN file fl ON fl.repo = f.repo AND fl.path = f.path`
		where = append(where, "fl.lang = ?")
		args = append(args, filter.Language)
	}

	where = append(where, "chunk_fts MATCH ?")
	args = append(args, match)

	if filter != nil && filter.Repo != "" {
		where = append(where, "f.repo = ?")
		args = append(args, filter.Repo)
	}
	if filter != nil && filter.PathGlob != "" {
		where = append(where, "f.path GLOB ?")
		args = append(args, filter.PathGlob)
	}

	sqlQuery += " WHERE " + strings.Join(where, " AND ") + " ORDER BY rank LIMIT ?"
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		// FTS5 reports malformed match strings as errors; treat those
		// as empty results like any other non-matching query.
		if isFTSSyntaxError(err) {
			return []*FTSResult{}, nil
		}
		return nil, classify(op, err)
	}
	defer rows.Close()

	var results []*FTSResult
	for rows.Next() {
		var r FTSResult
		var rank float64
		if err := rows.Scan(&r.ChunkID, &r.Repo, &r.Path, &rank); err != nil {
			return nil, classify(op, err)
		}
		// bm25() is negative where lower is better.
		r.Score = -rank
		results = append(results, &r)
	}
	return results, classify(op, rows.Err())
}

func isFTSSyntaxError(err error) bool {
	return strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error")
}

// buildMatchQuery reduces free text to a safe FTS5 MATCH expression:
// quoted terms joined by spaces (implicit AND). CamelCase identifiers
// also match their split form, so "getUserById" finds snake_case and
// prose variants.
func buildMatchQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	clauses := make([]string, 0, len(terms))
	for _, t := range terms {
		if parts := splitIdentifier(t); len(parts) > 1 {
			clauses = append(clauses, `("`+t+`" OR "`+strings.Join(parts, " ")+`")`)
			continue
		}
		clauses = append(clauses, `"`+t+`"`)
	}
	return strings.Join(clauses, " ")
}
