package store

import (
	"fmt"
)

// migrations lists schema versions in order. Each entry runs in its own
// transaction; schema_migrations records what has been applied.
var migrations = []string{
	// v1: core index tables.
	`
	CREATE TABLE IF NOT EXISTS file (
		repo         TEXT NOT NULL,
		path         TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		lang         TEXT NOT NULL DEFAULT '',
		size         INTEGER NOT NULL DEFAULT 0,
		indexed_at   INTEGER NOT NULL,
		PRIMARY KEY (repo, path)
	);

	CREATE TABLE IF NOT EXISTS span (
		span_id    TEXT PRIMARY KEY,
		repo       TEXT NOT NULL,
		path       TEXT NOT NULL,
		byte_start INTEGER NOT NULL,
		byte_end   INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		signature  TEXT NOT NULL DEFAULT '',
		doc        TEXT NOT NULL DEFAULT '',
		parents    TEXT NOT NULL DEFAULT '[]',
		CHECK (byte_start < byte_end)
	);
	CREATE INDEX IF NOT EXISTS idx_span_path ON span(repo, path);
	CREATE INDEX IF NOT EXISTS idx_span_name ON span(name);

	CREATE TABLE IF NOT EXISTS chunk (
		chunk_id   TEXT PRIMARY KEY,
		span_id    TEXT NOT NULL REFERENCES span(span_id) ON DELETE CASCADE,
		repo       TEXT NOT NULL,
		path       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunk_span ON chunk(span_id);
	CREATE INDEX IF NOT EXISTS idx_chunk_path ON chunk(repo, path);

	CREATE TABLE IF NOT EXISTS embedding (
		chunk_id   TEXT NOT NULL REFERENCES chunk(chunk_id) ON DELETE CASCADE,
		model      TEXT NOT NULL,
		dim        INTEGER NOT NULL,
		vector     BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (chunk_id, model)
	);
	CREATE INDEX IF NOT EXISTS idx_embedding_model ON embedding(model);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
		content,
		chunk_id UNINDEXED,
		repo UNINDEXED,
		path UNINDEXED,
		tokenize='porter unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS chunk_fts_ai AFTER INSERT ON chunk BEGIN
		INSERT INTO chunk_fts(content, chunk_id, repo, path)
		VALUES (new.content, new.chunk_id, new.repo, new.path);
	END;
	CREATE TRIGGER IF NOT EXISTS chunk_fts_ad AFTER DELETE ON chunk BEGIN
		DELETE FROM chunk_fts WHERE chunk_id = old.chunk_id;
	END;
	CREATE TRIGGER IF NOT EXISTS chunk_fts_au AFTER UPDATE ON chunk BEGIN
		DELETE FROM chunk_fts WHERE chunk_id = old.chunk_id;
		INSERT INTO chunk_fts(content, chunk_id, repo, path)
		VALUES (new.content, new.chunk_id, new.repo, new.path);
	END;

	CREATE TABLE IF NOT EXISTS reference (
		src_span_id TEXT NOT NULL REFERENCES span(span_id) ON DELETE CASCADE,
		dst_path    TEXT NOT NULL,
		byte_start  INTEGER NOT NULL,
		byte_end    INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		confidence  REAL NOT NULL DEFAULT 1.0,
		PRIMARY KEY (src_span_id, dst_path, byte_start, byte_end, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_reference_dst ON reference(dst_path);

	CREATE TABLE IF NOT EXISTS job_run (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		kind        TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'running',
		error       TEXT NOT NULL DEFAULT '',
		started_at  INTEGER NOT NULL,
		finished_at INTEGER
	);
	`,

	// v2: sessions, memory, interactions.
	`
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		repo        TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		last_used   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_items (
		id         TEXT PRIMARY KEY,
		session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
		kind       TEXT NOT NULL DEFAULT 'note',
		key        TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		pinned     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_memory_session ON memory_items(session_id);
	CREATE INDEX IF NOT EXISTS idx_memory_key ON memory_items(key);

	CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
		content,
		metadata,
		memory_id UNINDEXED,
		tokenize='porter unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS memory_fts_ai AFTER INSERT ON memory_items BEGIN
		INSERT INTO memory_fts(content, metadata, memory_id)
		VALUES (new.content, new.metadata, new.id);
	END;
	CREATE TRIGGER IF NOT EXISTS memory_fts_ad AFTER DELETE ON memory_items BEGIN
		DELETE FROM memory_fts WHERE memory_id = old.id;
	END;
	CREATE TRIGGER IF NOT EXISTS memory_fts_au AFTER UPDATE ON memory_items BEGIN
		DELETE FROM memory_fts WHERE memory_id = old.id;
		INSERT INTO memory_fts(content, metadata, memory_id)
		VALUES (new.content, new.metadata, new.id);
	END;

	CREATE TABLE IF NOT EXISTS memory_links (
		memory_id  TEXT NOT NULL REFERENCES memory_items(id) ON DELETE CASCADE,
		span_id    TEXT NOT NULL REFERENCES span(span_id) ON DELETE CASCADE,
		label      TEXT NOT NULL DEFAULT '',
		note       TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (memory_id, span_id)
	);

	CREATE TABLE IF NOT EXISTS interactions (
		id                TEXT PRIMARY KEY,
		session_id        TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		query             TEXT NOT NULL,
		intent            TEXT NOT NULL,
		bundle_signature  TEXT NOT NULL DEFAULT '',
		top_click         TEXT NOT NULL DEFAULT '',
		satisfied         INTEGER,
		time_to_fix_ms    INTEGER,
		token_usage       INTEGER NOT NULL DEFAULT 0,
		seed_weights      TEXT NOT NULL DEFAULT '{}',
		policy_thresholds TEXT NOT NULL DEFAULT '{}',
		language          TEXT NOT NULL DEFAULT '',
		repo              TEXT NOT NULL DEFAULT '',
		ts                INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_intent ON interactions(intent);
	CREATE INDEX IF NOT EXISTS idx_interactions_ts ON interactions(ts);
	`,

	// v3: caches, logs, learner state.
	`
	CREATE TABLE IF NOT EXISTS rerank_cache (
		cache_key  TEXT PRIMARY KEY,
		provider   TEXT NOT NULL,
		model      TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rerank_expiry ON rerank_cache(expires_at);

	CREATE TABLE IF NOT EXISTS search_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		query        TEXT NOT NULL,
		intent       TEXT NOT NULL DEFAULT '',
		result_count INTEGER NOT NULL DEFAULT 0,
		duration_ms  INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS signature_cache (
		query_signature TEXT PRIMARY KEY,
		bundle_id       TEXT NOT NULL,
		payload         TEXT NOT NULL,
		satisfaction    REAL NOT NULL DEFAULT 0,
		ttl_seconds     INTEGER NOT NULL,
		usage_count     INTEGER NOT NULL DEFAULT 0,
		last_used       INTEGER NOT NULL,
		created_at      INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS packing_profile (
		repo       TEXT NOT NULL,
		model      TEXT NOT NULL,
		profile    TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (repo, model)
	);

	CREATE TABLE IF NOT EXISTS policy (
		repo                 TEXT NOT NULL,
		intent               TEXT NOT NULL,
		version              INTEGER NOT NULL DEFAULT 1,
		max_depth            INTEGER NOT NULL,
		early_stop_threshold INTEGER NOT NULL,
		include_symbols      INTEGER NOT NULL DEFAULT 1,
		include_files        INTEGER NOT NULL DEFAULT 1,
		include_content      INTEGER NOT NULL DEFAULT 1,
		seed_weights         TEXT NOT NULL DEFAULT '{}',
		updated_at           INTEGER NOT NULL,
		PRIMARY KEY (repo, intent)
	);
	`,
}

// migrate applies pending migrations inside individual transactions.
func (s *Store) migrate() error {
	const op = "store.migrate"

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return classify(op, fmt.Errorf("create schema_migrations: %w", err))
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return classify(op, fmt.Errorf("read schema version: %w", err))
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := s.db.Begin()
		if err != nil {
			return classify(op, fmt.Errorf("begin migration %d: %w", version, err))
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return classify(op, fmt.Errorf("apply migration %d: %w", version, err))
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, s.now().Unix()); err != nil {
			_ = tx.Rollback()
			return classify(op, fmt.Errorf("record migration %d: %w", version, err))
		}
		if err := tx.Commit(); err != nil {
			return classify(op, fmt.Errorf("commit migration %d: %w", version, err))
		}
		s.log.Debug("schema_migrated", "version", version)
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion() (int, error) {
	const op = "store.SchemaVersion"
	if err := s.ready(); err != nil {
		return 0, err
	}
	var v int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, classify(op, err)
	}
	return v, nil
}
