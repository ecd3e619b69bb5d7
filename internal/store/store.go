// Package store owns all persistent state: files, spans, chunks,
// embeddings, references, memory, sessions, interactions, caches, and
// learner policy rows. Everything lives in a single SQLite database
// opened in WAL mode; an in-process HNSW index accelerates vector
// search per embedding model.
//
// The store permits concurrent readers and serializes writers. All
// operations return typed errors classified by kind.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pampax/pampax/internal/errors"
)

// DefaultBusyTimeout bounds lock waits before SQLITE_BUSY surfaces.
const DefaultBusyTimeout = 5 * time.Second

// Store is the single owner of persistent state.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	log    *slog.Logger
	closed bool

	// writeMu serializes write transactions; WAL readers proceed
	// concurrently.
	writeMu sync.Mutex

	// vectors holds one ANN index per embedding model, built lazily
	// from the embedding table.
	vectors   map[string]*vectorIndex
	vectorsMu sync.RWMutex

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (or creates) the database at path and applies pending
// migrations. An empty path opens an in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	const op = "store.Open"

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(errors.KindInternal, op, fmt.Errorf("create directory: %w", err))
		}
		if err := validateIntegrity(path); err != nil {
			return nil, errors.E(errors.KindIntegrity, op, "database failed integrity check", err).
				WithDetail("path", path).
				WithHint("remove the database file and reindex")
		}
		dsn = path
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrap(errors.KindUnavailable, op, fmt.Errorf("open database: %w", err))
	}

	// WAL readers may overlap one writer; keep a small pool so reads
	// don't serialize behind writes.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)
	if path == "" {
		// A second connection to :memory: would open a different
		// database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(errors.KindUnavailable, op, fmt.Errorf("set pragma: %w", err))
		}
	}

	s := &Store{
		db:      db,
		path:    path,
		log:     slog.Default(),
		vectors: make(map[string]*vectorIndex),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// validateIntegrity checks an existing database before opening it for
// writes. A missing file is fine; it will be created.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open(driverName, path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("corrupted: %s", result)
	}
	return nil
}

// Close releases the database and all vector indexes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.vectorsMu.Lock()
	for _, idx := range s.vectors {
		idx.close()
	}
	s.vectors = nil
	s.vectorsMu.Unlock()

	return s.db.Close()
}

// Path returns the database path. Empty for in-memory stores.
func (s *Store) Path() string { return s.path }

// Integrity runs SQLite's integrity check on the open database.
func (s *Store) Integrity(ctx context.Context) error {
	const op = "store.Integrity"
	if err := s.ready(); err != nil {
		return err
	}
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return classify(op, err)
	}
	if result != "ok" {
		return errors.E(errors.KindInternal, op, "integrity check failed: "+result, nil)
	}
	return nil
}

// Checkpoint forces a WAL checkpoint so all committed changes reach
// the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	const op = "store.Checkpoint"
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return classify(op, err)
}

// ready reports a typed error when the store is closed.
func (s *Store) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.E(errors.KindUnavailable, "store", "store is closed", nil)
	}
	return nil
}

// write runs fn inside a serialized write transaction. The transaction
// commits when fn returns nil and rolls back otherwise; readers never
// observe partial writes.
func (s *Store) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// classify maps backend errors onto the store's error kinds:
// Conflict, NotFound, Integrity, or Backend (carried as Unavailable).
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *errors.Error
	if stderrors.As(err, &pe) {
		return errors.Wrap(pe.Kind, op, err)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		// Wrap re-keys these to Cancelled/Timeout.
		return errors.Wrap(errors.KindInternal, op, err)
	}

	msg := err.Error()
	switch {
	case err == sql.ErrNoRows || strings.Contains(msg, "no rows in result set"):
		return errors.E(errors.KindNotFound, op, "record not found", err)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errors.E(errors.KindConflict, op, "record already exists", err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "CHECK constraint failed"),
		strings.Contains(msg, "NOT NULL constraint failed"):
		return errors.E(errors.KindIntegrity, op, "constraint violated", err)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return errors.E(errors.KindUnavailable, op, "database busy", err)
	default:
		return errors.E(errors.KindUnavailable, op, "storage backend error", err)
	}
}

// timeOrZero converts a nullable unix-seconds column.
func timeOrZero(sec sql.NullInt64) time.Time {
	if !sec.Valid || sec.Int64 == 0 {
		return time.Time{}
	}
	return time.Unix(sec.Int64, 0).UTC()
}

// unixOrNull converts a time to a nullable unix-seconds value.
func unixOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
