package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/lodekb/lodestone/internal/errors"
)

// SQLiteStore implements MetadataStore on modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu     sync.RWMutex
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the metadata database at path.
// Pass ":memory:" for an in-memory store in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "open metadata database")
	}

	// Single writer prevents lock contention under modernc.org/sqlite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite does not read mattn-style DSN params; pragmas
	// must be set explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, errors.KindStoreUnavailable, "set pragma")
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.KindStoreUnavailable, "initialize schema")
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS folders (
		path TEXT PRIMARY KEY,
		indexing_enabled INTEGER NOT NULL DEFAULT 0,
		index_status TEXT NOT NULL DEFAULT 'none',
		index_error TEXT NOT NULL DEFAULT '',
		sync_status TEXT NOT NULL DEFAULT 'idle',
		last_synced_at TIMESTAMP,
		last_sync_error TEXT NOT NULL DEFAULT '',
		metadata_text TEXT NOT NULL DEFAULT '',
		metadata_updated_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		folder_path TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		mtime TIMESTAMP NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		indexed_hash TEXT NOT NULL DEFAULT '',
		mime TEXT NOT NULL DEFAULT '',
		index_status TEXT NOT NULL DEFAULT 'pending',
		indexed_at TIMESTAMP,
		embedding_version INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT -1,
		error_message TEXT NOT NULL DEFAULT '',
		metadata_text TEXT NOT NULL DEFAULT '',
		metadata_updated_by TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_files_folder ON files(folder_path);

	CREATE TABLE IF NOT EXISTS chunks (
		file_path TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		char_start INTEGER NOT NULL,
		char_end INTEGER NOT NULL,
		embedding_version INTEGER NOT NULL,
		dense_vector_id INTEGER NOT NULL,
		PRIMARY KEY (file_path, ordinal)
	);

	CREATE TABLE IF NOT EXISTS sync_sources (
		folder_path TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		config TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_visibility (
		user TEXT NOT NULL,
		folder_path TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (user, folder_path)
	);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database. Further calls fail with StoreUnavailable.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(errors.KindStoreUnavailable, "metadata store is closed")
	}
	return nil
}

// wrapDB classifies driver errors: closed/locked databases are
// retryable StoreUnavailable, everything else passes through.
func wrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return errors.Newf(errors.KindNotFound, "%s: no rows", op)
	}
	return errors.Wrap(err, errors.KindStoreUnavailable, op)
}

func prefixPattern(prefix string) string {
	// Escape LIKE wildcards in the logical path.
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return esc + "/%"
}
