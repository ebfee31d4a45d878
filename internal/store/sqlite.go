package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/similarity"
)

// sqliteDriver is go-sqlite3 with a pg_trgm-compatible similarity(a, b)
// function registered on every connection.
const sqliteDriver = "sqlite3_hamem"

func init() {
	// Auto-register sqlite-vec for vec_distance_cosine
	sqlite_vec.Auto()

	sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("similarity", similarity.Trigram, true)
		},
	})
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db      *sql.DB
	now     Clock
	timeout time.Duration
	logger  *slog.Logger
}

// OpenSQLite creates or opens the SQLite database at opts.Path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func OpenSQLite(opts Options) (*SQLiteStore, error) {
	opts = opts.withDefaults()

	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open(sqliteDriver, opts.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{
		db:      db,
		now:     opts.Clock,
		timeout: opts.QueryTimeout,
		logger:  opts.Logger,
	}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS memories (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  key TEXT NOT NULL,
  value TEXT NOT NULL,
  scope TEXT NOT NULL DEFAULT 'user',
  user_id TEXT NOT NULL DEFAULT 'default',
  tags TEXT NOT NULL DEFAULT '',
  tags_search TEXT NOT NULL DEFAULT '',
  embedding BLOB,
  search_text TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  last_used_at INTEGER NOT NULL,
  expires_at INTEGER,
  UNIQUE (key, user_id)
);

CREATE INDEX IF NOT EXISTS idx_memories_scope_user ON memories(scope, user_id);
CREATE INDEX IF NOT EXISTS idx_memories_expires_at ON memories(expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryCount returns the total number of rows, expired ones included.
func (s *SQLiteStore) MemoryCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	return count, err
}
