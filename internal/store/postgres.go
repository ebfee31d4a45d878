package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS memories (
    id              BIGSERIAL PRIMARY KEY,
    key             TEXT NOT NULL,
    value           TEXT NOT NULL,
    scope           TEXT NOT NULL DEFAULT 'user',
    user_id         TEXT NOT NULL DEFAULT 'default',
    tags            TEXT NOT NULL DEFAULT '',
    tags_search     TEXT NOT NULL DEFAULT '',
    embedding       vector(%d),
    search_text     TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_used_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at      TIMESTAMPTZ,
    UNIQUE (key, user_id)
);

CREATE INDEX IF NOT EXISTS idx_memories_embedding_hnsw ON memories
    USING hnsw (embedding vector_cosine_ops) WITH (m=16, ef_construction=64);
CREATE INDEX IF NOT EXISTS idx_memories_key ON memories (key);
CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories (scope);
CREATE INDEX IF NOT EXISTS idx_memories_user_id ON memories (user_id);
CREATE INDEX IF NOT EXISTS idx_memories_search_text_trgm ON memories
    USING gin (search_text gin_trgm_ops);
`

// PostgresStore implements Store on PostgreSQL with the pgvector and pg_trgm
// extensions.
type PostgresStore struct {
	pool    *pgxpool.Pool
	now     Clock
	timeout time.Duration
	logger  *slog.Logger
}

// OpenPostgres connects a pool to opts.DSN and ensures the schema exists.
func OpenPostgres(ctx context.Context, opts Options) (*PostgresStore, error) {
	opts = opts.withDefaults()

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}

	// The vector type only exists after CREATE EXTENSION, so register codecs
	// lazily and tolerate its absence on the very first connection.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
			opts.Logger.Debug("pgvector types not registered yet", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, unavailable("connect postgres", err)
	}

	s := &PostgresStore{pool: pool, now: opts.Clock, timeout: opts.QueryTimeout, logger: opts.Logger}
	if err := s.ensureSchema(ctx, opts.Dimension); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	// Drop connections opened before the extension existed.
	pool.Reset()
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context, dim int) error {
	for _, ext := range []string{"vector", "pg_trgm"} {
		if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS "+ext); err != nil {
			return unavailable("create extension "+ext, err)
		}
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(postgresSchema, dim)); err != nil {
		return unavailable("create tables", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// MemoryCount returns the total number of rows, expired ones included.
func (s *PostgresStore) MemoryCount(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	return count, err
}

func (s *PostgresStore) Upsert(ctx context.Context, m *models.Memory) error {
	now := s.now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO memories (
			key, value, scope, user_id, tags, tags_search,
			embedding, search_text, created_at, last_used_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10)
		ON CONFLICT (key, user_id) DO UPDATE SET
			value = EXCLUDED.value,
			scope = EXCLUDED.scope,
			tags = EXCLUDED.tags,
			tags_search = EXCLUDED.tags_search,
			embedding = EXCLUDED.embedding,
			search_text = EXCLUDED.search_text,
			expires_at = EXCLUDED.expires_at,
			last_used_at = EXCLUDED.last_used_at
	`,
		m.Key, m.Value, m.Scope, m.UserID, m.Tags, m.TagsSearch,
		vectorOrNil(m.Embedding), m.SearchText, now, m.ExpiresAt,
	)
	if err != nil {
		return unavailable("upsert memory", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key, userID string) (*models.Memory, error) {
	now := s.now()

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.pool.QueryRow(qctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE key = $1 AND user_id = $2 AND %s`,
			memoryColumns, liveClause("$3")),
		key, userID, now)
	m, err := scanPgMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get memory", err)
	}

	if err := s.touch(qctx, []string{key}, userID, now); err != nil {
		s.logger.Warn("failed to refresh last_used_at", "key", key, "user_id", userID, "error", err)
	} else {
		m.LastUsedAt = now
	}
	return m, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, "DELETE FROM memories WHERE key = $1 AND user_id = $2", key, userID)
	if err != nil {
		return false, unavailable("delete memory", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Touch(ctx context.Context, keys []string, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.touch(ctx, keys, userID, s.now())
}

func (s *PostgresStore) touch(ctx context.Context, keys []string, userID string, now time.Time) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		"UPDATE memories SET last_used_at = $1 WHERE user_id = $2 AND key = ANY($3)",
		now, userID, keys)
	if err != nil {
		return unavailable("touch memories", err)
	}
	return nil
}

func (s *PostgresStore) Candidates(ctx context.Context, q CandidateQuery) ([]Candidate, error) {
	if q.Limit <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s,
			COALESCE(NULLIF(1 - (embedding <=> $1), 'NaN'::float8), -1) AS vec_score,
			similarity(search_text, $2)::float8 AS trgm_score
		FROM memories
		WHERE scope = $3 AND user_id = $4 AND embedding IS NOT NULL AND %s
		ORDER BY embedding <=> $1, key ASC
		LIMIT $6
	`, memoryColumns, liveClause("$5")),
		pgvector.NewVector(q.Vector), q.Text, q.Scope, q.UserID, s.now(), q.Limit)
	if err != nil {
		return nil, unavailable("candidates", err)
	}
	defer rows.Close()

	var result []Candidate
	for rows.Next() {
		var c Candidate
		m, err := scanPgMemory(rows, &c.VectorScore, &c.TrigramScore)
		if err != nil {
			return nil, unavailable("scan candidate", err)
		}
		c.Memory = m
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("candidates", err)
	}
	return result, nil
}

func (s *PostgresStore) List(ctx context.Context, after Cursor, limit int) ([]*models.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE (user_id, key) > ($1, $2) ORDER BY user_id, key LIMIT $3`,
			memoryColumns),
		after.UserID, after.Key, limit)
	if err != nil {
		return nil, unavailable("list memories", err)
	}
	defer rows.Close()

	var result []*models.Memory
	for rows.Next() {
		m, err := scanPgMemory(rows)
		if err != nil {
			return nil, unavailable("scan memory", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list memories", err)
	}
	return result, nil
}

func (s *PostgresStore) UpdateEmbedding(ctx context.Context, key, userID, searchText string, vec []float32) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`UPDATE memories SET search_text = $1, embedding = $2 WHERE key = $3 AND user_id = $4`,
		searchText, vectorOrNil(vec), key, userID)
	if err != nil {
		return unavailable("update embedding", err)
	}
	return nil
}

func scanPgMemory(row pgx.Row, extra ...any) (*models.Memory, error) {
	var m models.Memory
	dest := []any{
		&m.Key, &m.Value, &m.Scope, &m.UserID, &m.Tags, &m.TagsSearch, &m.SearchText,
		&m.CreatedAt, &m.LastUsedAt, &m.ExpiresAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &m, nil
}

func vectorOrNil(vec []float32) any {
	if vec == nil {
		return nil
	}
	return pgvector.NewVector(vec)
}
