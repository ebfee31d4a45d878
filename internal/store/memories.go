package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/models"
)

// memoryColumns is the canonical column list for all SELECT queries.
// Order must match scanMemory.
const memoryColumns = `key, value, scope, user_id, tags, tags_search, search_text,
	created_at, last_used_at, expires_at`

func (s *SQLiteStore) Upsert(ctx context.Context, m *models.Memory) error {
	blob, err := serializeVector(m.Embedding)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	now := s.now().Unix()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (
			key, value, scope, user_id, tags, tags_search,
			embedding, search_text, created_at, last_used_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key, user_id) DO UPDATE SET
			value = excluded.value,
			scope = excluded.scope,
			tags = excluded.tags,
			tags_search = excluded.tags_search,
			embedding = excluded.embedding,
			search_text = excluded.search_text,
			expires_at = excluded.expires_at,
			last_used_at = excluded.last_used_at
	`,
		m.Key, m.Value, m.Scope, m.UserID, m.Tags, m.TagsSearch,
		blob, m.SearchText, now, now, unixOrNil(m.ExpiresAt),
	)
	if err != nil {
		return unavailable("upsert memory", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key, userID string) (*models.Memory, error) {
	now := s.now().Unix()

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRowContext(qctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE key = ? AND user_id = ? AND %s`,
			memoryColumns, liveClause("?")),
		key, userID, now)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get memory", err)
	}

	if err := s.touch(qctx, []string{key}, userID, now); err != nil {
		s.logger.Warn("failed to refresh last_used_at", "key", key, "user_id", userID, "error", err)
	} else {
		m.LastUsedAt = time.Unix(now, 0).UTC()
	}
	return m, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE key = ? AND user_id = ?", key, userID)
	if err != nil {
		return false, unavailable("delete memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("delete memory", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Touch(ctx context.Context, keys []string, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.touch(ctx, keys, userID, s.now().Unix())
}

func (s *SQLiteStore) touch(ctx context.Context, keys []string, userID string, now int64) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys)+2)
	args = append(args, now, userID)
	for i, k := range keys {
		placeholders[i] = "?"
		args = append(args, k)
	}
	query := fmt.Sprintf(`UPDATE memories SET last_used_at = ? WHERE user_id = ? AND key IN (%s)`,
		strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return unavailable("touch memories", err)
	}
	return nil
}

func (s *SQLiteStore) Candidates(ctx context.Context, q CandidateQuery) ([]Candidate, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	blob, err := serializeVector(q.Vector)
	if err != nil {
		return nil, fmt.Errorf("candidates: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// A zero-norm embedding has no cosine distance; score it -1 so it sorts
	// last and never clears the vector threshold.
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s,
			COALESCE(1 - vec_distance_cosine(embedding, ?), -1) AS vec_score,
			similarity(search_text, ?) AS trgm_score
		FROM memories
		WHERE scope = ? AND user_id = ? AND embedding IS NOT NULL AND %s
		ORDER BY vec_score DESC, key ASC
		LIMIT ?
	`, memoryColumns, liveClause("?")),
		blob, q.Text, q.Scope, q.UserID, s.now().Unix(), q.Limit)
	if err != nil {
		return nil, unavailable("candidates", err)
	}
	defer rows.Close()

	var result []Candidate
	for rows.Next() {
		var c Candidate
		m, err := scanMemory(rows, &c.VectorScore, &c.TrigramScore)
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

func (s *SQLiteStore) List(ctx context.Context, after Cursor, limit int) ([]*models.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE (user_id, key) > (?, ?) ORDER BY user_id, key LIMIT ?`,
			memoryColumns),
		after.UserID, after.Key, limit)
	if err != nil {
		return nil, unavailable("list memories", err)
	}
	defer rows.Close()

	var result []*models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
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

func (s *SQLiteStore) UpdateEmbedding(ctx context.Context, key, userID, searchText string, vec []float32) error {
	blob, err := serializeVector(vec)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`UPDATE memories SET search_text = ?, embedding = ? WHERE key = ? AND user_id = ?`,
		searchText, blob, key, userID)
	if err != nil {
		return unavailable("update embedding", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMemory reads memoryColumns followed by any extra destinations.
func scanMemory(row rowScanner, extra ...any) (*models.Memory, error) {
	var m models.Memory
	var createdAt, lastUsedAt int64
	var expiresAt sql.NullInt64

	dest := []any{
		&m.Key, &m.Value, &m.Scope, &m.UserID, &m.Tags, &m.TagsSearch, &m.SearchText,
		&createdAt, &lastUsedAt, &expiresAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	m.LastUsedAt = time.Unix(lastUsedAt, 0).UTC()
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		m.ExpiresAt = &t
	}
	return &m, nil
}

func serializeVector(vec []float32) ([]byte, error) {
	if vec == nil {
		return nil, nil
	}
	return sqlite_vec.SerializeFloat32(vec)
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
