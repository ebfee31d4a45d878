package store

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/models"
)

const testDim = 4

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func setupSQLite(t *testing.T) (*SQLiteStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := OpenSQLite(Options{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		Dimension: testDim,
		Clock:     clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func newMemory(key, userID, scope, value string, vec []float32) *models.Memory {
	return &models.Memory{
		Key:        key,
		Value:      value,
		Scope:      scope,
		UserID:     userID,
		SearchText: key + " " + value,
		Embedding:  vec,
	}
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	s, clock := setupSQLite(t)
	ctx := context.Background()

	m := newMemory("pet_name", models.DefaultUserID, "user", "Rex", []float32{1, 0, 0, 0})
	m.Tags = "dog"
	m.TagsSearch = "pets"
	require.NoError(t, s.Upsert(ctx, m))

	got, err := s.Get(ctx, "pet_name", models.DefaultUserID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Rex", got.Value)
	assert.Equal(t, "user", got.Scope)
	assert.Equal(t, "dog", got.Tags)
	assert.Equal(t, "pets", got.TagsSearch)
	assert.Equal(t, clock.Now(), got.CreatedAt)
	assert.Nil(t, got.ExpiresAt)

	missing, err := s.Get(ctx, "pet_name", "someone-else")
	require.NoError(t, err)
	assert.Nil(t, missing, "keys are scoped per user")
}

func TestSQLiteStore_UpsertPreservesCreatedAt(t *testing.T) {
	s, clock := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newMemory("k", "u", "user", "v1", []float32{1, 0, 0, 0})))
	created := clock.Now()

	clock.Advance(time.Hour)
	require.NoError(t, s.Upsert(ctx, newMemory("k", "u", "system", "v2", []float32{0, 1, 0, 0})))

	count, err := s.MemoryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := s.Get(ctx, "k", "u")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2", got.Value)
	assert.Equal(t, "system", got.Scope)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, clock.Now(), got.LastUsedAt)
}

func TestSQLiteStore_Expiry(t *testing.T) {
	s, clock := setupSQLite(t)
	ctx := context.Background()

	exp := clock.Now().Add(24 * time.Hour)
	m := newMemory("temp", "u", "user", "soon gone", []float32{1, 0, 0, 0})
	m.ExpiresAt = &exp
	require.NoError(t, s.Upsert(ctx, m))

	got, err := s.Get(ctx, "temp", "u")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(exp))

	clock.Advance(24*time.Hour + time.Second)

	got, err = s.Get(ctx, "temp", "u")
	require.NoError(t, err)
	assert.Nil(t, got)

	cands, err := s.Candidates(ctx, CandidateQuery{Vector: []float32{1, 0, 0, 0}, Text: "soon", Scope: "user", UserID: "u", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, cands, "expired rows are excluded from candidates too")

	count, err := s.MemoryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "expired rows stay until reaped")
}

func TestSQLiteStore_Delete(t *testing.T) {
	s, _ := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newMemory("k", "u", "user", "v", []float32{1, 0, 0, 0})))

	found, err := s.Delete(ctx, "k", "u")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.Delete(ctx, "k", "u")
	require.NoError(t, err)
	assert.False(t, found)

	got, err := s.Get(ctx, "k", "u")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_Candidates(t *testing.T) {
	s, _ := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newMemory("near", "u", "user", "alpha", []float32{1, 0, 0, 0})))
	require.NoError(t, s.Upsert(ctx, newMemory("mid", "u", "user", "beta", []float32{1, 1, 0, 0})))
	require.NoError(t, s.Upsert(ctx, newMemory("far", "u", "user", "gamma", []float32{0, 0, 1, 0})))
	require.NoError(t, s.Upsert(ctx, newMemory("other_scope", "u", "system", "alpha", []float32{1, 0, 0, 0})))
	require.NoError(t, s.Upsert(ctx, newMemory("other_user", "v", "user", "alpha", []float32{1, 0, 0, 0})))

	cands, err := s.Candidates(ctx, CandidateQuery{
		Vector: []float32{1, 0, 0, 0},
		Text:   "alpha",
		Scope:  "user",
		UserID: "u",
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, "near", cands[0].Memory.Key)
	assert.InDelta(t, 1.0, cands[0].VectorScore, 1e-5)
	assert.Greater(t, cands[0].TrigramScore, 0.0)

	assert.Equal(t, "mid", cands[1].Memory.Key)
	assert.InDelta(t, 0.7071, cands[1].VectorScore, 1e-3)
}

func TestSQLiteStore_Touch(t *testing.T) {
	s, clock := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newMemory("a", "u", "user", "v", []float32{1, 0, 0, 0})))
	require.NoError(t, s.Upsert(ctx, newMemory("b", "u", "user", "v", []float32{1, 0, 0, 0})))
	start := clock.Now()

	clock.Advance(time.Hour)
	require.NoError(t, s.Touch(ctx, []string{"a"}, "u"))
	require.NoError(t, s.Touch(ctx, nil, "u"))

	list, err := s.List(ctx, Cursor{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, clock.Now(), list[0].LastUsedAt)
	assert.Equal(t, start, list[1].LastUsedAt)
}

func TestSQLiteStore_ListAndUpdateEmbedding(t *testing.T) {
	s, _ := setupSQLite(t)
	ctx := context.Background()

	for _, kv := range [][2]string{{"b", "u1"}, {"a", "u2"}, {"a", "u1"}} {
		require.NoError(t, s.Upsert(ctx, newMemory(kv[0], kv[1], "user", "v", []float32{1, 0, 0, 0})))
	}

	page, err := s.List(ctx, Cursor{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "u1", page[0].UserID)
	assert.Equal(t, "a", page[0].Key)
	assert.Equal(t, "b", page[1].Key)

	last := page[len(page)-1]
	page, err = s.List(ctx, Cursor{UserID: last.UserID, Key: last.Key}, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "u2", page[0].UserID)

	require.NoError(t, s.UpdateEmbedding(ctx, "a", "u2", "rebuilt text", []float32{0, 0, 0, 1}))
	cands, err := s.Candidates(ctx, CandidateQuery{Vector: []float32{0, 0, 0, 1}, Text: "rebuilt", Scope: "user", UserID: "u2", Limit: 1})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "rebuilt text", cands[0].Memory.SearchText)
	assert.InDelta(t, 1.0, cands[0].VectorScore, 1e-5)
}

func TestSQLiteStore_TrigramFunctionMatchesPgTrgm(t *testing.T) {
	s, _ := setupSQLite(t)

	var score float64
	require.NoError(t, s.db.QueryRow(`SELECT similarity('word', 'two words')`).Scan(&score))
	assert.InDelta(t, 0.3636, score, 1e-4)
}

func TestSQLiteStore_Ping(t *testing.T) {
	s, _ := setupSQLite(t)
	require.NoError(t, s.Ping(context.Background()))

	require.NoError(t, s.Close())
	err := s.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Options{Backend: "mongo"})
	assert.Error(t, err)
}

func TestSQLiteStore_CandidatesSkipZeroNormRow(t *testing.T) {
	s, _ := setupSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newMemory("a", "u", "user", "alpha", []float32{1, 0, 0, 0})))
	require.NoError(t, s.Upsert(ctx, newMemory("z", "u", "user", "alpha", []float32{0, 0, 0, 0})))

	cands, err := s.Candidates(ctx, CandidateQuery{
		Vector: []float32{1, 0, 0, 0},
		Text:   "alpha",
		Scope:  "user",
		UserID: "u",
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "a", cands[0].Memory.Key)
	assert.InDelta(t, 1.0, cands[0].VectorScore, 1e-5)
	assert.Equal(t, "z", cands[1].Memory.Key)
	assert.Equal(t, -1.0, cands[1].VectorScore)
}

func TestSQLiteStore_GetSurvivesTouchFailure(t *testing.T) {
	clock := newFakeClock()
	var logs bytes.Buffer
	s, err := OpenSQLite(Options{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		Dimension: testDim,
		Clock:     clock.Now,
		Logger:    slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newMemory("k", "u", "user", "v", []float32{1, 0, 0, 0})))
	stored := clock.Now()

	_, err = s.db.ExecContext(ctx, `
		CREATE TRIGGER block_touch BEFORE UPDATE OF last_used_at ON memories
		BEGIN SELECT RAISE(ABORT, 'blocked'); END`)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	got, err := s.Get(ctx, "k", "u")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v", got.Value)
	assert.Equal(t, stored, got.LastUsedAt)
	assert.Contains(t, logs.String(), "failed to refresh last_used_at")
	assert.Contains(t, logs.String(), "blocked")
}
