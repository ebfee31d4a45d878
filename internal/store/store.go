// Package store persists memory records and generates search candidates.
//
// Two backends implement Store: SQLite (default, single file) and PostgreSQL
// with pgvector. Both bind the current time from an injected Clock instead of
// calling the database's own clock, so expiry is testable.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/models"
)

// ErrUnavailable reports that the backing database could not service a
// request: connection failure, pool exhaustion, or query timeout.
var ErrUnavailable = errors.New("store unavailable")

// Backend names accepted by New.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Clock returns the current time.
type Clock func() time.Time

// Store is the persistence contract for memory records. Every operation is
// scoped by (key, user_id) where a key is involved.
type Store interface {
	// Upsert inserts m, or overwrites the existing row for (m.Key, m.UserID)
	// in a single statement. created_at is set only on insert.
	Upsert(ctx context.Context, m *models.Memory) error
	// Get returns the live record for (key, userID), or nil when it is absent
	// or expired. A hit refreshes last_used_at; a failed refresh is logged and
	// does not fail the read.
	Get(ctx context.Context, key, userID string) (*models.Memory, error)
	// Delete removes the row and reports whether one existed.
	Delete(ctx context.Context, key, userID string) (bool, error)
	// Touch refreshes last_used_at for keys owned by userID.
	Touch(ctx context.Context, keys []string, userID string) error
	// Candidates returns live records in q.Scope for q.UserID nearest to
	// q.Vector first, at most q.Limit of them, with both similarity scores.
	Candidates(ctx context.Context, q CandidateQuery) ([]Candidate, error)
	// List returns up to limit rows ordered by (user_id, key) strictly after
	// the cursor, expired rows included.
	List(ctx context.Context, after Cursor, limit int) ([]*models.Memory, error)
	// UpdateEmbedding rewrites search_text and embedding together.
	UpdateEmbedding(ctx context.Context, key, userID, searchText string, vec []float32) error
	Ping(ctx context.Context) error
	Close() error
}

// CandidateQuery selects the vector-nearest live records for ranking.
type CandidateQuery struct {
	Vector []float32
	Text   string
	Scope  string
	UserID string
	Limit  int
}

// Candidate is a record with its raw similarity scores.
type Candidate struct {
	Memory       *models.Memory
	VectorScore  float64
	TrigramScore float64
}

// Cursor is a position in (user_id, key) order. The zero value starts at the
// beginning.
type Cursor struct {
	UserID string
	Key    string
}

// Options configures a backend.
type Options struct {
	Backend string

	// SQLite
	Path string

	// PostgreSQL
	DSN      string
	MaxConns int32
	MinConns int32

	Dimension    int
	QueryTimeout time.Duration
	Clock        Clock
	Logger       *slog.Logger
}

// New opens the backend named by opts.Backend and initializes its schema.
func New(ctx context.Context, opts Options) (Store, error) {
	opts = opts.withDefaults()
	switch opts.Backend {
	case BackendSQLite, "":
		return OpenSQLite(opts)
	case BackendPostgres:
		return OpenPostgres(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Dimension <= 0 {
		o.Dimension = models.EmbeddingDim
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 5 * time.Second
	}
	return o
}

// liveClause is the expiry predicate shared by point lookup and candidate
// generation. now is the placeholder bound to the current time.
func liveClause(now string) string {
	return "(expires_at IS NULL OR expires_at > " + now + ")"
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
