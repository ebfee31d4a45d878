package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/embedding"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/keytext"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/metrics"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/models"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/search"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/store"
)

// ErrValidation marks a request the caller must fix, such as a blank key or
// query. It is returned before any embedding or store call is made.
var ErrValidation = errors.New("validation failed")

// Defaults applied to requests that leave fields unset.
type Defaults struct {
	ExpirationDays int
	SearchLimit    int
	MaxSearchLimit int
}

// DefaultDefaults matches the reference deployment.
func DefaultDefaults() Defaults {
	return Defaults{ExpirationDays: 180, SearchLimit: 5, MaxSearchLimit: 50}
}

// Service is the main facade for all memory operations.
type Service struct {
	store    store.Store
	embedder embedding.Embedder
	ranker   *search.HybridRanker
	defaults Defaults
	now      store.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now for expiry computation. Pass the same clock
// the store uses.
func WithClock(c store.Clock) Option {
	return func(s *Service) { s.now = c }
}

// NewService creates a new memory service with all dependencies.
func NewService(
	st store.Store,
	embedder embedding.Embedder,
	ranker *search.HybridRanker,
	defaults Defaults,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:    st,
		embedder: embedder,
		ranker:   ranker,
		defaults: defaults,
		now:      time.Now,
		metrics:  m,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set stores or replaces the memory for (key, user_id) and returns the key.
// The embedding is computed before the write, so a failed embedding leaves
// any existing row untouched.
func (s *Service) Set(ctx context.Context, req *models.SetRequest) (key string, err error) {
	defer s.observe("set", time.Now(), &err)

	if strings.TrimSpace(req.Key) == "" {
		return "", fmt.Errorf("%w: key must not be empty", ErrValidation)
	}

	tags := string(req.Tags)
	searchText := keytext.Build(req.Key, req.Value, tags)
	vec, err := s.embedder.Embed(ctx, searchText)
	if err != nil {
		return "", fmt.Errorf("embed memory: %w", err)
	}

	days := s.defaults.ExpirationDays
	if req.ExpirationDays != nil {
		days = *req.ExpirationDays
	}

	mem := &models.Memory{
		Key:        req.Key,
		Value:      req.Value,
		Scope:      orDefault(req.Scope, models.DefaultScope),
		UserID:     orDefault(req.UserID, models.DefaultUserID),
		Tags:       tags,
		TagsSearch: req.TagsSearch,
		SearchText: searchText,
		Embedding:  vec,
		ExpiresAt:  s.expiresAt(days),
	}
	if err := s.store.Upsert(ctx, mem); err != nil {
		return "", err
	}

	s.logger.Debug("memory stored", "key", mem.Key, "user_id", mem.UserID, "scope", mem.Scope)
	return mem.Key, nil
}

// Get returns the live memory for (key, userID), or nil if it is absent or
// expired.
func (s *Service) Get(ctx context.Context, key, userID string) (mem *models.Memory, err error) {
	defer s.observe("get", time.Now(), &err)

	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: key must not be empty", ErrValidation)
	}
	return s.store.Get(ctx, key, orDefault(userID, models.DefaultUserID))
}

// Search ranks live memories in the request's scope against the query.
// A blank query is rejected before anything is embedded.
func (s *Service) Search(ctx context.Context, req *models.SearchRequest) (results []models.ScoredMemory, err error) {
	defer s.observe("search", time.Now(), &err)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrValidation)
	}

	results, err = s.ranker.Rank(ctx, query,
		orDefault(req.Scope, models.DefaultScope),
		orDefault(req.UserID, models.DefaultUserID),
		s.limit(req.Limit),
	)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveSearchResults(len(results))
	return results, nil
}

// Forget deletes the memory for (key, userID) and reports whether it existed.
func (s *Service) Forget(ctx context.Context, key, userID string) (found bool, err error) {
	defer s.observe("forget", time.Now(), &err)

	if strings.TrimSpace(key) == "" {
		return false, fmt.Errorf("%w: key must not be empty", ErrValidation)
	}
	userID = orDefault(userID, models.DefaultUserID)
	found, err = s.store.Delete(ctx, key, userID)
	if err != nil {
		return false, err
	}
	if found {
		s.logger.Debug("memory forgotten", "key", key, "user_id", userID)
	}
	return found, nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// EmbedderHealthy runs the embedding provider's liveness probe.
func (s *Service) EmbedderHealthy(ctx context.Context) bool {
	return s.embedder.HealthCheck(ctx)
}

func (s *Service) expiresAt(days int) *time.Time {
	if days <= 0 {
		return nil
	}
	t := s.now().Add(time.Duration(days) * 24 * time.Hour)
	return &t
}

func (s *Service) limit(requested int) int {
	if requested <= 0 {
		return s.defaults.SearchLimit
	}
	if s.defaults.MaxSearchLimit > 0 && requested > s.defaults.MaxSearchLimit {
		return s.defaults.MaxSearchLimit
	}
	return requested
}

func (s *Service) observe(op string, start time.Time, err *error) {
	s.metrics.ObserveOperation(op, start, *err)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
