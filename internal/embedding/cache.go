package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/metrics"
)

// CachedEmbedder wraps an Embedder with an in-process content-hash cache.
// Repeated queries and unchanged search text skip the network round-trip.
type CachedEmbedder struct {
	next    Embedder
	cache   *ristretto.Cache
	metrics *metrics.Metrics
}

// NewCachedEmbedder caches up to size vectors in front of next.
func NewCachedEmbedder(next Embedder, size int, m *metrics.Metrics) (*CachedEmbedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache, metrics: m}, nil
}

// Embed returns the embedding for text, using cache when available.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := ContentHash(text)
	if vec, ok := e.get(key); ok {
		return vec, nil
	}

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.put(key, vec)
	return vec, nil
}

// EmbedBatch serves cached texts locally and sends only the misses upstream,
// preserving input order.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, t := range texts {
		if vec, ok := e.get(ContentHash(t)); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrUnavailable, len(missTexts), len(vecs))
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		e.put(ContentHash(missTexts[j]), vec)
	}
	return out, nil
}

func (e *CachedEmbedder) HealthCheck(ctx context.Context) bool {
	return e.next.HealthCheck(ctx)
}

// Close stops the cache's background goroutines.
func (e *CachedEmbedder) Close() {
	e.cache.Close()
}

func (e *CachedEmbedder) get(key string) ([]float32, bool) {
	v, ok := e.cache.Get(key)
	e.metrics.CacheLookup(ok)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

func (e *CachedEmbedder) put(key string, vec []float32) {
	e.cache.Set(key, vec, 1)
	e.cache.Wait()
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
