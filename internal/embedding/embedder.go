// Package embedding turns text into fixed-length vectors through an external
// model server. Providers do not retry; a failed call surfaces as
// ErrUnavailable and retry policy is left to the caller.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable reports that the embedding provider could not produce a
// usable vector: it was unreachable, returned a non-success status, or
// returned a malformed or wrongly sized response.
var ErrUnavailable = errors.New("embedding unavailable")

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// HealthCheck is a best-effort liveness probe. It never panics and
	// returns false on any failure.
	HealthCheck(ctx context.Context) bool
}

// checkVectors validates that a provider returned want non-zero vectors of
// dim length. A zero vector has no cosine similarity with anything.
func checkVectors(vecs [][]float32, want, dim int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: expected %d embeddings, got %d", ErrUnavailable, want, len(vecs))
	}
	for i, v := range vecs {
		if dim > 0 && len(v) != dim {
			return fmt.Errorf("%w: embedding %d has %d dimensions, expected %d", ErrUnavailable, i, len(v), dim)
		}
		if isZero(v) {
			return fmt.Errorf("%w: embedding %d has zero norm", ErrUnavailable, i)
		}
	}
	return nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
