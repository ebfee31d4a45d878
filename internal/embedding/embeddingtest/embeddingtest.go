// Package embeddingtest provides deterministic embedders for tests.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/embedding"
)

// Concepts is a bag-of-concepts embedder. Words listed in the same group map
// to the same dimension, so texts sharing a concept land near each other;
// every other word hashes into the remaining dimensions. Fixed overrides the
// vector for an exact text.
type Concepts struct {
	Dim    int
	Fixed  map[string][]float32
	groups map[string]int
	n      int
}

// NewConcepts builds a Concepts embedder with one dimension per group.
func NewConcepts(dim int, groups ...[]string) *Concepts {
	c := &Concepts{Dim: dim, Fixed: map[string][]float32{}, groups: map[string]int{}, n: len(groups)}
	for i, g := range groups {
		for _, w := range g {
			c.groups[strings.ToLower(w)] = i
		}
	}
	return c
}

func (c *Concepts) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := c.Fixed[text]; ok {
		return v, nil
	}
	vec := make([]float32, c.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if idx, ok := c.groups[w]; ok {
			vec[idx]++
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[c.n+int(h.Sum32()%uint32(c.Dim-c.n))]++
	}
	return normalize(vec), nil
}

func (c *Concepts) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *Concepts) HealthCheck(context.Context) bool { return true }

// Counting wraps an Embedder, counts calls, and fails every call with Err
// when it is set.
type Counting struct {
	Next    embedding.Embedder
	Err     error
	embeds  atomic.Int32
	batches atomic.Int32
}

func (c *Counting) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embeds.Add(1)
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Next.Embed(ctx, text)
}

func (c *Counting) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches.Add(1)
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Next.EmbedBatch(ctx, texts)
}

func (c *Counting) HealthCheck(ctx context.Context) bool {
	return c.Err == nil && c.Next.HealthCheck(ctx)
}

// Calls returns the number of Embed plus EmbedBatch calls.
func (c *Counting) Calls() int {
	return int(c.embeds.Load() + c.batches.Load())
}

// Batches returns the number of EmbedBatch calls.
func (c *Counting) Batches() int {
	return int(c.batches.Load())
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
