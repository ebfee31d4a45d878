// Package search ranks memories by combining embedding similarity with
// trigram similarity over the stored search text.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/embedding"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/metrics"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/models"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/store"
)

// Params tunes the hybrid score.
type Params struct {
	// VectorThreshold is the minimum vector score that admits a candidate.
	VectorThreshold float64
	// TrigramWeight scales the trigram score before it is added to the
	// vector score.
	TrigramWeight float64
	// TrigramThreshold is the minimum trigram score that admits a candidate.
	TrigramThreshold float64
	// CandidateMultiplier sets how many vector-nearest rows are fetched per
	// requested result.
	CandidateMultiplier int
}

// DefaultParams returns the production tuning.
func DefaultParams() Params {
	return Params{
		VectorThreshold:     0.35,
		TrigramWeight:       0.15,
		TrigramThreshold:    0.1,
		CandidateMultiplier: 3,
	}
}

// HybridRanker embeds a query, pulls vector-nearest candidates from the
// store, and re-scores them with a trigram boost:
//
//	score = vector + TrigramWeight × trigram
//
// A candidate survives if either raw score clears its threshold. Candidates
// are capped at limit × CandidateMultiplier, so a row that only matches
// lexically can be missed when it is far from the query vector.
type HybridRanker struct {
	store    store.Store
	embedder embedding.Embedder
	params   Params
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewHybridRanker(st store.Store, emb embedding.Embedder, params Params, m *metrics.Metrics, logger *slog.Logger) *HybridRanker {
	if params.CandidateMultiplier < 1 {
		params.CandidateMultiplier = 1
	}
	return &HybridRanker{
		store:    st,
		embedder: emb,
		params:   params,
		metrics:  m,
		logger:   logger,
	}
}

// Rank returns at most limit live memories in scope for userID, best first.
// Returned keys get last_used_at refreshed; a failed refresh is logged and
// does not fail the search.
func (h *HybridRanker) Rank(ctx context.Context, query, scope, userID string, limit int) ([]models.ScoredMemory, error) {
	if limit <= 0 {
		return nil, nil
	}

	vec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	cands, err := h.store.Candidates(ctx, store.CandidateQuery{
		Vector: vec,
		Text:   query,
		Scope:  scope,
		UserID: userID,
		Limit:  limit * h.params.CandidateMultiplier,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}

	results := Combine(cands, h.params, limit)

	if len(results) > 0 {
		keys := make([]string, len(results))
		for i, r := range results {
			keys[i] = r.Memory.Key
		}
		if err := h.store.Touch(ctx, keys, userID); err != nil {
			h.metrics.TouchFailed()
			h.logger.Warn("failed to refresh last_used_at for search results",
				"user_id", userID, "count", len(keys), "error", err)
		}
	}
	return results, nil
}

// Combine filters candidates by threshold, scores the survivors, and returns
// the top limit ordered by score descending then key ascending.
func Combine(cands []store.Candidate, p Params, limit int) []models.ScoredMemory {
	results := make([]models.ScoredMemory, 0, len(cands))
	for _, c := range cands {
		if c.VectorScore < p.VectorThreshold && c.TrigramScore < p.TrigramThreshold {
			continue
		}
		results = append(results, models.ScoredMemory{
			Memory:       c.Memory,
			VectorScore:  c.VectorScore,
			TrigramScore: c.TrigramScore,
			Score:        c.VectorScore + p.TrigramWeight*c.TrigramScore,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.Key < results[j].Memory.Key
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
