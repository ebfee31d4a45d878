package memory

import (
	"context"
	"fmt"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/keytext"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/store"
)

const defaultReindexBatch = 64

// Reindex rebuilds search_text and the embedding of every row, expired ones
// included, in batches of batchSize. Run it after changing the embedding
// model. It returns the number of rows rewritten.
func (s *Service) Reindex(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultReindexBatch
	}

	var (
		cursor store.Cursor
		total  int
	)
	for {
		page, err := s.store.List(ctx, cursor, batchSize)
		if err != nil {
			return total, fmt.Errorf("list memories: %w", err)
		}
		if len(page) == 0 {
			break
		}

		texts := make([]string, len(page))
		for i, m := range page {
			texts[i] = keytext.Build(m.Key, m.Value, m.Tags)
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(page) {
			return total, fmt.Errorf("embed batch: expected %d embeddings, got %d", len(page), len(vecs))
		}

		for i, m := range page {
			if err := s.store.UpdateEmbedding(ctx, m.Key, m.UserID, texts[i], vecs[i]); err != nil {
				return total, fmt.Errorf("update %q: %w", m.Key, err)
			}
			total++
		}

		last := page[len(page)-1]
		cursor = store.Cursor{UserID: last.UserID, Key: last.Key}
		s.logger.Info("reindexed batch", "rows", len(page), "total", total)

		if len(page) < batchSize {
			break
		}
	}
	return total, nil
}
