package models

import "time"

const (
	// DefaultUserID is the owner used when a caller runs single-tenant.
	DefaultUserID = "default"
	// DefaultScope is the partition label used when none is given.
	DefaultScope = "user"
	// EmbeddingDim is the vector length of the schema's embedding column.
	EmbeddingDim = 768
)

// Memory is the sole persistent entity: a short fact stored under a key that
// is unique per user.
type Memory struct {
	Key        string     `json:"key"`
	Value      string     `json:"value"`
	Scope      string     `json:"scope"`
	UserID     string     `json:"user_id"`
	Tags       string     `json:"tags"`
	TagsSearch string     `json:"tags_search"`
	SearchText string     `json:"-"`
	Embedding  []float32  `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt time.Time  `json:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// ScoredMemory is a ranked search hit.
type ScoredMemory struct {
	Memory       *Memory
	VectorScore  float64
	TrigramScore float64
	Score        float64
}
