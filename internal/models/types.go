package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// TagList is a comma-joined tag string. It also accepts a JSON array, which
// is joined with ", " since LLM tool callers often send tags as a list.
type TagList string

func (t *TagList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []any
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("tags: %w", err)
		}
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = fmt.Sprint(it)
		}
		*t = TagList(strings.Join(parts, ", "))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	*t = TagList(s)
	return nil
}

// --- Requests ---

// SetRequest is the body of POST /memory/set.
type SetRequest struct {
	Key            string  `json:"key"`
	Value          string  `json:"value"`
	Scope          string  `json:"scope"`
	UserID         string  `json:"user_id"`
	Tags           TagList `json:"tags"`
	TagsSearch     string  `json:"tags_search"`
	ExpirationDays *int    `json:"expiration_days"`
	// ForceNew is accepted for client compatibility; a set is always an upsert.
	ForceNew bool `json:"force_new"`
}

// GetRequest is the body of POST /memory/get.
type GetRequest struct {
	Key    string `json:"key"`
	UserID string `json:"user_id"`
}

// SearchRequest is the body of POST /memory/search.
type SearchRequest struct {
	Query  string `json:"query"`
	Scope  string `json:"scope"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

// ForgetRequest is the body of POST /memory/forget.
type ForgetRequest struct {
	Key    string `json:"key"`
	UserID string `json:"user_id"`
}

// --- Responses ---

// MemoryItem is the wire form of a memory.
type MemoryItem struct {
	Key          string   `json:"key"`
	Value        string   `json:"value"`
	Scope        string   `json:"scope"`
	UserID       string   `json:"user_id"`
	Tags         string   `json:"tags"`
	TagsSearch   string   `json:"tags_search"`
	Score        *float64 `json:"score,omitempty"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	TrigramScore *float64 `json:"trigram_score,omitempty"`
}

// NewMemoryItem converts a stored memory to its wire form.
func NewMemoryItem(m *Memory) MemoryItem {
	return MemoryItem{
		Key:        m.Key,
		Value:      m.Value,
		Scope:      m.Scope,
		UserID:     m.UserID,
		Tags:       m.Tags,
		TagsSearch: m.TagsSearch,
	}
}

// NewScoredItem converts a search hit, rounding scores to four decimals.
func NewScoredItem(s ScoredMemory) MemoryItem {
	item := NewMemoryItem(s.Memory)
	item.Score = round4(s.Score)
	item.VectorScore = round4(s.VectorScore)
	item.TrigramScore = round4(s.TrigramScore)
	return item
}

func round4(v float64) *float64 {
	r := math.Round(v*10000) / 10000
	return &r
}

type SetResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

type GetResponse struct {
	Status string      `json:"status"`
	Memory *MemoryItem `json:"memory,omitempty"`
}

type SearchResponse struct {
	Status  string       `json:"status"`
	Results []MemoryItem `json:"results"`
}

type ForgetResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

// ErrorResponse is returned for every non-2xx status.
type ErrorResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// Status values used in response envelopes.
const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
	StatusError    = "error"
	StatusDegraded = "degraded"
)

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status string       `json:"status"`
	Checks HealthChecks `json:"checks"`
}

type HealthChecks struct {
	Store     ServiceCheck `json:"store"`
	Embedding ServiceCheck `json:"embedding"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
