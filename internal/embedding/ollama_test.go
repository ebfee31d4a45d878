package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllamaServer mimics /api/embed, returning a dim-length vector per input
// whose first component is the input's length.
func fakeOllamaServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		var req struct {
			Model string          `json:"model"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var inputs []string
		if err := json.Unmarshal(req.Input, &inputs); err != nil {
			var single string
			if err := json.Unmarshal(req.Input, &single); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			inputs = []string{single}
		}

		embeddings := make([][]float32, len(inputs))
		for i, in := range inputs {
			vec := make([]float32, dim)
			vec[0] = float32(len(in))
			embeddings[i] = vec
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": embeddings})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaClient_Embed(t *testing.T) {
	srv := fakeOllamaServer(t, 768, nil)
	c := NewOllamaClient(srv.URL+"/", "nomic-embed-text", 768, 5*time.Second)

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 768)
	assert.Equal(t, float32(5), vec[0])
}

func TestOllamaClient_EmbedBatch(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOllamaServer(t, 768, &calls)
	c := NewOllamaClient(srv.URL, "nomic-embed-text", 768, 5*time.Second)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	assert.Equal(t, float32(2), vecs[2][0])
	assert.Equal(t, int32(1), calls.Load(), "batch must be a single request")

	empty, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOllamaClient_Failures(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewOllamaClient(srv.URL, "missing", 768, time.Second)
		_, err := c.Embed(context.Background(), "x")
		require.ErrorIs(t, err, ErrUnavailable)
		assert.Contains(t, err.Error(), "status 404")
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := NewOllamaClient(url, "m", 768, time.Second)
		_, err := c.Embed(context.Background(), "x")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		srv := fakeOllamaServer(t, 384, nil)
		c := NewOllamaClient(srv.URL, "m", 768, time.Second)
		_, err := c.Embed(context.Background(), "x")
		require.ErrorIs(t, err, ErrUnavailable)
		assert.Contains(t, err.Error(), "384 dimensions")
	})

	t.Run("empty embeddings", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"embeddings":[]}`))
		}))
		defer srv.Close()

		c := NewOllamaClient(srv.URL, "m", 768, time.Second)
		_, err := c.Embed(context.Background(), "x")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c := NewOllamaClient(srv.URL, "m", 768, 50*time.Millisecond)
		_, err := c.Embed(context.Background(), "x")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv := fakeOllamaServer(t, 768, nil)
		c := NewOllamaClient(srv.URL, "m", 768, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Embed(ctx, "x")
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestOllamaClient_HealthCheck(t *testing.T) {
	srv := fakeOllamaServer(t, 768, nil)
	assert.True(t, NewOllamaClient(srv.URL, "m", 768, time.Second).HealthCheck(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	assert.False(t, NewOllamaClient(down.URL, "m", 768, time.Second).HealthCheck(context.Background()))
}

func TestOllamaClient_RejectsZeroVector(t *testing.T) {
	// The fake server encodes len(text) in the first component, so empty
	// input comes back as the zero vector.
	srv := fakeOllamaServer(t, 768, nil)
	c := NewOllamaClient(srv.URL, "m", 768, time.Second)

	_, err := c.Embed(context.Background(), "")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "zero norm")

	_, err = c.EmbedBatch(context.Background(), []string{"ok", ""})
	require.ErrorIs(t, err, ErrUnavailable)
}
