package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const healthCheckTimeout = 10 * time.Second

// OllamaClient generates text embeddings via the Ollama API.
type OllamaClient struct {
	baseURL    string
	model      string
	dim        int
	httpClient *http.Client
}

func NewOllamaClient(baseURL, model string, dim int, timeout time.Duration) *OllamaClient {
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dim:     dim,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding vector for the given text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := checkVectors(vecs[:1], 1, c.dim); err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for several texts in a single request.
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := c.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if err := checkVectors(vecs, len(texts), c.dim); err != nil {
		return nil, err
	}
	return vecs, nil
}

// HealthCheck verifies Ollama is reachable and the model can embed.
func (c *OllamaClient) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	_, err := c.embed(ctx, "health check")
	return err == nil
}

func (c *OllamaClient) embed(ctx context.Context, input any) ([][]float32, error) {
	data, err := json.Marshal(embedRequest{Model: c.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embed: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read embed response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama embed: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode embed response: %w", ErrUnavailable, err)
	}

	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: ollama returned no embeddings", ErrUnavailable)
	}

	return result.Embeddings, nil
}
