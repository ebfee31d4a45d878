package mcp

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

// Client posts tool calls to the memory HTTP server.
type Client struct {
	serverURL string
	token     string
	client    *http.Client
}

// NewClient creates a client for the server at serverURL. token is sent as a
// bearer token when non-empty.
func NewClient(serverURL, token string, timeout time.Duration) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		token:     token,
		client:    &http.Client{Timeout: timeout},
	}
}

// Post sends body to /memory/{endpoint} and returns the response body. A
// status of 400 or above is returned as an error carrying the body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (string, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/memory/"+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("memory server request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("memory server returned status %d: %s", resp.StatusCode, respBody)
	}
	return string(respBody), nil
}
