// Package mcp exposes the memory operations as MCP tools over stdio. Each
// tool forwards to the memory HTTP server and returns its JSON envelope.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "semantic-memory"
	serverVersion = "1.0.0"
)

// Tools implements the tool handlers on top of a Client.
type Tools struct {
	client *Client
	userID string
}

// NewTools binds handlers to client. userID is sent with every call; empty
// means the server's default user.
func NewTools(client *Client, userID string) *Tools {
	return &Tools{client: client, userID: userID}
}

// NewServer registers the memory tools on a new MCP server.
func NewServer(t *Tools) *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("memory_set",
		mcp.WithDescription("Store a fact under a key. Setting an existing key replaces its value."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Identifier such as my_location or wifeName")),
		mcp.WithString("value", mcp.Required(), mcp.Description("The fact to remember")),
		mcp.WithString("scope", mcp.Description("Partition label (default user)")),
		mcp.WithString("tags", mcp.Description("Comma-separated labels that help later searches")),
		mcp.WithNumber("expiration_days", mcp.Description("Days until the memory expires; 0 never expires (default 180)")),
		mcp.WithBoolean("force_new", mcp.Description("Accepted for compatibility; a set always replaces")),
	), t.Set)

	s.AddTool(mcp.NewTool("memory_get",
		mcp.WithDescription("Retrieve a memory by its exact key."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key used when the memory was stored")),
	), t.Get)

	s.AddTool(mcp.NewTool("memory_search",
		mcp.WithDescription("Find memories related to a natural-language query, best match first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language search query")),
		mcp.WithString("scope", mcp.Description("Partition label (default user)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results to return (default 5)")),
	), t.Search)

	s.AddTool(mcp.NewTool("memory_forget",
		mcp.WithDescription("Delete a memory by key."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key of the memory to delete")),
	), t.Forget)

	return s
}

// Serve runs the server on stdin/stdout until stdin closes.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (t *Tools) Set(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	body := map[string]any{
		"key":       key,
		"value":     value,
		"scope":     req.GetString("scope", "user"),
		"force_new": req.GetBool("force_new", false),
	}
	args := req.GetArguments()
	// tags may arrive as a string or a list; the server accepts both.
	if tags, ok := args["tags"]; ok && tags != nil {
		body["tags"] = tags
	}
	if _, ok := args["expiration_days"]; ok {
		body["expiration_days"] = req.GetInt("expiration_days", 180)
	}
	return t.call(ctx, "set", body)
}

func (t *Tools) Get(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return t.call(ctx, "get", map[string]any{"key": key})
}

func (t *Tools) Search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return t.call(ctx, "search", map[string]any{
		"query": query,
		"scope": req.GetString("scope", "user"),
		"limit": req.GetInt("limit", 5),
	})
}

func (t *Tools) Forget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return t.call(ctx, "forget", map[string]any{"key": key})
}

func (t *Tools) call(ctx context.Context, endpoint string, body map[string]any) (*mcp.CallToolResult, error) {
	if t.userID != "" {
		body["user_id"] = t.userID
	}
	out, err := t.client.Post(ctx, endpoint, body)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}
