package main

import (
	"fmt"
	"os"
	"time"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/config"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/mcp"
)

func main() {
	cfg, err := config.LoadAdapter()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp server config error: %s\n", err)
		os.Exit(1)
	}

	client := mcp.NewClient(cfg.ServerURL, cfg.APIToken, 30*time.Second)
	server := mcp.NewServer(mcp.NewTools(client, os.Getenv("HAMEM_USER_ID")))
	if err := mcp.Serve(server); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server error: %s\n", err)
		os.Exit(1)
	}
}
