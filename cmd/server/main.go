package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/api"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/config"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/embedding"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/memory"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/metrics"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/search"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/store"
)

// app holds everything built from the config. close releases it in reverse
// order of construction.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   store.Store
	cache   *embedding.CachedEmbedder
	svc     *memory.Service
}

func main() {
	root := &cobra.Command{
		Use:           "semantic-memory",
		Short:         "Key-value memory store with hybrid semantic search",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE:  runServe,
	})

	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed every stored memory with the configured embedder",
		RunE:  runReindex,
	}
	reindexCmd.Flags().Int("batch", 64, "memories embedded per request")
	root.AddCommand(reindexCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := build(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      api.NewRouter(a.svc, a.metrics, a.cfg.APIToken, a.logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if !a.svc.EmbedderHealthy(cmd.Context()) {
		a.logger.Warn("embedding service not available at startup, requests will fail until it is",
			"provider", a.cfg.EmbedProvider)
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("memory server starting", "addr", srv.Addr, "backend", a.cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-done:
	}
	a.logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Error("shutdown error", "error", err)
	}

	a.logger.Info("server stopped")
	return nil
}

func runReindex(cmd *cobra.Command, _ []string) error {
	batch, err := cmd.Flags().GetInt("batch")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	start := time.Now()
	n, err := a.svc.Reindex(ctx, batch)
	if err != nil {
		return fmt.Errorf("reindex stopped after %d memories: %w", n, err)
	}
	a.logger.Info("reindex complete", "memories", n, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func build(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Logger
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	m := metrics.New()
	a := &app{cfg: cfg, logger: logger, metrics: m}

	// Embeddings
	var embedder embedding.Embedder
	switch cfg.EmbedProvider {
	case "openai":
		embedder = embedding.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel, cfg.EmbedDim, cfg.EmbedTimeout)
	default:
		embedder = embedding.NewOllamaClient(cfg.OllamaURL, cfg.EmbedModel, cfg.EmbedDim, cfg.EmbedTimeout)
	}
	if cfg.EmbedCacheSize > 0 {
		cache, err := embedding.NewCachedEmbedder(embedder, cfg.EmbedCacheSize, m)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		a.cache = cache
		embedder = cache
	}

	// Store
	st, err := store.New(ctx, store.Options{
		Backend:      cfg.StoreBackend,
		Path:         cfg.DBPath,
		DSN:          cfg.DSN(),
		MaxConns:     int32(cfg.DBMaxConns),
		MinConns:     int32(cfg.DBMinConns),
		Dimension:    cfg.EmbedDim,
		QueryTimeout: cfg.QueryTimeout,
		Logger:       logger,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	// Search and memory service
	ranker := search.NewHybridRanker(st, embedder, search.Params{
		VectorThreshold:     cfg.VectorThreshold,
		TrigramWeight:       cfg.TrigramWeight,
		TrigramThreshold:    cfg.TrigramThreshold,
		CandidateMultiplier: cfg.CandidateMultiplier,
	}, m, logger)

	a.svc = memory.NewService(st, embedder, ranker, memory.Defaults{
		ExpirationDays: cfg.DefaultExpirationDays,
		SearchLimit:    cfg.DefaultSearchLimit,
		MaxSearchLimit: cfg.MaxSearchLimit,
	}, m, logger)

	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close store", "error", err)
		}
	}
	if a.cache != nil {
		a.cache.Close()
	}
}
