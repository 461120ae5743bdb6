// Agentboard - session orchestrator for coding agents
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentboard/agentboard/internal/api"
	"github.com/agentboard/agentboard/internal/config"
	"github.com/agentboard/agentboard/internal/engine"
	"github.com/agentboard/agentboard/internal/middleware"
	"github.com/agentboard/agentboard/internal/normalize"
	"github.com/agentboard/agentboard/internal/orchestrator"
	"github.com/agentboard/agentboard/internal/publish"
	"github.com/agentboard/agentboard/internal/store"
	"github.com/agentboard/agentboard/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Engine backends with their matching normalizers.
	backends := map[string]orchestrator.Backend{
		"claude": {
			Engine:     engine.NewClaude(cfg.ClaudeBin, logger),
			Normalizer: normalize.NewClaude(),
		},
		"codex": {
			Engine:     engine.NewCodex(cfg.CodexBin, logger),
			Normalizer: normalize.NewCodex(),
		},
	}

	// The hub replays a task snapshot to each freshly connected client
	// before live events flow.
	var orch *orchestrator.Orchestrator
	hub := publish.NewHub(cfg.FrontendURL, cfg.IsDevelopment(), cfg.HubOutboxSize, func(ctx context.Context) ([]any, error) {
		tasks, err := repo.ListTasks(ctx)
		if err != nil {
			return nil, err
		}
		msgs := []any{map[string]any{"type": "tasks", "payload": tasks}}
		for _, task := range tasks {
			if pending := orch.PendingRequests(task.ID); len(pending) > 0 {
				msgs = append(msgs, map[string]any{
					"type":    "pending_requests",
					"task_id": task.ID,
					"payload": pending,
				})
			}
			if queue := orch.QueuedPrompts(task.ID); len(queue) > 0 {
				msgs = append(msgs, map[string]any{
					"type":    "queue",
					"task_id": task.ID,
					"payload": map[string]any{"queue": queue},
				})
			}
		}
		return msgs, nil
	})

	orch = orchestrator.New(repo, hub, backends, logger)

	// Tasks left running or waiting by an unclean shutdown become
	// interrupted before anything is served.
	if err := orch.RecoverStaleTasks(context.Background()); err != nil {
		slog.Error("Failed to recover stale tasks", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, orch)
	taskHandler := api.NewTaskHandler(baseHandler)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	taskHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws", hub.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: no WriteTimeout; the WebSocket endpoint holds connections open.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
