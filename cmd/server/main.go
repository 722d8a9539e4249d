// CodeHive - Collaborative AI coding workspace server
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

	"github.com/codehive/codehive/internal/ai"
	"github.com/codehive/codehive/internal/api"
	"github.com/codehive/codehive/internal/auth"
	"github.com/codehive/codehive/internal/chat"
	"github.com/codehive/codehive/internal/config"
	"github.com/codehive/codehive/internal/middleware"
	"github.com/codehive/codehive/internal/runtime"
	"github.com/codehive/codehive/internal/store"
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

	// Provision the AI identity once at startup. The record is an
	// immutable handle injected into the responder; AI turns still
	// broadcast without it, they just skip the database write.
	aiIdentity, err := repo.EnsureAIIdentity(context.Background())
	if err != nil {
		slog.Warn("Failed to provision AI identity, AI messages will not be persisted", "error", err)
		aiIdentity = nil
	} else {
		slog.Info("AI identity ready", "email", aiIdentity.Email)
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL)
	registry := chat.NewRoomRegistry()

	// Initialize the AI turn pipeline (optional).
	var responder chat.AIResponder
	if cfg.AIEnabled() {
		geminiAPI, err := ai.NewGeminiAPI(context.Background(), cfg.GoogleAIKey)
		if err != nil {
			slog.Warn("Failed to initialize Gemini client, AI features will be disabled", "error", err)
		} else {
			generator := ai.NewGenerator(geminiAPI, cfg.PreferredModel)
			responder = ai.NewResponder(generator, repo, registry, aiIdentity)
			slog.Info("AI generation enabled", "preferred_model", cfg.PreferredModel)
		}
	}
	if responder == nil {
		slog.Info("AI features disabled (GOOGLE_AI_KEY not set or client init failed)")
	}

	// Initialize the workspace runtime (optional).
	var mgr runtime.Manager
	if dockerMgr, err := runtime.NewDockerManager(cfg.WorkspaceImage, cfg.ContainerRuntime); err != nil {
		slog.Warn("Failed to initialize workspace runtime, /run endpoints disabled", "error", err)
	} else {
		mgr = dockerMgr
	}

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, tokens, mgr)
	chatHandler := chat.NewHandler(repo, tokens, registry, responder, cfg.FrontendURL, cfg.IsDevelopment())
	authed := auth.Middleware(tokens, repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	apiHandler.RegisterUserRoutes(r, authed)
	apiHandler.RegisterProjectRoutes(r, authed)

	// WebSocket endpoint: the chat handler performs its own handshake
	// authentication, so it sits outside the auth middleware.
	r.Get("/ws/project", chatHandler.ServeHTTP)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket sessions are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mgr != nil {
		runtime.StartReaper(ctx, repo, mgr, cfg.WorkspaceTTL)
		slog.Info("Workspace reaper started", "workspace_ttl", cfg.WorkspaceTTL)
	}

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
