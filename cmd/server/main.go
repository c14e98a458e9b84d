// Tennis onboarding assistant server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/tennis-onboard/internal/agent"
	"github.com/ashureev/tennis-onboard/internal/api"
	"github.com/ashureev/tennis-onboard/internal/app"
	"github.com/ashureev/tennis-onboard/internal/config"
	"github.com/ashureev/tennis-onboard/internal/identity"
	"github.com/ashureev/tennis-onboard/internal/middleware"
	"github.com/ashureev/tennis-onboard/web"
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

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"model_engine", cfg.Model.Engine,
		"speech", cfg.Speech.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := deps.Close(); closeErr != nil {
			slog.Error("Failed to close dependencies", "error", closeErr)
		}
	}()

	registry := agent.NewRegistry()
	sockets := api.NewSocketRegistry()
	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Close()

	// Initialize handlers.
	var healthHandler *api.HealthHandler
	var archive api.ArchiveReader
	if deps.Archive != nil {
		archive = deps.Archive
		healthHandler = api.NewHealthHandler(deps.Archive, registry.Len)
	} else {
		healthHandler = api.NewHealthHandler(nil, registry.Len)
	}
	onboardingHandler := api.NewOnboardingHandler(registry, deps.NewController, archive, limiter, sockets, cfg.DefaultLanguage)
	wsHandler := api.NewSocketHandler(registry, sockets, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	r.Handle("/metrics", promhttp.Handler())
	healthHandler.RegisterHealth(r)

	// Identity-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		onboardingHandler.RegisterRoutes(r)
		wsHandler.RegisterRoutes(r)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout for WebSocket connections
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	ttlDone := agent.StartTTLWorker(ctx, registry, cfg.SessionTTL, agent.DefaultTTLInterval, sockets.Close)
	slog.Info("TTL worker started", "session_ttl", cfg.SessionTTL)

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
	}
	<-ttlDone

	// Persist sessions still in memory.
	flushed := agent.SweepIdle(shutdownCtx, registry, 0, time.Now().Add(time.Second), sockets.Close)
	slog.Info("Server stopped successfully", "flushed_sessions", flushed)
}
