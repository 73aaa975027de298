// Nepali bias review server
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

	"github.com/ashureev/debias-review/internal/api"
	"github.com/ashureev/debias-review/internal/config"
	"github.com/ashureev/debias-review/internal/domain"
	"github.com/ashureev/debias-review/internal/events"
	"github.com/ashureev/debias-review/internal/gateway"
	"github.com/ashureev/debias-review/internal/identity"
	"github.com/ashureev/debias-review/internal/middleware"
	"github.com/ashureev/debias-review/internal/review"
	"github.com/ashureev/debias-review/internal/session"
	"github.com/ashureev/debias-review/internal/store"
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

	categories := domain.DefaultCategoryMap()
	if cfg.LabelMapPath != "" {
		categories, err = domain.LoadCategoryMap(cfg.LabelMapPath)
		if err != nil {
			slog.Error("Failed to load label map", "error", err, "path", cfg.LabelMapPath)
			os.Exit(1)
		}
	}

	deps := review.Deps{
		Store:      session.NewStore(),
		Extractor:  gateway.NewDocumentExtractor(cfg.PdftotextPath, logger),
		Categories: categories,
		Audit:      repo,
		Logger:     logger,
	}
	renderer := &gateway.RoutingRenderer{Text: gateway.TextRenderer{}}

	// The model service is optional at startup; without it reviews cannot
	// start and PDFs cannot be rendered, which health reports as degraded.
	//nolint:nestif // Startup wiring is intentionally sequential to keep dependency setup explicit.
	if cfg.ModelServiceAddr != "" {
		slog.Info("Connecting to model service via gRPC", "address", cfg.ModelServiceAddr)
		modelClient, err := gateway.NewModelClient(cfg.ModelServiceAddr, logger)
		if err != nil {
			slog.Warn("Failed to connect to model service, classification disabled", "error", err)
		} else {
			defer modelClient.Close()
			deps.Classifier = modelClient
			renderer.PDF = modelClient
		}
	} else {
		slog.Info("Classification disabled (MODEL_SERVICE_ADDR not set)")
	}
	deps.Renderer = renderer

	llm, err := gateway.NewLLMClient(gateway.LLMConfig{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		MaxRetries: cfg.LLM.MaxRetries,
	}, logger)
	if err != nil {
		slog.Warn("LLM suggestions disabled", "error", err)
	} else {
		deps.Suggester = llm
		deps.Refiner = llm
	}

	hub := events.NewHub(events.DefaultBacklog, events.DefaultQueueSize, logger)
	defer hub.Close()
	deps.Notifier = hub

	orch := review.New(deps, review.Config{
		DefaultThreshold:    cfg.Review.DefaultThreshold,
		ClassifyConcurrency: cfg.Review.ClassifyConcurrency,
		GatewayTimeout:      cfg.Review.GatewayTimeout,
		SegmentMinChars:     cfg.Review.SegmentMinChars,
	})

	// Initialize handlers.
	reviewHandler := api.NewHandler(orch, repo, api.Options{
		MaxUploadBytes: cfg.Review.MaxUploadBytes,
		DefaultRefine:  cfg.Review.DefaultRefine,
	}, logger)
	wsHandler := events.NewWebSocketHandler(hub, orch.Store(), cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	reviewHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/review/{sessionID}", wsHandler.ServeHTTP)

	// Create server.
	// WebSocket streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start session sweeper; it also prunes the audit log.
	session.StartSweeper(ctx, orch.Store(), session.SweeperConfig{
		Interval:           cfg.Sessions.SweepInterval,
		IdleTTL:            cfg.Sessions.IdleTTL,
		CompletedRetention: cfg.Sessions.CompletedRetention,
		AfterSweep: func(ctx context.Context) {
			if cfg.Sessions.AuditRetention <= 0 {
				return
			}
			n, err := repo.PruneEvents(ctx, cfg.Sessions.AuditRetention)
			if err != nil {
				slog.Warn("Failed to prune audit events", "error", err)
				return
			}
			if n > 0 {
				slog.Info("Pruned audit events", "deleted", n)
			}
		},
	}, orch.SessionExpired)

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
