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

	"github.com/joho/godotenv"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/auth"
	"github.com/ashita-ai/hakari/internal/config"
	"github.com/ashita-ai/hakari/internal/dispatch"
	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/handlers"
	"github.com/ashita-ai/hakari/internal/server"
	"github.com/ashita-ai/hakari/internal/services"
	"github.com/ashita-ai/hakari/internal/storage"
	"github.com/ashita-ai/hakari/internal/telemetry"
	"github.com/ashita-ai/hakari/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("HAKARI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("hakari starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and apply migrations. RunMigrations tracks applied
	// files in schema_migrations and skips duplicates, so errors here indicate
	// real failures (not "already exists").
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Register connection pool OTEL metrics (after telemetry.Init).
	db.RegisterPoolMetrics()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Hash the admin key once at startup; the middleware verifies against the
	// hash so the plaintext never sits in the server struct.
	var adminKeyHash string
	if cfg.AdminAPIKey != "" {
		adminKeyHash, err = auth.HashAPIKey(cfg.AdminAPIKey)
		if err != nil {
			return fmt.Errorf("admin key: %w", err)
		}
	}

	builds, runs, err := newExecutionClients(cfg, logger)
	if err != nil {
		return err
	}

	// Wire the evaluation engine: handler registry, then the dispatcher that
	// feeds it. The dispatcher is also the Enqueuer the handlers use for
	// feedback events, so dispatched-work outcomes loop back into the queue.
	registry := engine.NewRegistry()
	disp := dispatch.New(db, registry, logger, dispatch.Options{
		Buffer:  cfg.EventBufferSize,
		Workers: cfg.DispatchWorkers,
	})
	if err := handlers.RegisterBuiltins(registry, handlers.Deps{
		Builds: builds,
		Runs:   runs,
		Events: disp,
	}); err != nil {
		return fmt.Errorf("handlers: %w", err)
	}
	disp.Start(ctx)

	// Create and start HTTP server.
	srv := server.New(server.ServerConfig{
		Store:               db,
		Events:              disp,
		Pinger:              db,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		AdminAPIKeyHash:     adminKeyHash,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Stop accepting HTTP first (requests may still enqueue
	// events), then drain the dispatcher so in-flight passes commit.
	slog.Info("hakari shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	dispCtx, dispCancel := context.WithTimeout(context.Background(), 10*time.Second)
	disp.Drain(dispCtx)
	dispCancel()

	slog.Info("hakari stopped")
	return nil
}

// newExecutionClients picks the build and run service clients. When no URLs
// are configured the in-process stub stands in, which is enough for local
// development against synthetic jobs.
func newExecutionClients(cfg config.Config, logger *slog.Logger) (actions.BuildClient, actions.RunClient, error) {
	if cfg.BuildServiceURL == "" && cfg.RunServiceURL == "" {
		logger.Warn("execution services: stubbed (no service URLs configured)")
		return services.Stub{}, services.Stub{}, nil
	}
	builds, err := services.NewBuildService(cfg.BuildServiceURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build service: %w", err)
	}
	runs, err := services.NewRunService(cfg.RunServiceURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("run service: %w", err)
	}
	logger.Info("execution services configured",
		"build_url", cfg.BuildServiceURL, "run_url", cfg.RunServiceURL)
	return builds, runs, nil
}
