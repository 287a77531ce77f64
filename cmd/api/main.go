package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	"github.com/vanakhel/server/internal/auth"
	"github.com/vanakhel/server/internal/config"
	"github.com/vanakhel/server/internal/db"
	"github.com/vanakhel/server/internal/flow"
	"github.com/vanakhel/server/internal/flowstore"
	httphandler "github.com/vanakhel/server/internal/http"
	"github.com/vanakhel/server/internal/http/handlers"
	"github.com/vanakhel/server/internal/observability/metrics"
	"github.com/vanakhel/server/internal/session"
	"github.com/vanakhel/server/internal/upstream"
)

func main() {
	// Load .env from the CWD so env vars still override file values.
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	sessions, cleanup, err := buildSessionRepo(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up session store: %v", err)
	}
	defer cleanup()

	metrics.MustRegister()

	platform := upstream.NewInstrumented(upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamTimeout))
	loginFlow := flow.New(platform, sessions,
		flow.WithCooldowns(cfg.OTPSendCooldown, cfg.OTPResendCooldown))
	flows := flowstore.New(cfg.FlowTTL)
	jwtService := auth.NewJWTService(cfg.JWTSecret)

	loginHandler := handlers.NewLoginHandler(flows, loginFlow, jwtService)
	router := httphandler.NewRouter(loginHandler, jwtService, sessions)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Login gateway starting on port %s (upstream %s)", cfg.Port, cfg.UpstreamBaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// buildSessionRepo wires the configured session backend and returns the
// repository together with a teardown func.
func buildSessionRepo(ctx context.Context, cfg *config.Config) (session.Repo, func(), error) {
	switch cfg.SessionBackend {
	case config.BackendPostgres:
		database, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := runMigrations(database); err != nil {
			_ = database.Close()
			return nil, nil, err
		}
		return session.NewPostgresRepo(database), func() { _ = database.Close() }, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return session.NewRedisRepo(client, "session", 0), func() { _ = client.Close() }, nil

	case config.BackendMemory:
		log.Println("SESSION_BACKEND=memory: session records will not survive a restart")
		return session.NewMemoryRepo(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the repository root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
