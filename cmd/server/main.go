// Package main provides the entry point for the editlock-service server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/editlock-service/internal/api"
	"github.com/kneutral-org/editlock-service/internal/config"
	"github.com/kneutral-org/editlock-service/internal/lock"
	"github.com/kneutral-org/editlock-service/internal/logging"
	"github.com/kneutral-org/editlock-service/internal/metrics"
	"github.com/kneutral-org/editlock-service/internal/middleware"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = logging.NewPrettyLogger("editlock-service", cfg.LogLevel)
	} else {
		logger = logging.NewLogger("editlock-service", cfg.LogLevel)
	}

	clock := lock.SystemClock()
	policy := lock.ExpiryPolicy{TTL: cfg.LockTTL, SkewTolerance: cfg.ClockSkewTolerance}

	store, cleanup, err := newStore(cfg, clock, policy)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.LockBackend).Msg("failed to initialize lock store")
	}
	defer cleanup()

	// Edit permissions are enforced by the surrounding conference system
	// before it calls the coordinator; the coordinator itself grants all.
	manager := lock.NewManager(store, policy, lock.AllowAll(), clock, logger)
	hooks := lock.NewLifecycleHooks(manager, logger)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(middleware.Metrics())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	metrics.RegisterMetricsEndpoint(router)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.PayloadLimitErrorHandler(logger))
	apiV1.Use(middleware.PayloadLimit(cfg.MaxPayloadSize, logger))

	handler := api.NewHandler(manager, hooks, logger)
	lifecycleHMAC := middleware.HMACMiddleware(middleware.DefaultLifecycleConfig(cfg.LifecycleSecret))
	handler.RegisterRoutes(apiV1, lifecycleHMAC)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("backend", cfg.LockBackend).
			Dur("lockTtl", cfg.LockTTL).
			Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited properly")
}

// newStore builds the configured lock store backend. The returned cleanup
// closes the backend's connections.
func newStore(cfg *config.Config, clock lock.Clock, policy lock.ExpiryPolicy) (lock.Store, func(), error) {
	switch cfg.LockBackend {
	case config.BackendMemory:
		return lock.NewInMemoryStore(clock, policy), func() {}, nil

	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return lock.NewPostgresStore(pool, policy), pool.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return lock.NewRedisStore(client, clock, policy), func() { _ = client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}
