package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/restyle-ai/llmpool/internal/config"
	"github.com/restyle-ai/llmpool/internal/pool"
	"github.com/restyle-ai/llmpool/internal/ratelimit"
	"github.com/restyle-ai/llmpool/internal/server"
	"github.com/restyle-ai/llmpool/internal/telemetry"
	"github.com/restyle-ai/llmpool/internal/transport"
	"github.com/restyle-ai/llmpool/internal/usage"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg := loader.Config()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	// Connect to Redis (distributed rate limiting + budget); optional
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (falling back to in-process rate limiting)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	// Connect to PostgreSQL (usage ledger); optional
	var dbPool *pgxpool.Pool
	if cfg.Database.Name != "" {
		var err error
		dbPool, err = pgxpool.New(context.Background(), cfg.Database.DSN())
		if err == nil {
			err = dbPool.Ping(context.Background())
		}
		if err != nil {
			logger.Warn("database not reachable (usage ledger disabled)", "error", err)
			if dbPool != nil {
				dbPool.Close()
			}
			dbPool = nil
		} else {
			logger.Info("database connected")
			defer dbPool.Close()
		}
	}
	ledger := usage.NewLedger(dbPool)

	// Provider transport behind a circuit breaker
	client, err := transport.NewHTTPClient(transport.Options{
		BaseURL:       cfg.Provider.BaseURL,
		APIKey:        cfg.Provider.APIKey,
		Timeout:       cfg.Provider.Timeout,
		MaxConcurrent: cfg.Pool.MaxConnections,
	})
	if err != nil {
		logger.Error("failed to build provider transport", "error", err)
		os.Exit(1)
	}
	breaker := transport.NewBreaker(cfg.Provider.BreakerFailureThreshold, cfg.Provider.BreakerProbeInterval)
	guarded := transport.NewBreakerClient(client, breaker)

	metrics := telemetry.NewMetrics()

	poolOpts := []pool.Option{
		pool.WithLogger(logger),
		pool.WithMetrics(metrics),
		pool.WithUsageRecorder(ledger),
	}
	if rdb != nil {
		limiter, err := ratelimit.NewRedisLimiter(rdb, "dispatch", cfg.Pool.RequestsPerMinute, time.Minute)
		if err != nil {
			logger.Error("failed to build rate limiter", "error", err)
			os.Exit(1)
		}
		poolOpts = append(poolOpts, pool.WithLimiter(limiter))
		if cfg.Pool.DailyBudgetUSD > 0 {
			poolOpts = append(poolOpts, pool.WithBudget(ratelimit.NewDailyBudget(rdb, cfg.Pool.DailyBudgetUSD)))
		}
	}

	dispatch, err := pool.New(pool.Config{
		MaxConnections:    cfg.Pool.MaxConnections,
		CacheSize:         cfg.Pool.CacheSize,
		CacheTTL:          cfg.Pool.CacheTTL,
		RequestsPerMinute: cfg.Pool.RequestsPerMinute,
		MaxRetries:        cfg.Pool.MaxRetries,
		BatchConcurrency:  cfg.Pool.BatchConcurrency,
	}, guarded, pool.PriceTable(loader.Models().PriceTable()), poolOpts...)
	if err != nil {
		logger.Error("failed to build dispatch pool", "error", err)
		os.Exit(1)
	}
	defer dispatch.Close()

	loader.OnReload(func() {
		dispatch.UpdatePrices(pool.PriceTable(loader.Models().PriceTable()))
		logger.Info("pricing table reloaded")
	})

	handler := server.NewHandler(dispatch, ledger, func() *config.ModelsConfig {
		return loader.Models()
	})

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(server.RequestID)

	// Unauthenticated routes
	r.Get("/health", healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(server.AuthMiddleware(cfg.Server.APIToken))
		r.Post("/v1/generate", handler.Generate)
		r.Post("/v1/generate/batch", handler.GenerateBatch)
		r.Get("/v1/pool/stats", handler.PoolStats)
		r.Post("/v1/pool/cache/clear", handler.CacheClear)
		r.Get("/v1/usage", handler.Usage)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("llmpool starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("llmpool stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}
