// Package main starts the storefront sync service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/storefront-sync/internal/server"
	"github.com/Sternrassler/storefront-sync/pkg/backend"
	"github.com/Sternrassler/storefront-sync/pkg/cache"
	"github.com/Sternrassler/storefront-sync/pkg/config"
	"github.com/Sternrassler/storefront-sync/pkg/logging"
	"github.com/Sternrassler/storefront-sync/pkg/reconcile"
	"github.com/Sternrassler/storefront-sync/pkg/store"
	"github.com/Sternrassler/storefront-sync/pkg/telemetry"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	_ = godotenv.Load() // loads .env if present

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.Log.Level)
	logCfg.Pretty = cfg.Log.Pretty
	logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// run serves until ctx is done, then drains connections and unmounts sessions.
func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger("main")

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	srv, closeCache, err := buildServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("backend", cfg.Backend.BaseURL).
			Str("cache", cfg.Cache.Backend).
			Str("version", version).
			Msg("Starting storefront sync server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		srv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = httpServer.Shutdown(shutdownCtx)
	srv.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info().Msg("Server stopped")
	return nil
}

// buildServer wires the backend client, the response cache and the HTTP
// server from cfg. The returned func releases the cache store.
func buildServer(ctx context.Context, cfg *config.Config) (*server.Server, func() error, error) {
	client, err := backend.New(backend.Config{
		BaseURL:   cfg.Backend.BaseURL,
		UserAgent: cfg.Backend.UserAgent,
		APIToken:  cfg.Backend.APIToken,
		Timeout:   cfg.Backend.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create backend client: %w", err)
	}

	responseCache, closeCache, err := buildCache(ctx, cfg.Cache)
	if err != nil {
		return nil, nil, err
	}

	fetcher := cache.NewFetcher(responseCache, client, cache.FetcherConfig{
		SingleFlight: cfg.Cache.SingleFlight,
	})

	srv := server.New(client, fetcher, server.Config{
		ProductTTL: cfg.Cache.ProductTTL,
		Sessions: server.SessionConfig{
			Reconcile: reconcile.Config{
				Retry: reconcile.RetryConfig{
					MaxAttempts:       cfg.Reconcile.RetryAttempts,
					InitialBackoff:    cfg.Reconcile.InitialBackoff,
					MaxBackoff:        cfg.Reconcile.MaxBackoff,
					BackoffMultiplier: 2.0,
				},
				PassTimeout: cfg.Reconcile.PassTimeout,
			},
			Inventory: store.InventoryConfig{
				StockTTL:    cfg.Inventory.StockTTL,
				Concurrency: cfg.Inventory.Concurrency,
			},
		},
	})
	return srv, closeCache, nil
}

func buildCache(ctx context.Context, cfg config.CacheConfig) (*cache.Cache[json.RawMessage], func() error, error) {
	cacheCfg := cache.Config{DefaultTTL: cfg.DefaultTTL}

	switch cfg.Backend {
	case config.CacheBackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

		store := cache.NewRedisStore[json.RawMessage](redisClient, cfg.Redis.Prefix)
		return cache.New[json.RawMessage](store, cacheCfg), redisClient.Close, nil
	default:
		store := cache.NewMemoryStore[json.RawMessage](cfg.MaxEntries)
		return cache.New[json.RawMessage](store, cacheCfg), func() error { return nil }, nil
	}
}
