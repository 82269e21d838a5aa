package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ngoyal88/costrelay/pkg/api"
	"github.com/ngoyal88/costrelay/pkg/billing"
	"github.com/ngoyal88/costrelay/pkg/cache"
	"github.com/ngoyal88/costrelay/pkg/config"
	"github.com/ngoyal88/costrelay/pkg/logging"
	"github.com/ngoyal88/costrelay/pkg/middleware"
	"github.com/ngoyal88/costrelay/pkg/service"
	"github.com/ngoyal88/costrelay/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	boot := logging.New(config.LoggingConfig{Level: "info"}, os.Stdout)

	// 1. Load Config with hot reload
	cfgStore, err := config.LoadAndWatch("", boot)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load config")
	}
	cfg := cfgStore.Get()

	logger := logging.New(cfg.Logging, os.Stdout)
	cfgStore.OnReload(func(c *config.Config) { logging.Apply(c.Logging) })

	// 2. Initialize Redis (if enabled)
	var rdb *cache.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal().Err(err).Msg("Could not connect to Redis")
		}
		defer rdb.Close()
		logger.Info().Str("address", cfg.Redis.Address).Msg("Connected to Redis")
	}

	// 3. Result cache: in-process LRU, backed by Redis when available
	var store storage.Store = storage.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.TTL())
	if rdb != nil {
		store = storage.NewTieredStore(store, storage.NewRedisStore(rdb, cfg.Cache.TTL()), logger)
	}
	logger.Info().
		Int("max_entries", cfg.Cache.MaxEntries).
		Dur("ttl", cfg.Cache.TTL()).
		Bool("shared", rdb != nil).
		Msg("Result cache ready")

	// 4. Billing client, built once and injected
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	explorer, err := billing.NewCostExplorer(ctx, billing.Credentials{
		Region:          cfg.AWS.Region,
		Profile:         cfg.AWS.Profile,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure AWS client")
	}
	client := billing.New(explorer, billing.Options{
		Timeout:          cfg.AWS.Timeout(),
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout(),
		Logger:           logger,
	})

	svc := service.New(client, store, logger)

	// 5. Chain Middleware around the cost API (first listed is outermost)
	costMux := http.NewServeMux()
	api.NewCostAPI(svc, logger).RegisterRoutes(costMux, cfg.Server.APIPrefix)
	handler := middleware.Chain(costMux,
		middleware.RequestLogger(logger),
		middleware.Metrics,
		middleware.APIKeyAuth(cfgStore),
		middleware.NewRateLimiter(rdb, cfgStore, logger),
	)

	// 6. Setup HTTP Server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", api.HealthHandler(store))

	if cfg.Auth.AdminKey != "" {
		api.NewAdminAPI(svc, store, cfg.Auth.AdminKey).RegisterRoutes(mux)
		logger.Info().Msg("Admin API enabled at /admin/*")
	}

	mux.Handle("/", handler)

	server := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.AWS.Timeout() + 15*time.Second,
	}

	go func() {
		logger.Info().
			Str("address", cfg.Server.Port).
			Str("api_prefix", cfg.Server.APIPrefix).
			Str("aws_region", cfg.AWS.Region).
			Bool("auth", cfg.Auth.Enabled).
			Bool("rate_limit", cfg.RateLimit.Enabled).
			Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// 7. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	logger.Info().Msg("costrelay stopped")
}
