package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/stratacache/stratacache/internal/cache"
	"github.com/stratacache/stratacache/internal/config"
	"github.com/stratacache/stratacache/internal/metrics"
)

func main() {
	cfg := config.GetConfig()
	logger := config.GetLogger()

	logger.Info().
		Int("local_capacity", cfg.Cache.Local.Capacity).
		Str("local_policy", cfg.Cache.Local.Policy).
		Str("redis_address", cfg.Cache.Redis.Address).
		Int64("size_threshold_bytes", cfg.Cache.SizeThresholdBytes).
		Msg("Application started with configuration")

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			logger.Warn().Err(err).Msg("Sentry initialization failed, continuing without error reporting")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	local, err := cache.NewLocalBackend(cache.LocalConfig{
		Capacity: cfg.Cache.Local.Capacity,
		Policy:   cfg.Cache.Local.Policy,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create local tier")
	}

	remote, err := cache.NewRedisBackend(cache.RemoteConfig{
		Address:     cfg.Cache.Redis.Address,
		Password:    cfg.Cache.Redis.Password,
		DB:          cfg.Cache.Redis.DB,
		KeyPrefix:   cfg.Cache.Redis.KeyPrefix,
		Compression: cfg.Cache.Redis.Compression,
		Logger:      logger,
	})
	if err != nil {
		sentry.CaptureException(err)
		logger.Fatal().Err(err).Str("address", cfg.Cache.Redis.Address).Msg("Failed to create remote tier")
	}

	coordinator := cache.NewCoordinator(local, remote, cache.CoordinatorConfig{
		SizeThresholdBytes:       cfg.Cache.SizeThresholdBytes,
		PromotionAccessThreshold: cfg.Cache.Promotion.AccessThreshold,
		PromotionSampleLimit:     cfg.Cache.Promotion.SampleLimit,
		PromotionMaxConcurrent:   cfg.Cache.Promotion.MaxConcurrent,
		WarmBatchSize:            cfg.Cache.Warm.BatchSize,
		Logger:                   logger,
	})
	defer func() {
		if err := coordinator.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close coordinator")
		}
	}()

	// Start Prometheus metrics HTTP server
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewHTTPServer(cfg.Server.Address, cfg.Metrics.Port)
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("Starting Prometheus metrics HTTP server")
			if err := metricsServer.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
				logger.Fatal().Err(err).Msg("Failed to serve metrics")
			}
		}()
		defer func() {
			if err := metricsServer.Shutdown(context.Background()); err != nil {
				logger.Error().Err(err).Msg("Failed to shutdown metrics server")
			}
		}()
	}

	healthInterval := parseDuration(cfg.HealthCheckInterval, 30*time.Second)
	optimizeInterval := parseDuration(cfg.OptimizeInterval, 5*time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthTicker := time.NewTicker(healthInterval)
	defer healthTicker.Stop()
	optimizeTicker := time.NewTicker(optimizeInterval)
	defer optimizeTicker.Stop()

	logger.Info().
		Dur("health_interval", healthInterval).
		Dur("optimize_interval", optimizeInterval).
		Msg("Cache coordinator running")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Received shutdown signal")
			return
		case <-healthTicker.C:
			status := coordinator.HealthCheck(ctx)
			evt := logger.Info()
			if status.Overall != cache.HealthHealthy {
				evt = logger.Warn()
			}
			evt.Str("overall", string(status.Overall)).Msg("Health check completed")
			for _, tier := range status.Tiers {
				if !tier.Healthy {
					logger.Warn().Str("tier", string(tier.Tier)).Str("error", tier.Error).Msg("Tier unhealthy")
				}
			}
		case <-optimizeTicker.C:
			report := coordinator.OptimizeCacheLevels(ctx)
			logger.Info().
				Int("scanned", report.Scanned).
				Int("promoted", report.Promoted).
				Float64("hit_rate", report.HitRate).
				Strs("recommendations", report.Recommendations).
				Msg("Cache level optimization completed")
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
