package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/rainz/internal/client"
	"github.com/kjstillabower/rainz/internal/config"
	"github.com/kjstillabower/rainz/internal/entitlement"
	httphandler "github.com/kjstillabower/rainz/internal/http"
	"github.com/kjstillabower/rainz/internal/lifecycle"
	"github.com/kjstillabower/rainz/internal/llm"
	"github.com/kjstillabower/rainz/internal/observability"
	"github.com/kjstillabower/rainz/internal/offline"
	"github.com/kjstillabower/rainz/internal/orchestrator"
	"github.com/kjstillabower/rainz/internal/scheduler"
	"github.com/kjstillabower/rainz/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	lifecycle.MarkStarted(time.Now())

	providers := client.Registry(client.Config{
		Transport: client.Settings{
			Timeout:                 cfg.ProviderTimeout,
			RetryAttempts:           cfg.RetryAttempts,
			RetryBaseDelay:          cfg.RetryBaseDelay,
			RetryMaxDelay:           cfg.RetryMaxDelay,
			BreakerFailureThreshold: uint32(cfg.BreakerFailureThreshold),
			BreakerCooldown:         cfg.BreakerCooldown,
			BreakerHalfOpenProbes:   uint32(cfg.BreakerHalfOpenProbes),
		},
		OpenMeteoEnabled:  cfg.OpenMeteoEnabled,
		OpenMeteoURL:      cfg.OpenMeteoURL,
		OpenWeatherMapKey: cfg.OpenWeatherMapKey,
		OpenWeatherMapURL: cfg.OpenWeatherMapURL,
		TomorrowKey:       cfg.TomorrowKey,
		TomorrowURL:       cfg.TomorrowURL,
		WeatherAPIKey:     cfg.WeatherAPIKey,
		WeatherAPIURL:     cfg.WeatherAPIURL,
	}, logger)
	if len(providers) == 0 {
		logger.Fatal("no weather providers could be configured")
	}

	var enhancer llm.Enhancer = llm.Disabled{}
	if cfg.GeminiAPIKey != "" {
		enhancer = llm.NewGemini(cfg.GeminiAPIKey, cfg.GeminiURL, cfg.GeminiModel, cfg.GeminiTimeout, logger)
		logger.Info("llm enhancement enabled", zap.String("model", cfg.GeminiModel))
	}
	weatherService := service.NewWeatherService(providers, enhancer, cfg.FetchTimeout, logger)

	offlineCache := offline.New(newOfflineStore(cfg), nil, cfg.OfflineValidity, logger)
	if !offlineCache.IsOfflineCacheSupported(context.Background()) {
		// A failed sqlite open is final for the process; memcached is re-probed.
		logger.Warn("offline cache backend unavailable; cached fallback disabled",
			zap.String("backend", cfg.OfflineBackend))
	} else {
		logger.Info("offline cache backend", zap.String("backend", cfg.OfflineBackend))
	}

	writer := orchestrator.NewWriter(offlineCache, cfg.WriteQueueSize, cfg.WriteWorkers, logger)
	orch := orchestrator.New(weatherService, offlineCache, writer, cfg.FetchTimeout, nil, logger)

	source, err := newEntitlementSource(cfg)
	if err != nil {
		logger.Fatal("entitlement source", zap.Error(err))
	}
	gate := entitlement.NewGate(source, cfg.EntitlementTTL, nil, logger)
	sessions := orchestrator.NewSessions(orch, func(viewerID string) orchestrator.Entitlement {
		return gate.For(viewerID)
	}, cfg.SessionIdle)

	jobs := scheduler.New(offlineCache, scheduler.NewWarmer(weatherService, offlineCache, logger), scheduler.Config{
		CleanupInterval: cfg.CleanupInterval,
		WarmInterval:    cfg.WarmInterval,
		WarmLocations:   cfg.WarmLocations,
	}, logger)
	if err := jobs.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(cfg.HealthWindow)

	handler := httphandler.NewHandler(httphandler.Deps{
		Orchestrator:          orch,
		Sessions:              sessions,
		Gate:                  gate,
		Cache:                 offlineCache,
		Providers:             weatherService.Providers(),
		Health:                &httphandler.HealthConfig{Window: cfg.HealthWindow, DegradedErrorPct: cfg.DegradedErrorPct},
		Logger:                logger,
		LocationNameMaxLength: cfg.LocationNameMaxLength,
	})
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", ":"+cfg.ServerPort),
			zap.Strings("providers", weatherService.Providers()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	jobs.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownWriterDrainTimeout)
	defer drainCancel()
	if err := writer.Close(drainCtx); err != nil {
		logger.Warn("offline cache writes abandoned", zap.Error(err), zap.Int("pending", writer.Pending()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if err := offlineCache.Close(); err != nil {
		logger.Error("offline cache close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newOfflineStore picks the offline backend. Opening is lazy, so an unreachable backend
// surfaces later as "unsupported" rather than failing startup.
func newOfflineStore(cfg *config.Config) offline.Store {
	switch cfg.OfflineBackend {
	case config.BackendMemcached:
		return offline.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.OfflineValidity)
	case config.BackendMemory:
		return offline.NewMemoryStore()
	default:
		return offline.NewSQLiteStore(cfg.SQLitePath)
	}
}

func newEntitlementSource(cfg *config.Config) (entitlement.Source, error) {
	if cfg.EntitlementSource == config.EntitlementSupabase {
		return entitlement.NewSupabaseSource(cfg.SupabaseURL, cfg.SupabaseKey)
	}
	return entitlement.NewStaticSource(cfg.EntitledViewers...), nil
}
