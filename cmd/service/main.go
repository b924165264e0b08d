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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/rainfall-advisory-service/internal/alert"
	"github.com/kjstillabower/rainfall-advisory-service/internal/cache"
	"github.com/kjstillabower/rainfall-advisory-service/internal/circuitbreaker"
	"github.com/kjstillabower/rainfall-advisory-service/internal/client"
	"github.com/kjstillabower/rainfall-advisory-service/internal/config"
	"github.com/kjstillabower/rainfall-advisory-service/internal/degraded"
	httphandler "github.com/kjstillabower/rainfall-advisory-service/internal/http"
	"github.com/kjstillabower/rainfall-advisory-service/internal/lifecycle"
	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictlog"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictor"
	"github.com/kjstillabower/rainfall-advisory-service/internal/service"
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

	var breakers []*circuitbreaker.CircuitBreaker
	newBreaker := func(component string, isFailure func(error) bool) *circuitbreaker.CircuitBreaker {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			Component:        component,
			IsFailure:        isFailure,
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
				logger.Warn("circuit breaker transition",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.WithLabelValues(component).Set(float64(circuitbreaker.StateClosed))
		breakers = append(breakers, cb)
		return cb
	}

	var remoteOpts []predictor.RemoteOption
	if cfg.ModelBackend == predictor.BackendRemote {
		remoteOpts = append(remoteOpts, predictor.WithBreaker(newBreaker("model", predictor.IsModelFault)))
	}
	model, err := predictor.New(predictor.Config{
		Backend: cfg.ModelBackend,
		Path:    cfg.ModelPath,
		URL:     cfg.ModelURL,
		Timeout: cfg.ModelTimeout,
	}, remoteOpts...)
	if err != nil {
		// The service still serves history and reports; predictions answer 503.
		logger.Error("rainfall model unavailable", zap.String("backend", cfg.ModelBackend), zap.Error(err))
	} else if model == nil {
		logger.Warn("no rainfall model configured; predictions disabled")
	} else {
		logger.Info("rainfall model loaded", zap.String("backend", model.Name()))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	var conditions cache.ConditionsFetcher
	var weatherClient *client.OpenWeatherClient
	if cfg.AutoPredictEnabled() {
		weatherClient, err = client.NewOpenWeatherClientWithRetry(
			cfg.WeatherAPIKey,
			cfg.WeatherAPIURL,
			cfg.WeatherAPITimeout,
			cfg.RetryAttempts,
			cfg.RetryBaseDelay,
			cfg.RetryMaxDelay,
		)
		if err != nil {
			logger.Fatal("weather client", zap.Error(err))
		}
		weatherClient.WithCircuitBreaker(newBreaker("weather_api", client.IsUpstreamFault))
		conditions = service.NewConditionsService(weatherClient, cacheSvc, cfg.CacheTTL, cfg.CoalesceTimeout, logger)
	} else {
		logger.Warn("WEATHER_API_KEY not set; auto prediction disabled")
	}

	var notifier alert.Notifier = alert.Nop{}
	if len(cfg.AlertURLs) > 0 {
		n, err := alert.NewShoutrrrNotifier(cfg.AlertURLs, cfg.AlertTimeout)
		if err != nil {
			logger.Fatal("alert notifier", zap.Error(err))
		}
		notifier = n
		logger.Info("severe rainfall alerts enabled", zap.Int("services", n.Services()))
	}

	store := predictlog.NewFileStore(cfg.LogPath, logger)
	advisorySvc := service.NewAdvisoryService(service.Options{
		Predictor:    model,
		Store:        store,
		Conditions:   conditions,
		Notifier:     notifier,
		Logger:       logger,
		AlertTimeout: cfg.AlertTimeout,
	})
	if err := advisorySvc.CheckLog(context.Background()); err != nil {
		logger.Warn("prediction log unreadable; history will be empty", zap.String("path", cfg.LogPath), zap.Error(err))
	}

	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()

	recoverer := degraded.NewRecoverer(func(ctx context.Context) error {
		if err := advisorySvc.CheckLog(ctx); err != nil {
			return err
		}
		if weatherClient != nil {
			return weatherClient.ValidateAPIKey(ctx)
		}
		return nil
	}, degraded.Config{
		Initial: cfg.RecoveryInitial,
		Max:     cfg.RecoveryMax,
		OnExhausted: func() {
			logger.Error("dependencies did not recover; staying degraded until the next health check")
		},
	}, logger)
	recoverer.Start(appCtx)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		Breakers:             breakers,
		OnDegraded:           func(string) { recoverer.Notify() },
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(advisorySvc, healthConfig, httphandler.Limits{
		ChartPoints:   cfg.ChartPoints,
		HistoryLimit:  cfg.HistoryLimit,
		CityMinLength: cfg.CityMinLength,
		CityMaxLength: cfg.CityMaxLength,
	}, logger)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	if conditions != nil && len(cfg.WarmCities) > 0 {
		warmer := cache.NewCacheWarmer(conditions, logger)
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(appCtx, cfg.WarmCities, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else {
			initialCtx, cancel := context.WithTimeout(appCtx, 30*time.Second)
			if err := warmer.Warm(initialCtx, cfg.WarmCities); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			cancel()
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httphandler.NewRouter(handler, limiter, cfg.RequestTimeout, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	lifecycle.MarkStarted(time.Now())
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("prediction_log", cfg.LogPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	stopApp()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
