package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/rainfall-advisory-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Classified predictions by advisory band. Watch for: severe spikes during storms.
	PredictionsTotal *prometheus.CounterVec

	// Failed predictions by reason (model_unavailable, invalid_prediction, storage, ...).
	PredictionErrorsTotal *prometheus.CounterVec

	// Model inference latency. Watch for: remote model degradation.
	ModelDuration *prometheus.HistogramVec

	// Prediction log append latency. Watch for: slow disks, lock contention.
	LogAppendDuration prometheus.Histogram

	// Failed prediction log appends. Any increase means lost history.
	LogAppendErrorsTotal prometheus.Counter

	// Reads that found the log unreadable and served empty history.
	LogReadFailuresTotal prometheus.Counter

	// OpenWeatherMap API call rate. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Conditions cache hits. Hit rate = hits/(hits+weatherApiCallsTotal).
	CacheHitsTotal *prometheus.CounterVec

	// Per-city auto prediction count (allow-list; others go to "other").
	CityQueriesTotal *prometheus.CounterVec

	// Severe rainfall alerts by outcome (sent, failed).
	AlertsSentTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionsTotal",
			Help: "Total number of classified rainfall predictions by advisory band",
		},
		[]string{"band"},
	)
	PredictionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionErrorsTotal",
			Help: "Total number of failed predictions by reason",
		},
		[]string{"reason"},
	)
	ModelDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelDurationSeconds",
			Help:    "Rainfall model inference latency in seconds",
			Buckets: []float64{.001, .005, .025, .1, .25, .5, 1, 2.5},
		},
		[]string{"backend"},
	)
	LogAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "predictionLogAppendDurationSeconds",
			Help:    "Prediction log append latency in seconds, including lock wait and fsync",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
	)
	LogAppendErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "predictionLogAppendErrorsTotal",
			Help: "Total number of failed prediction log appends",
		},
	)
	LogReadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "predictionLogReadFailuresTotal",
			Help: "Total number of prediction log reads served as empty because the log was unreadable",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of conditions cache hits",
		},
		[]string{"cacheType"},
	)
	CityQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityQueriesTotal",
			Help: "Auto predictions by city (allow-list; others use city=other)",
		},
		[]string{"city"},
	)
	AlertsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertsSentTotal",
			Help: "Total number of severe rainfall alerts by outcome",
		},
		[]string{"status"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per component (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		PredictionsTotal, PredictionErrorsTotal, ModelDuration,
		LogAppendDuration, LogAppendErrorsTotal, LogReadFailuresTotal,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		CacheHitsTotal, CityQueriesTotal,
		AlertsSentTotal, CircuitBreakerState,
		RateLimitDeniedTotal,
	)
}

// ObserveLogAppend records the outcome and latency of one prediction log append.
func ObserveLogAppend(err error, d time.Duration) {
	LogAppendDuration.Observe(d.Seconds())
	if err != nil {
		LogAppendErrorsTotal.Inc()
	}
}

// RegisterRateLimitGauges registers load and rejects gauges over the given sliding window.
// Call from main after config load with cfg.OverloadWindow.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited routes in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// SetTrackedCities sets the allow-list for city metrics. Non-tracked cities increment "other".
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, c := range cities {
		trackedCities[normalizeCityForMetrics(c)] = struct{}{}
	}
}

// RecordCityQuery records an auto prediction for the given city.
func RecordCityQuery(city string) {
	c := normalizeCityForMetrics(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c]
	trackedCitiesMu.RUnlock()
	if !ok {
		c = "other"
	}
	CityQueriesTotal.WithLabelValues(c).Inc()
}

// normalizeCityForMetrics keys on the city name; state and country codes are dropped.
func normalizeCityForMetrics(s string) string {
	name, _, _ := strings.Cut(s, ",")
	return strings.ToLower(strings.TrimSpace(name))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
