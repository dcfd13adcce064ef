package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/rainz/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Provider call rate by provider and status. Watch for: one provider's error share climbing.
	ProviderCallsTotal *prometheus.CounterVec

	// Provider latency. Watch for: p95 > 2s on a single provider (it will dominate fan-out latency).
	ProviderDuration *prometheus.HistogramVec

	// Provider retries (transport errors, 429, 5xx).
	ProviderRetriesTotal *prometheus.CounterVec

	// Circuit breaker state per provider: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Offline cache operations by operation and result (hit, miss, expired, success, error).
	OfflineCacheOperationsTotal *prometheus.CounterVec

	// Entries removed by the expiry sweep.
	OfflineCacheEvictedTotal prometheus.Counter

	// Background cache writes dropped because the write queue was full or closed.
	OfflineCacheWritesDroppedTotal prometheus.Counter

	// Orchestrator terminal states (live, cached, error). Watch for: cached share = upstream trouble.
	FetchOutcomesTotal *prometheus.CounterVec

	// Identical concurrent fetches that shared one upstream fan-out.
	FetchCoalescedTotal prometheus.Counter

	// Concurrent fetches for the same key observed at fan-out start.
	FetchConcurrency prometheus.Histogram

	// Source agreement (0-100) of each aggregated response.
	SourceAgreement prometheus.Histogram

	// LLM enhancement outcomes (success, fallback).
	EnhancementsTotal *prometheus.CounterVec

	// Entitlement resolutions by result (entitled, not_entitled, error).
	EntitlementChecksTotal *prometheus.CounterVec

	// Scheduled job runs by job and result.
	SchedulerRunsTotal *prometheus.CounterVec

	// Total weather lookups.
	WeatherQueriesTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

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
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of weather provider calls",
		},
		[]string{"provider", "status"},
	)
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerDurationSeconds",
			Help:    "Weather provider latency in seconds (per call, retries included)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "status"},
	)
	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerRetriesTotal",
			Help: "Total number of retry attempts for weather provider calls",
		},
		[]string{"provider"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)
	OfflineCacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlineCacheOperationsTotal",
			Help: "Offline cache operations by operation and result",
		},
		[]string{"operation", "result"},
	)
	OfflineCacheEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offlineCacheEvictedTotal",
			Help: "Offline cache entries removed by the expiry sweep",
		},
	)
	OfflineCacheWritesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offlineCacheWritesDroppedTotal",
			Help: "Background offline cache writes dropped (queue full or closed)",
		},
	)
	FetchOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchOutcomesTotal",
			Help: "Weather fetch terminal states (live, cached, error)",
		},
		[]string{"state"},
	)
	FetchCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchCoalescedTotal",
			Help: "Weather fetches that shared an in-flight fan-out for the same location",
		},
	)
	FetchConcurrency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetchConcurrency",
			Help:    "Concurrent fetches for the same location key when a fan-out starts",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		},
	)
	SourceAgreement = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sourceAgreement",
			Help:    "Cross-provider agreement score (0-100) per aggregated response",
			Buckets: []float64{10, 25, 50, 60, 70, 80, 90, 95, 100},
		},
	)
	EnhancementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enhancementsTotal",
			Help: "LLM enhancement outcomes (success, fallback)",
		},
		[]string{"result"},
	)
	EntitlementChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlementChecksTotal",
			Help: "Entitlement resolutions by result",
		},
		[]string{"result"},
	)
	SchedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedulerRunsTotal",
			Help: "Scheduled job runs by job and result",
		},
		[]string{"job", "result"},
	)
	WeatherQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Total number of weather lookups",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ProviderCallsTotal, ProviderDuration, ProviderRetriesTotal, CircuitBreakerState,
		OfflineCacheOperationsTotal, OfflineCacheEvictedTotal, OfflineCacheWritesDroppedTotal,
		FetchOutcomesTotal, FetchCoalescedTotal, FetchConcurrency,
		SourceAgreement, EnhancementsTotal, EntitlementChecksTotal,
		SchedulerRunsTotal, WeatherQueriesTotal, RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with the health window.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
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

// CircuitBreakerStateValue maps a breaker state name to the gauge value.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
