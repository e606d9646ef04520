package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RelayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_relay_messages_total",
			Help: "Total number of messages handled by the bridge (count)",
		},
		[]string{"direction", "entry", "status"},
	)

	RelayProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_relay_duration_ms",
			Help:    "End-to-end processing duration for one message in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
		},
		[]string{"direction", "status"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_dedup_checks_total",
			Help: "Total number of dedup cache checks (count)",
		},
		[]string{"cache", "status"},
	)

	DedupCacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_dedup_cache_size",
			Help: "Current number of entries in a dedup cache (count)",
		},
		[]string{"cache"},
	)

	AttachmentFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_attachment_fetches_total",
			Help: "Attachment fetch attempts by strategy (count)",
		},
		[]string{"strategy", "status"},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_upstream_requests_total",
			Help: "HTTP requests to the gateway and inbox platforms (count)",
		},
		[]string{"target", "operation", "status"},
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_upstream_request_duration_ms",
			Help:    "Duration of upstream HTTP requests in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
		},
		[]string{"target", "operation"},
	)

	PollTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_poll_ticks_total",
			Help: "Polling loop ticks by loop and outcome (count)",
		},
		[]string{"loop", "status"},
	)

	PollTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_poll_tick_duration_ms",
			Help:    "Duration of a single polling tick in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000},
		},
		[]string{"loop"},
	)

	IgnoredEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_ignored_events_total",
			Help: "Events dropped before relay, by reason (count)",
		},
		[]string{"direction", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_circuit_breaker_requests_total",
			Help: "Requests passing through a circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_circuit_breaker_failures_total",
			Help: "Failed requests recorded by a circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_rate_limit_requests_total",
			Help: "Webhook requests checked by the rate limiter (count)",
		},
		[]string{"status"},
	)
)

func RegisterBridgeMetrics() {
	prometheus.MustRegister(RelayMessagesTotal)
	prometheus.MustRegister(RelayProcessingDuration)
	prometheus.MustRegister(DedupChecksTotal)
	prometheus.MustRegister(DedupCacheSize)
	prometheus.MustRegister(AttachmentFetchesTotal)
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(UpstreamRequestDuration)
	prometheus.MustRegister(PollTicksTotal)
	prometheus.MustRegister(PollTickDuration)
	prometheus.MustRegister(IgnoredEventsTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterRateLimitMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveRelayDuration(direction string, duration time.Duration, status string) {
	RelayProcessingDuration.WithLabelValues(direction, status).Observe(float64(duration.Milliseconds()))
}

func ObserveUpstreamRequest(target, operation, status string, duration time.Duration) {
	UpstreamRequestsTotal.WithLabelValues(target, operation, status).Inc()
	UpstreamRequestDuration.WithLabelValues(target, operation).Observe(float64(duration.Milliseconds()))
}

func ObservePollTick(loop, status string, duration time.Duration) {
	PollTicksTotal.WithLabelValues(loop, status).Inc()
	PollTickDuration.WithLabelValues(loop).Observe(float64(duration.Milliseconds()))
}

func SetDedupCacheSize(cache string, size int) {
	DedupCacheSize.WithLabelValues(cache).Set(float64(size))
}
