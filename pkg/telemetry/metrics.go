package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticksync"

// Round outcomes on the client.
const (
	OutcomeCalibrated = "calibrated"
	OutcomeMismatch   = "mismatch"
	OutcomeTimeout    = "timeout"
	OutcomeFailed     = "failed"
)

var (
	Registry = prometheus.NewRegistry()

	Rounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Synchronization rounds by outcome.",
		},
		[]string{"outcome"},
	)

	RoundTrip = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_trip_seconds",
			Help:      "Network round trip of completed rounds, server hold time excluded.",
			// 10us .. ~1.3s
			Buckets: prometheus.ExponentialBuckets(1e-5, 2, 18),
		},
	)

	EpochCorrection = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch_correction_seconds",
			Help:      "Difference between the last published epoch and the one it replaced.",
		},
	)

	RequestsServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_served_total",
			Help:      "Synchronization requests answered by the server.",
		},
	)

	TickCorrections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_corrections_total",
			Help:      "Replies whose tick count was bumped because the server ticker was late.",
		},
	)

	TicksEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_emitted_total",
			Help:      "Ticks printed by this process.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and role).",
		},
		[]string{"version", "role"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(Rounds, RoundTrip, EpochCorrection, RequestsServed, TickCorrections, TicksEmitted, buildInfo, uptime)
}

func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func SetBuildInfo(version, role string) {
	buildInfo.WithLabelValues(version, role).Set(1)
}

// Serve exposes /metrics on addr; it only returns on failure.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	return http.ListenAndServe(addr, mux)
}
