package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "wayfinder"

var (
	// Loop metrics
	Iterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "loop",
			Name:      "iterations_total",
			Help:      "Completed loop iterations by the kind of action decided (none when no action was decided).",
		},
		[]string{"action_kind"},
	)

	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "loop",
			Name:      "outcomes_total",
			Help:      "Recorded outcomes by status and error kind.",
		},
		[]string{"status", "kind"},
	)

	Sessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "loop",
			Name:      "sessions_total",
			Help:      "Finished sessions by termination status.",
		},
		[]string{"status"},
	)

	// Decision metrics
	DecisionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "decision",
			Name:      "failures_total",
			Help:      "Decisions that produced no action, by reason.",
		},
		[]string{"reason"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "decision",
			Name:      "model_latency_seconds",
			Help:      "Latency of language model calls in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
		},
		[]string{"model"},
	)

	// Browser metrics
	ActionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "browser",
			Name:      "action_latency_seconds",
			Help:      "Time spent executing browser actions in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"action_kind"},
	)
)

// ObserveSince records the elapsed time since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// NewMetricsHandler returns a router serving /metrics and /healthz.
func NewMetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
