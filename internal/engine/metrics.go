package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/enginehost/internal/model"
)

// Dispatch result label values.
const (
	resultAccepted = "accepted"
	resultRejected = "rejected"
)

var (
	engineState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "enginehost_engine_state",
			Help: "Current engine lifecycle state (0=uninitialized .. 4=shutdown).",
		},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginehost_dispatch_total",
			Help: "Total number of tasks posted to engine threads.",
		},
		[]string{"thread", "result"},
	)

	disposablesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "enginehost_disposables_registered",
			Help: "Number of engine-dependent resources currently registered.",
		},
	)

	disposalFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enginehost_disposal_failures_total",
			Help: "Total number of release actions that failed or panicked.",
		},
	)

	drainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enginehost_drain_seconds",
			Help:    "Time spent waiting for outstanding disposables during shutdown, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	drainTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enginehost_drain_timeouts_total",
			Help: "Total number of drain waits that hit their deadline.",
		},
	)

	shutdownBroadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "enginehost_shutdown_broadcasts_total",
			Help: "Total number of shutdown-started broadcasts.",
		},
	)
)

func init() {
	prometheus.MustRegister(engineState)
	prometheus.MustRegister(dispatchTotal)
	prometheus.MustRegister(disposablesRegistered)
	prometheus.MustRegister(disposalFailures)
	prometheus.MustRegister(drainDuration)
	prometheus.MustRegister(drainTimeouts)
	prometheus.MustRegister(shutdownBroadcasts)

	// Pre-initialize dispatch series so they appear in /metrics from startup.
	for _, th := range model.EngineThreads {
		dispatchTotal.WithLabelValues(th.String(), resultAccepted)
		dispatchTotal.WithLabelValues(th.String(), resultRejected)
	}
}
