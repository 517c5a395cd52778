// Package metrics exposes Prometheus instruments for attempts, aborts and
// solver latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_attempts_total",
		Help: "Solve-and-execute calls by outcome",
	}, []string{"status"})

	Aborts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_aborts_total",
		Help: "Aborted attempts by reason and state reached",
	}, []string{"reason", "state"})

	Settlements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_settlements_total",
		Help: "Settled attempts",
	})

	SolveLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_solve_latency_seconds",
		Help:    "Time to find the optimal swap amount",
		Buckets: prometheus.DefBuckets,
	})

	StateReadErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_state_read_errors_total",
		Help: "Venue state reads that failed",
	}, []string{"venue"})
)

func init() {
	prometheus.MustRegister(
		Attempts,
		Aborts,
		Settlements,
		SolveLatency,
		StateReadErrors,
	)
}

// Handler serves the default registry in OpenMetrics format when asked.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
