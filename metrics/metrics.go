// Package metrics backs broker/middleware's Collector interface with a
// concrete Prometheus implementation, grounded on cuemby-warren's
// pkg/metrics: package-level collectors plus a Handler for wiring into
// an http.ServeMux.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReceiveDuration observes how long a module's Receive callback took,
	// labeled by module handle and outcome (ok/error).
	ReceiveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gwbroker_receive_duration_seconds",
			Help:    "Time taken by a module's Receive callback, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"module", "outcome"},
	)

	// ReceiveTotal counts Receive invocations, labeled the same way.
	ReceiveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gwbroker_receive_total",
			Help: "Total number of Receive invocations",
		},
		[]string{"module", "outcome"},
	)

	// ModulesActive gauges the number of modules currently registered
	// with a broker.
	ModulesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gwbroker_modules_active",
			Help: "Number of modules currently registered with the broker",
		},
	)

	// UpdatesTotal counts apply_update outcomes, labeled "applied" or
	// "rolled_back".
	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gwbroker_updates_total",
			Help: "Total number of apply_update calls by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(ReceiveDuration, ReceiveTotal, ModulesActive, UpdatesTotal)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Collector implements broker/middleware.Collector on top of the
// package-level Prometheus vectors above.
type Collector struct{}

// ObserveReceive records one Receive invocation's duration and outcome.
func (Collector) ObserveReceive(module string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ReceiveDuration.WithLabelValues(module, outcome).Observe(elapsed.Seconds())
	ReceiveTotal.WithLabelValues(module, outcome).Inc()
}

// ObserveUpdate records one apply_update outcome ("applied" or
// "rolled_back").
func ObserveUpdate(outcome string) {
	UpdatesTotal.WithLabelValues(outcome).Inc()
}

// SetModulesActive sets the current module count gauge.
func SetModulesActive(n int) {
	ModulesActive.Set(float64(n))
}
