// Package telemetry holds the Prometheus collectors shared by the engine
// packages and the HTTP surface.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fnl", Subsystem: "experiment", Name: "assignments_total", Help: "Experiment resolutions by decision source."},
		[]string{"source"},
	)
	ledgerWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fnl", Subsystem: "experiment", Name: "ledger_writes_total", Help: "Assignment ledger writes by result."},
		[]string{"result"},
	)
	alertChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fnl", Subsystem: "alert", Name: "checks_total", Help: "Per-alert check outcomes."},
		[]string{"outcome"},
	)
	evaluations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "fnl", Subsystem: "metric", Name: "evaluation_seconds", Help: "Metric evaluation latency by metric kind.", Buckets: prometheus.DefBuckets},
		[]string{"kind"},
	)
	httpRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "fnl", Subsystem: "http", Name: "request_duration_seconds", Help: "HTTP request latency.", Buckets: prometheus.DefBuckets},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(assignments, ledgerWrites, alertChecks, evaluations, httpRequests)
}

// Ledger write results.
const (
	LedgerCreated  = "created"
	LedgerConflict = "conflict"
	LedgerError    = "error"
	LedgerSkipped  = "skipped"
)

func RecordAssignment(source string) {
	assignments.WithLabelValues(source).Inc()
}

func RecordLedgerWrite(result string) {
	ledgerWrites.WithLabelValues(result).Inc()
}

// RecordAlertCheck counts one alert evaluation as fired, ok or failed.
func RecordAlertCheck(fired bool, err error) {
	switch {
	case err != nil:
		alertChecks.WithLabelValues("failed").Inc()
	case fired:
		alertChecks.WithLabelValues("fired").Inc()
	default:
		alertChecks.WithLabelValues("ok").Inc()
	}
}

func ObserveEvaluation(kind string, start time.Time) {
	evaluations.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func ObserveRequest(route string, code int, d time.Duration) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
