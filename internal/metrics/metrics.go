// Package metrics records connection and execution outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeOK         = "ok"
	OutcomeRejected   = "rejected"
	OutcomeConnection = "connection_error"
	OutcomeExec       = "exec_error"
	OutcomeTimeout    = "timeout"
	OutcomeStream     = "stream_error"
)

// Recorder receives engine events. Implementations must be safe for concurrent use.
type Recorder interface {
	ConnectAttempt(label string, ok bool)
	RunFinished(label, outcome string, duration time.Duration)
}

type noop struct{}

func (noop) ConnectAttempt(string, bool)               {}
func (noop) RunFinished(string, string, time.Duration) {}

// Noop returns a Recorder that discards everything.
func Noop() Recorder { return noop{} }

// Prometheus is a Recorder backed by its own registry, so several instances
// (one per test, say) never collide on registration.
type Prometheus struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	connects *prometheus.CounterVec
}

// NewPrometheus creates and registers the rx collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rx",
				Name:      "runs_total",
				Help:      "Commands handled, by outcome.",
			},
			[]string{"tool", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rx",
				Name:      "run_duration_seconds",
				Help:      "Wall time from submission to terminal outcome.",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"tool", "outcome"},
		),
		connects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rx",
				Name:      "connect_attempts_total",
				Help:      "SSH connection attempts, by result.",
			},
			[]string{"tool", "success"},
		),
	}
	p.registry.MustRegister(p.runs, p.duration, p.connects)
	return p
}

// ConnectAttempt counts one connection attempt.
func (p *Prometheus) ConnectAttempt(label string, ok bool) {
	success := "false"
	if ok {
		success = "true"
	}
	p.connects.WithLabelValues(label, success).Inc()
}

// RunFinished counts one terminal outcome and observes its duration.
func (p *Prometheus) RunFinished(label, outcome string, duration time.Duration) {
	p.runs.WithLabelValues(label, outcome).Inc()
	p.duration.WithLabelValues(label, outcome).Observe(duration.Seconds())
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
