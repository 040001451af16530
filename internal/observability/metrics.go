// Package observability exposes the Prometheus collectors for generation
// activity. All methods are nil-safe so wiring metrics stays optional.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcome labels.
const (
	OutcomeDone     = "done"
	OutcomeFailed   = "failed"
	OutcomeTimedOut = "timeout"
)

// Metrics reports generation request activity.
type Metrics struct {
	phaseDuration  *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	activeRequests prometheus.Gauge
}

// MustNew constructs a Metrics instance registered with reg (the default
// registerer when nil). Collectors already present in the registry are
// reused, so repeated construction in tests does not panic; any other
// registration error does, mirroring promauto.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	phaseDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "photomotion",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each generation phase.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photomotion",
			Name:      "requests_total",
			Help:      "Completed generation requests by outcome.",
		},
		[]string{"outcome"},
	)
	activeRequests := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "photomotion",
			Name:      "requests_active",
			Help:      "Generation requests currently in flight.",
		},
	)

	collectors := []prometheus.Collector{phaseDuration, outcomes, activeRequests}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector.(type) {
				case *prometheus.HistogramVec:
					phaseDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					outcomes = already.ExistingCollector.(*prometheus.CounterVec)
				case prometheus.Gauge:
					activeRequests = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		phaseDuration:  phaseDuration,
		outcomes:       outcomes,
		activeRequests: activeRequests,
	}
}

// ObservePhase records the time one request spent in a phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil || m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// CountOutcome increments the counter for a finished request.
func (m *Metrics) CountOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// RequestStarted marks a request as in flight.
func (m *Metrics) RequestStarted() {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Inc()
}

// RequestFinished marks a request as resolved.
func (m *Metrics) RequestFinished() {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Dec()
}
