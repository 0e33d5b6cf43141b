// Package metrics provides Prometheus metrics for processor invocations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/go-go-golems/stagehand/pkg/events"
)

const namespace = "stagehand"

// Collector holds all Prometheus metrics of a host.
type Collector struct {
	InvocationsTotal    *prometheus.CounterVec
	InvocationDuration  *prometheus.HistogramVec
	InvocationsInFlight prometheus.Gauge

	OutputWritesTotal *prometheus.CounterVec

	SessionSavesTotal  *prometheus.CounterVec
	SessionErrorsTotal *prometheus.CounterVec
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg, tests use a fresh
// prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of processor invocations",
			},
			[]string{"identity", "outcome"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Processor invocation duration in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"identity"},
		),
		InvocationsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "invocations_in_flight",
				Help:      "Number of invocations currently running",
			},
		),
		OutputWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "output_writes_total",
				Help:      "Total number of accepted output stream writes",
			},
			[]string{"identity"},
		),
		SessionSavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_saves_total",
				Help:      "Total number of persisted session states",
			},
			[]string{"identity"},
		),
		SessionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_errors_total",
				Help:      "Total number of session store failures",
			},
			[]string{"operation"},
		),
	}
}

// InvocationStarted marks an invocation in flight and returns the function
// recording its end.
func (c *Collector) InvocationStarted(identity string) func(outcome string) {
	start := time.Now()
	c.InvocationsInFlight.Inc()
	return func(outcome string) {
		c.InvocationsInFlight.Dec()
		c.InvocationsTotal.WithLabelValues(identity, outcome).Inc()
		c.InvocationDuration.WithLabelValues(identity).Observe(time.Since(start).Seconds())
	}
}

// Sink counts output events. It never rejects an event.
func (c *Collector) Sink() events.EventSink {
	return eventCounter{c: c}
}

type eventCounter struct {
	c *Collector
}

func (e eventCounter) PublishEvent(event *events.Event) error {
	if event.Type == events.EventTypeOutput {
		e.c.OutputWritesTotal.WithLabelValues(event.Metadata.Identity).Inc()
	}
	return nil
}
