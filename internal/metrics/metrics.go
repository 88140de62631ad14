// Package metrics holds the bot's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bazibot"

// Metrics exports conversation, chart and storage counters.
type Metrics struct {
	events             *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	chartLookups       *prometheus.CounterVec
	lookupDuration     prometheus.Histogram
	storageErrors      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound conversation events by kind.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_transitions_total",
			Help:      "Committed onboarding step transitions.",
		}, []string{"from", "to"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Rejected inputs by onboarding step.",
		}, []string{"step"}),
		chartLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chart_resolutions_total",
			Help:      "Chart resolutions by result source.",
		}, []string{"source"}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chart_lookup_duration_seconds",
			Help:      "Latency of the remote chart lookup.",
			Buckets:   prometheus.DefBuckets,
		}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Storage failures by operation.",
		}, []string{"op"}),
	}

	var err error
	m.events, err = register(reg, m.events)
	if err != nil {
		return nil, err
	}
	m.transitions, err = register(reg, m.transitions)
	if err != nil {
		return nil, err
	}
	m.validationFailures, err = register(reg, m.validationFailures)
	if err != nil {
		return nil, err
	}
	m.chartLookups, err = register(reg, m.chartLookups)
	if err != nil {
		return nil, err
	}
	m.lookupDuration, err = register(reg, m.lookupDuration)
	if err != nil {
		return nil, err
	}
	m.storageErrors, err = register(reg, m.storageErrors)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the already registered collector when one exists
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// Event counts an inbound event.
func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// Transition counts a committed step change. Idle is recorded as "idle".
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ValidationFailure counts a rejected input.
func (m *Metrics) ValidationFailure(step string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(step).Inc()
}

// ChartResolved counts a resolution by source.
func (m *Metrics) ChartResolved(source string) {
	if m == nil {
		return
	}
	m.chartLookups.WithLabelValues(source).Inc()
}

// LookupDuration observes one remote lookup.
func (m *Metrics) LookupDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.lookupDuration.Observe(d.Seconds())
}

// StorageError counts a failed storage operation.
func (m *Metrics) StorageError(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
}
