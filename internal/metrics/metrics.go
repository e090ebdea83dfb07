// Package metrics instruments the dispatch channel with Prometheus
// collectors.
//
// The middleware counts every committed action and times each runtime
// call from its CUSTOM_FETCH intent to the matching success or failure
// action, joined on the correlation ID.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/mutate/internal/channel"
	"github.com/roach88/mutate/internal/ir"
)

const namespace = "mutate"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the collectors and the open call timers.
type Metrics struct {
	actions  *prometheus.CounterVec
	inflight prometheus.Gauge
	duration *prometheus.HistogramVec

	now func() time.Time

	mu     sync.Mutex
	starts map[string]time.Time
}

// Option configures Metrics.
type Option func(*Metrics)

// WithNow replaces the time source used for call durations.
func WithNow(now func() time.Time) Option {
	return func(m *Metrics) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates the collectors and registers them on reg (the default
// registerer when nil). Collectors already registered by an earlier call
// are reused, so New can run once per Env against a shared registry.
func New(reg prometheus.Registerer, opts ...Option) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		now:    time.Now,
		starts: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}

	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "actions_total",
		Help:      "Actions committed on the dispatch channel.",
	}, []string{"type", "fetch"})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "requests_in_flight",
		Help:      "Runtime calls dispatched but not yet settled.",
	})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Time from intent to settlement of a runtime call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"fetch", "outcome"})

	var err error
	if m.actions, err = register(reg, actions); err != nil {
		return nil, err
	}
	if m.inflight, err = register(reg, inflight); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, or returns the collector already registered
// under the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// Middleware observes every committed entry.
func (m *Metrics) Middleware() channel.Middleware {
	return func(next channel.DispatchFunc) channel.DispatchFunc {
		return func(a ir.Action) channel.Entry {
			e := next(a)
			m.Observe(e.Action)
			return e
		}
	}
}

// Observe records one committed action. Only correlated calls are timed
// and tracked in flight; other actions are just counted.
func (m *Metrics) Observe(a ir.Action) {
	m.actions.WithLabelValues(a.Type, a.Meta.Fetch).Inc()

	switch a.Type {
	case ir.ActionCustomFetch:
		if a.Correlation == "" {
			return
		}
		m.inflight.Inc()
		m.mu.Lock()
		m.starts[a.Correlation] = m.now()
		m.mu.Unlock()
	case ir.ActionCustomFetchSuccess, ir.ActionCustomFetchFailure:
		outcome := OutcomeSuccess
		if a.Type == ir.ActionCustomFetchFailure {
			outcome = OutcomeFailure
		}
		m.mu.Lock()
		start, ok := m.starts[a.Correlation]
		delete(m.starts, a.Correlation)
		m.mu.Unlock()
		if !ok {
			return
		}
		m.inflight.Dec()
		m.duration.WithLabelValues(a.Meta.Fetch, outcome).Observe(m.now().Sub(start).Seconds())
	}
}

// Pending returns the number of intents still waiting for settlement.
func (m *Metrics) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.starts)
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
