// Package metrics exposes Prometheus collectors for the polling subsystem.
//
// A nil *Metrics is valid and records nothing, so library users that do not
// run a metrics endpoint pay nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swarmpoll"

// Poll results.
const (
	ResultOK           = "ok"
	ResultInsufficient = "insufficient_swarm"
	ResultCanceled     = "canceled"
	ResultError        = "error"
)

// Envelope outcomes.
const (
	OutcomeDispatched = "dispatched"
	OutcomeDuplicate  = "duplicate"
	OutcomeMalformed  = "malformed"
	OutcomeDeleted    = "deleted"
)

// Config controls which collectors get registered.
type Config struct {
	IncludeGoCollector      bool
	IncludeProcessCollector bool
	DurationBuckets         []float64
}

func DefaultConfig() Config {
	return Config{
		IncludeGoCollector:      true,
		IncludeProcessCollector: true,
		DurationBuckets: []float64{
			0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
		},
	}
}

type Metrics struct {
	registry *prometheus.Registry

	polls         *prometheus.CounterVec
	pollDuration  *prometheus.HistogramVec
	envelopes     *prometheus.CounterVec
	swarmFetches  *prometheus.CounterVec
	nodeFailures  prometheus.Counter
	nodeEvictions prometheus.Counter
	rotations     *prometheus.CounterVec
	activePollers *prometheus.GaugeVec
}

// New builds the collectors on a private registry.
func New(cfg Config) *Metrics {
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = DefaultConfig().DurationBuckets
	}

	reg := prometheus.NewRegistry()
	if cfg.IncludeGoCollector {
		reg.MustRegister(collectors.NewGoCollector())
	}
	if cfg.IncludeProcessCollector {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		registry: reg,
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "polls_total",
			Help:      "Retrieval attempts by mailbox kind and result.",
		}, []string{"kind", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "poll_duration_seconds",
			Help:      "Wall time of one retrieval attempt.",
			Buckets:   cfg.DurationBuckets,
		}, []string{"kind"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "envelopes_total",
			Help:      "Envelopes seen by the response handler, by outcome.",
		}, []string{"kind", "outcome"}),
		swarmFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "fetches_total",
			Help:      "Network swarm fetches by result.",
		}, []string{"result"}),
		nodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "node_failures_total",
			Help:      "Transport failures reported against storage nodes.",
		}),
		nodeEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "node_evictions_total",
			Help:      "Storage nodes dropped from a swarm after repeated failures.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "rotations_total",
			Help:      "Forced node rotations after the poll limit was reached.",
		}, []string{"kind"}),
		activePollers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "active",
			Help:      "Running schedulers by mailbox kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.polls,
		m.pollDuration,
		m.envelopes,
		m.swarmFetches,
		m.nodeFailures,
		m.nodeEvictions,
		m.rotations,
		m.activePollers,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Poll(kind, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(kind, result).Inc()
	m.pollDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) Envelopes(kind, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.envelopes.WithLabelValues(kind, outcome).Add(float64(n))
}

func (m *Metrics) SwarmFetch(ok bool) {
	if m == nil {
		return
	}
	result := ResultOK
	if !ok {
		result = ResultError
	}
	m.swarmFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) NodeFailure() {
	if m == nil {
		return
	}
	m.nodeFailures.Inc()
}

func (m *Metrics) NodeEviction() {
	if m == nil {
		return
	}
	m.nodeEvictions.Inc()
}

func (m *Metrics) Rotation(kind string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(kind).Inc()
}

func (m *Metrics) PollerStarted(kind string) {
	if m == nil {
		return
	}
	m.activePollers.WithLabelValues(kind).Inc()
}

func (m *Metrics) PollerStopped(kind string) {
	if m == nil {
		return
	}
	m.activePollers.WithLabelValues(kind).Dec()
}
