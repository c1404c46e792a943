// Package metrics holds the Prometheus collectors for the retrieval engine
// and exposes them on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StoreBuckets are the store query latency buckets (in seconds).
var StoreBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Engine groups every engine collector. A nil *Engine is a valid no-op.
type Engine struct {
	Registry *prometheus.Registry

	Requests      *prometheus.CounterVec
	Decisions     *prometheus.CounterVec
	StoreQuery    *prometheus.HistogramVec
	BillableUnits *prometheus.CounterVec
	IdentityCache *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec
}

// New creates the collectors and registers them, with the Go and process
// collectors, on a fresh registry.
func New() *Engine {
	e := &Engine{
		Registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundwork_requests_total",
			Help: "Governed requests by operation, call path and outcome code.",
		}, []string{"op", "path", "outcome"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundwork_decisions_total",
			Help: "Coverage decisions returned to callers.",
		}, []string{"decision"}),
		StoreQuery: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "groundwork_store_query_seconds",
			Help:    "Graph store query latency.",
			Buckets: StoreBuckets,
		}, []string{"query"}),
		BillableUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundwork_billable_units_total",
			Help: "Billable units recorded for delivered responses.",
		}, []string{"graph"}),
		IdentityCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundwork_identity_cache_total",
			Help: "Identity cache lookups by result.",
		}, []string{"result"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groundwork_usage_sink_errors_total",
			Help: "Usage records a sink failed to persist.",
		}, []string{"sink"}),
	}
	e.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		e.Requests, e.Decisions, e.StoreQuery, e.BillableUnits, e.IdentityCache, e.SinkErrors,
	)
	return e
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Engine) Handler() http.Handler {
	return promhttp.HandlerFor(e.Registry, promhttp.HandlerOpts{Registry: e.Registry})
}

func (e *Engine) Request(op, path, outcome string) {
	if e == nil {
		return
	}
	e.Requests.WithLabelValues(op, path, outcome).Inc()
}

func (e *Engine) Decision(decision string) {
	if e == nil {
		return
	}
	e.Decisions.WithLabelValues(decision).Inc()
}

// ObserveQuery matches the graph store's query observer signature.
func (e *Engine) ObserveQuery(query string, d time.Duration) {
	if e == nil {
		return
	}
	e.StoreQuery.WithLabelValues(query).Observe(d.Seconds())
}

func (e *Engine) Billable(graphID string, units float64) {
	if e == nil {
		return
	}
	e.BillableUnits.WithLabelValues(graphID).Add(units)
}

// IdentityLookup counts a cache "hit", "miss" or "error".
func (e *Engine) IdentityLookup(result string) {
	if e == nil {
		return
	}
	e.IdentityCache.WithLabelValues(result).Inc()
}

func (e *Engine) SinkError(sink string) {
	if e == nil {
		return
	}
	e.SinkErrors.WithLabelValues(sink).Inc()
}
