package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fairway"

// Cache lookup outcomes.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheExpired = "expired"
	CacheInvalid = "invalid"
)

// Reconciler outcomes for an incoming payload.
const (
	ReconcileApplied   = "applied"
	ReconcileUnchanged = "unchanged"
	ReconcileFailed    = "failed"
)

// Recorder exposes the counters shared by the cache, the reconciler and the document store.
// A nil Recorder is valid and records nothing.
type Recorder struct {
	registry            *prometheus.Registry
	cacheLookups        *prometheus.CounterVec
	cacheWriteFailures  prometheus.Counter
	reconcileUpdates    *prometheus.CounterVec
	activeSubscriptions *prometheus.GaugeVec
	documentWrites      *prometheus.CounterVec
}

// NewRecorder builds a Recorder registered on a private Prometheus registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		registry: registry,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Local cache lookups by outcome.",
		}, []string{"result"}),
		cacheWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "write_failures_total",
			Help:      "Local cache writes that could not be persisted.",
		}),
		reconcileUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "updates_total",
			Help:      "Remote payloads seen by reconcilers by entity and outcome.",
		}, []string{"entity", "outcome"}),
		activeSubscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "active_subscriptions",
			Help:      "Live subscriptions currently held by reconcilers.",
		}, []string{"entity"}),
		documentWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "writes_total",
			Help:      "Document store writes by collection and operation.",
		}, []string{"collection", "operation"}),
	}
	registry.MustRegister(
		recorder.cacheLookups,
		recorder.cacheWriteFailures,
		recorder.reconcileUpdates,
		recorder.activeSubscriptions,
		recorder.documentWrites,
	)
	return recorder
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and additional collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RecordCacheLookup(result string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordCacheWriteFailure() {
	if r == nil {
		return
	}
	r.cacheWriteFailures.Inc()
}

func (r *Recorder) RecordReconcile(entity, outcome string) {
	if r == nil {
		return
	}
	r.reconcileUpdates.WithLabelValues(entity, outcome).Inc()
}

func (r *Recorder) SubscriptionOpened(entity string) {
	if r == nil {
		return
	}
	r.activeSubscriptions.WithLabelValues(entity).Inc()
}

func (r *Recorder) SubscriptionClosed(entity string) {
	if r == nil {
		return
	}
	r.activeSubscriptions.WithLabelValues(entity).Dec()
}

func (r *Recorder) RecordDocumentWrite(collection, operation string) {
	if r == nil {
		return
	}
	r.documentWrites.WithLabelValues(collection, operation).Inc()
}
