// Package metrics exposes Prometheus instrumentation for the tick
// engine and the feed.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "partsim"

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Completed simulation ticks.",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one full tick.",
		Buckets:   prometheus.DefBuckets,
	})

	StepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tick_step_failures_total",
		Help:      "Errors caught at a tick step boundary.",
	}, []string{"step"})

	PurchasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purchases_total",
		Help:      "Successful simulated purchases.",
	})

	PurchaseConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purchase_conflicts_total",
		Help:      "Purchase attempts that lost the stock guard race.",
	})

	ColdDecays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cold_decays_total",
		Help:      "Items price-decayed after going cold.",
	})

	Restocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "restocks_total",
		Help:      "Items replenished by the restock sampler.",
	})

	EventsSpawned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_spawned_total",
		Help:      "Market events spawned.",
	}, []string{"name"})

	EventsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_expired_total",
		Help:      "Market events expired and cleaned up.",
	})

	EventItemsTouched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_items_touched_total",
		Help:      "Item rows mutated by pricing event application.",
	})

	FeedFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_flushes_total",
		Help:      "Coalesced delta batches emitted on the feed.",
	})
)

// Handler serves the default registry, Go runtime metrics included.
func Handler() http.Handler {
	return promhttp.Handler()
}
