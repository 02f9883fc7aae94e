// Package metrics holds the Prometheus collectors of the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedrelay",
		Name:      "feed_outcomes_total",
		Help:      "Per-feed cycle outcomes by the stage processing ended in.",
	}, []string{"feed", "stage"})

	ItemsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedrelay",
		Name:      "items_delivered_total",
		Help:      "Items successfully sent to the destination.",
	}, []string{"feed"})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feedrelay",
		Name:      "delivery_failures_total",
		Help:      "Failed delivery attempts by kind.",
	}, []string{"feed", "kind"})

	DuplicateRisks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedrelay",
		Name:      "duplicate_risks_total",
		Help:      "Delivered items whose delivery record could not be persisted.",
	})

	CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feedrelay",
		Name:      "cycles_skipped_total",
		Help:      "Scheduler ticks skipped because a cycle was still running.",
	})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "feedrelay",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of complete polling cycles.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)
