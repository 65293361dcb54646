package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Orchestrator ────────────────────────────────────────────────────────────

	TasksStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadscout",
		Subsystem: "orchestrator",
		Name:      "tasks_started_total",
		Help:      "Total scrape tasks accepted, labelled by intake source.",
	}, []string{"source"})

	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadscout",
		Subsystem: "orchestrator",
		Name:      "tasks_finished_total",
		Help:      "Total scrape tasks that reached a terminal status.",
	}, []string{"status"})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leadscout",
		Subsystem: "orchestrator",
		Name:      "tasks_inflight",
		Help:      "Scrape tasks currently running.",
	})

	// ─── Crawler ─────────────────────────────────────────────────────────────────

	QueryDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "leadscout",
		Subsystem: "crawler",
		Name:      "query_duration_seconds",
		Help:      "Wall time to crawl one (keyword, location) pair.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	LeadsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadscout",
		Subsystem: "crawler",
		Name:      "leads_accepted_total",
		Help:      "Total leads persisted.",
	})

	ListingsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadscout",
		Subsystem: "crawler",
		Name:      "listings_discarded_total",
		Help:      "Listings dropped before persistence, labelled by reason.",
	}, []string{"reason"})

	// ─── Geocoder ────────────────────────────────────────────────────────────────

	GeocoderFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadscout",
		Subsystem: "geo",
		Name:      "fallbacks_total",
		Help:      "Region lookups that fell back to the configured default.",
	})
)

// Discard reasons used as the ListingsDiscarded label.
const (
	ReasonDuplicate    = "duplicate"
	ReasonInvalidPhone = "invalid_phone"
	ReasonNavigation   = "navigation"
)
