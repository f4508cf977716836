// Package metrics registers the engine's Prometheus collectors. The
// daemon exposes them via promhttp on the debug listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsReceived counts decoded push events by kind.
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_push_events_total",
		Help: "Push events received, by event kind.",
	}, []string{"kind"})

	// EventsDropped counts push payloads rejected at the decode boundary.
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_push_events_dropped_total",
		Help: "Push payloads dropped as unknown or malformed.",
	})

	// Merges counts timeline merge operations by outcome.
	Merges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_timeline_merges_total",
		Help: "Timeline merge operations, by mutation outcome.",
	}, []string{"outcome"})

	// PagesLoaded counts historical pages merged into timelines.
	PagesLoaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_pages_loaded_total",
		Help: "Historical message pages fetched and merged.",
	})

	// Rollbacks counts optimistic mutations rolled back, by kind.
	Rollbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_optimistic_rollbacks_total",
		Help: "Optimistic mutations rolled back after a failed write.",
	}, []string{"kind"})

	// StaleResponses counts page responses discarded for no-longer-active
	// conversations.
	StaleResponses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_stale_responses_total",
		Help: "Page fetch responses discarded as stale.",
	})

	// Reconnects counts push transport reconnections.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_push_reconnects_total",
		Help: "Push transport reconnections.",
	})

	// OpenTimelines tracks timelines currently held in memory.
	OpenTimelines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_open_timelines",
		Help: "Timelines currently loaded in memory.",
	})
)

func init() {
	prometheus.MustRegister(
		EventsReceived,
		EventsDropped,
		Merges,
		PagesLoaded,
		Rollbacks,
		StaleResponses,
		Reconnects,
		OpenTimelines,
	)
}
