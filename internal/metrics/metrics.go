// Package metrics exposes the Core pipeline counters on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsIngested counts events accepted by the ingest pipeline
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naga7_events_ingested_total",
		Help: "Events accepted by the ingest pipeline.",
	})

	// EventsDeduplicated counts events dropped as duplicates
	EventsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naga7_events_deduplicated_total",
		Help: "Events dropped by the dedup fingerprint check.",
	})

	// EventsIOCPromoted counts events promoted to critical on an IOC match
	EventsIOCPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naga7_events_ioc_promoted_total",
		Help: "Events promoted to critical severity by a threat-intel match.",
	})

	// AlertsMinted counts alerts created by the correlation engine, by rule
	AlertsMinted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naga7_alerts_minted_total",
		Help: "Alerts minted by the correlation engine.",
	}, []string{"rule"})

	// AlertsCooledDown counts alerts persisted but suppressed from LLM dispatch
	AlertsCooledDown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naga7_alerts_cooldown_suppressed_total",
		Help: "Alerts persisted during an active cooldown window (LLM dispatch skipped).",
	})

	// LLMFallbacks counts narrative generations that used the deterministic fallback
	LLMFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naga7_llm_fallbacks_total",
		Help: "Alert narratives produced by the deterministic fallback.",
	})

	// ActionsDispatched counts actions published to Strikers, by type
	ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naga7_actions_dispatched_total",
		Help: "Actions dispatched to Strikers.",
	}, []string{"action_type"})

	// IOCsLoaded counts IOCs ingested from threat-intel feeds, by feed
	IOCsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naga7_iocs_loaded_total",
		Help: "IOCs loaded into the cache from threat-intel feeds.",
	}, []string{"feed"})
)

// Handler returns the /metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
