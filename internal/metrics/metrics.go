// Package metrics registers the moderation agent's Prometheus
// instrumentation: queue depths, per-category check counts, and the
// redirect-chain hop histogram.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EmbedCheckerBacklog tracks the embed checker queue depth, emitted on
	// every enqueue and dequeue.
	EmbedCheckerBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moderation_embed_checker_backlog",
		Help: "Current depth of the embed checker's bounded queue.",
	})

	// ActionRouterBacklog tracks the action router queue depth.
	ActionRouterBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moderation_action_router_backlog",
		Help: "Current depth of the action router's bounded queue.",
	})

	// ChecksTotal counts per-category embed checks (image/video/record/link).
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_checks_total",
		Help: "Embed checks performed, by category.",
	}, []string{"category"})

	// AlertsTotal counts geometric-milestone alerts fired, by category.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_alerts_total",
		Help: "Frequency-counter alert milestones fired, by category.",
	}, []string{"category"})

	// RedirectHops observes the number of hops a redirect chain took.
	RedirectHops = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "moderation_redirect_hops",
		Help:    "Hops observed per external-URL redirect chain.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	// RedirectOutcomesTotal counts redirect-chain terminations, by outcome
	// (completed/overflow/error).
	RedirectOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_redirect_outcomes_total",
		Help: "Redirect-chain terminations, by outcome.",
	}, []string{"outcome"})

	// MalformedURIsTotal counts URIs dropped for failing to parse.
	MalformedURIsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moderation_malformed_uris_total",
		Help: "URIs dropped because they failed to parse.",
	})

	// EmissionsTotal counts Action Router emissions, by kind and outcome
	// (ok/dry_run/error/not_ready).
	EmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_emissions_total",
		Help: "Moderation event emissions, by event kind and outcome.",
	}, []string{"kind", "outcome"})

	// AccountCacheEvictionsTotal counts LFU evictions from the account cache.
	AccountCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moderation_account_cache_evictions_total",
		Help: "Account records evicted from the LFU account cache.",
	})
)
