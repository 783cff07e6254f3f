package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActionsPublishedTotal tracks action records written by RunAction.
var ActionsPublishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "configsync_actions_published_total",
		Help: "Total action records written",
	},
	[]string{"process", "action_id"},
)

// ActionsDispatchedTotal tracks handler invocations, split by unique (claimed) and
// broadcast (observed) delivery.
var ActionsDispatchedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "configsync_actions_dispatched_total",
		Help: "Total action handler invocations",
	},
	[]string{"process", "action_id", "delivery"},
)

// ActionHandlerErrorsTotal tracks handlers that returned an error or panicked.
var ActionHandlerErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "configsync_action_handler_errors_total",
		Help: "Total action handler failures",
	},
	[]string{"process", "action_id"},
)

// MalformedRecordsTotal tracks stored records skipped because they could not be used.
var MalformedRecordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "configsync_malformed_records_total",
		Help: "Total malformed records skipped",
	},
	[]string{"process", "kind"},
)

// PullsTotal tracks poll cycles per phase and result (ok, unavailable, error).
var PullsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "configsync_pulls_total",
		Help: "Total poll cycles",
	},
	[]string{"process", "phase", "result"},
)

// PullsSkippedTotal tracks scheduler ticks dropped because a pull was still running.
var PullsSkippedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "configsync_pulls_skipped_total",
		Help: "Total pulls skipped because the previous one was still running",
	},
	[]string{"process"},
)

// AlternativesAppliedTotal tracks overrides applied to a local endpoint.
var AlternativesAppliedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "configsync_alternatives_applied_total",
		Help: "Total alternative configurations applied locally",
	},
	[]string{"process", "endpoint"},
)

// AlternativesSuppressedTotal tracks own writes discarded by echo suppression.
var AlternativesSuppressedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "configsync_alternatives_suppressed_total",
		Help: "Total alternative updates suppressed as own echoes",
	},
	[]string{"process", "endpoint"},
)

// AlternativesPublishedTotal tracks overrides written by this process.
var AlternativesPublishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "configsync_alternatives_published_total",
		Help: "Total alternative configurations written",
	},
	[]string{"process", "endpoint"},
)

// CounterIncrementsTotal tracks shared counter increments.
var CounterIncrementsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "configsync_counter_increments_total",
		Help: "Total shared counter increments",
	},
	[]string{"process"},
)

// Watermark tracks the logical time (seconds) each poller has processed up to.
var Watermark = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "configsync_watermark_seconds",
		Help: "Logical time processed up to, per poller",
	},
	[]string{"process", "phase"},
)

// KnownProfiles tracks the roster size observed by the last profile listing.
var KnownProfiles = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "configsync_known_profiles",
		Help: "Profiles registered in the shared store",
	},
	[]string{"process"},
)

// PullDuration tracks time spent in each poll phase.
var PullDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "configsync_pull_duration_seconds",
		Help:    "Time spent in a poll phase",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"process", "phase"},
)

// HandlerDuration tracks action handler latency.
var HandlerDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "configsync_action_handler_duration_seconds",
		Help:    "Action handler latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"process", "action_id"},
)

// HeartbeatLatency tracks profile heartbeat round-trip latency.
var HeartbeatLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "configsync_heartbeat_latency_seconds",
		Help:    "Profile heartbeat round-trip latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"process"},
)
