package metrics

import (
	"time"

	"github.com/getpup/configsync"
)

// Phase names used as the "phase" label.
const (
	PhaseActions      = "actions"
	PhaseAlternatives = "alternatives"
)

// Delivery names used as the "delivery" label.
const (
	DeliveryClaimed  = "claimed"
	DeliveryObserved = "observed"
)

// Collector wraps metrics and provides helper methods with the process label
// pre-filled. A nil *Collector is valid and records nothing.
type Collector struct {
	process string
}

// NewCollector creates a new Collector for the given process ID.
func NewCollector(process string) *Collector {
	return &Collector{process: process}
}

// IncActionsPublished increments the published actions counter.
func (c *Collector) IncActionsPublished(actionID string) {
	if c == nil {
		return
	}
	ActionsPublishedTotal.WithLabelValues(c.process, actionID).Inc()
}

// IncActionsDispatched increments the dispatched actions counter.
func (c *Collector) IncActionsDispatched(actionID, delivery string) {
	if c == nil {
		return
	}
	ActionsDispatchedTotal.WithLabelValues(c.process, actionID, delivery).Inc()
}

// IncHandlerErrors increments the handler failures counter.
func (c *Collector) IncHandlerErrors(actionID string) {
	if c == nil {
		return
	}
	ActionHandlerErrorsTotal.WithLabelValues(c.process, actionID).Inc()
}

// IncMalformedRecords increments the malformed records counter for a record kind.
func (c *Collector) IncMalformedRecords(kind string) {
	if c == nil {
		return
	}
	MalformedRecordsTotal.WithLabelValues(c.process, kind).Inc()
}

// ObservePull records the outcome and duration of one poll phase.
func (c *Collector) ObservePull(phase string, err error, d time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	switch {
	case configsync.IsUnavailable(err):
		result = "unavailable"
	case err != nil:
		result = "error"
	}
	PullsTotal.WithLabelValues(c.process, phase, result).Inc()
	PullDuration.WithLabelValues(c.process, phase).Observe(d.Seconds())
}

// IncPullsSkipped increments the skipped pulls counter.
func (c *Collector) IncPullsSkipped() {
	if c == nil {
		return
	}
	PullsSkippedTotal.WithLabelValues(c.process).Inc()
}

// IncAlternativesApplied increments the applied alternatives counter.
func (c *Collector) IncAlternativesApplied(endpoint string) {
	if c == nil {
		return
	}
	AlternativesAppliedTotal.WithLabelValues(c.process, endpoint).Inc()
}

// IncAlternativesSuppressed increments the suppressed echoes counter.
func (c *Collector) IncAlternativesSuppressed(endpoint string) {
	if c == nil {
		return
	}
	AlternativesSuppressedTotal.WithLabelValues(c.process, endpoint).Inc()
}

// IncAlternativesPublished increments the published alternatives counter.
func (c *Collector) IncAlternativesPublished(endpoint string) {
	if c == nil {
		return
	}
	AlternativesPublishedTotal.WithLabelValues(c.process, endpoint).Inc()
}

// IncCounterIncrements increments the shared counter increments counter.
func (c *Collector) IncCounterIncrements() {
	if c == nil {
		return
	}
	CounterIncrementsTotal.WithLabelValues(c.process).Inc()
}

// SetWatermark sets the watermark gauge of a phase from a logical time.
func (c *Collector) SetWatermark(phase string, logicalTime int64) {
	if c == nil {
		return
	}
	Watermark.WithLabelValues(c.process, phase).Set(float64(logicalTime) / float64(time.Second))
}

// SetKnownProfiles sets the known profiles gauge.
func (c *Collector) SetKnownProfiles(count int) {
	if c == nil {
		return
	}
	KnownProfiles.WithLabelValues(c.process).Set(float64(count))
}

// ObserveHandlerDuration records an action handler duration.
func (c *Collector) ObserveHandlerDuration(actionID string, d time.Duration) {
	if c == nil {
		return
	}
	HandlerDuration.WithLabelValues(c.process, actionID).Observe(d.Seconds())
}

// ObserveHeartbeatLatency records a heartbeat latency observation.
func (c *Collector) ObserveHeartbeatLatency(d time.Duration) {
	if c == nil {
		return
	}
	HeartbeatLatency.WithLabelValues(c.process).Observe(d.Seconds())
}
