package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/getpup/configsync"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewCollector_CreatesCollectorWithProcess(t *testing.T) {
	collector := NewCollector("search-frontend")

	assert.NotNil(t, collector)
	assert.Equal(t, "search-frontend", collector.process)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.IncActionsPublished("a")
		c.IncActionsDispatched("a", DeliveryClaimed)
		c.IncHandlerErrors("a")
		c.IncMalformedRecords("action")
		c.ObservePull(PhaseActions, nil, time.Second)
		c.IncPullsSkipped()
		c.IncAlternativesApplied("e")
		c.IncAlternativesSuppressed("e")
		c.IncAlternativesPublished("e")
		c.IncCounterIncrements()
		c.SetWatermark(PhaseActions, 1)
		c.SetKnownProfiles(1)
		c.ObserveHandlerDuration("a", time.Second)
		c.ObserveHeartbeatLatency(time.Second)
	})
}

func TestCollector_IncActionsDispatched(t *testing.T) {
	collector := NewCollector("coll-1")

	before := testutil.ToFloat64(ActionsDispatchedTotal.WithLabelValues("coll-1", "flush_cache", DeliveryClaimed))
	collector.IncActionsDispatched("flush_cache", DeliveryClaimed)
	after := testutil.ToFloat64(ActionsDispatchedTotal.WithLabelValues("coll-1", "flush_cache", DeliveryClaimed))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncHandlerErrors(t *testing.T) {
	collector := NewCollector("coll-2")

	before := testutil.ToFloat64(ActionHandlerErrorsTotal.WithLabelValues("coll-2", "reindex"))
	collector.IncHandlerErrors("reindex")
	after := testutil.ToFloat64(ActionHandlerErrorsTotal.WithLabelValues("coll-2", "reindex"))

	assert.Equal(t, before+1, after)
}

func TestCollector_ObservePull_Results(t *testing.T) {
	collector := NewCollector("coll-3")

	collector.ObservePull(PhaseActions, nil, time.Millisecond)
	collector.ObservePull(PhaseActions, configsync.Unavailable(errors.New("down")), time.Millisecond)
	collector.ObservePull(PhaseAlternatives, errors.New("boom"), time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(PullsTotal.WithLabelValues("coll-3", PhaseActions, "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(PullsTotal.WithLabelValues("coll-3", PhaseActions, "unavailable")))
	assert.Equal(t, float64(1), testutil.ToFloat64(PullsTotal.WithLabelValues("coll-3", PhaseAlternatives, "error")))
}

func TestCollector_SetWatermark(t *testing.T) {
	collector := NewCollector("coll-4")

	collector.SetWatermark(PhaseAlternatives, int64(90*time.Second))

	assert.Equal(t, float64(90), testutil.ToFloat64(Watermark.WithLabelValues("coll-4", PhaseAlternatives)))
}

func TestCollector_AlternativeCounters(t *testing.T) {
	collector := NewCollector("coll-5")

	collector.IncAlternativesApplied("search")
	collector.IncAlternativesSuppressed("search")
	collector.IncAlternativesSuppressed("search")
	collector.IncAlternativesPublished("search")

	assert.Equal(t, float64(1), testutil.ToFloat64(AlternativesAppliedTotal.WithLabelValues("coll-5", "search")))
	assert.Equal(t, float64(2), testutil.ToFloat64(AlternativesSuppressedTotal.WithLabelValues("coll-5", "search")))
	assert.Equal(t, float64(1), testutil.ToFloat64(AlternativesPublishedTotal.WithLabelValues("coll-5", "search")))
}

func TestCollector_SetKnownProfiles(t *testing.T) {
	collector := NewCollector("coll-6")

	collector.SetKnownProfiles(3)

	assert.Equal(t, float64(3), testutil.ToFloat64(KnownProfiles.WithLabelValues("coll-6")))
}

func TestCollector_ObserveHeartbeatLatency(t *testing.T) {
	collector := NewCollector("coll-7")

	assert.NotPanics(t, func() {
		collector.ObserveHeartbeatLatency(15 * time.Millisecond)
		collector.ObserveHandlerDuration("flush_cache", 2*time.Millisecond)
	})
}
