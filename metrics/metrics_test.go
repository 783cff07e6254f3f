package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestActionsPublishedTotal_Increment(t *testing.T) {
	before := testutil.ToFloat64(ActionsPublishedTotal.WithLabelValues("metrics-p1", "flush_cache"))
	ActionsPublishedTotal.WithLabelValues("metrics-p1", "flush_cache").Inc()
	after := testutil.ToFloat64(ActionsPublishedTotal.WithLabelValues("metrics-p1", "flush_cache"))

	assert.Equal(t, before+1, after)
}

func TestKnownProfiles_SetValue(t *testing.T) {
	KnownProfiles.WithLabelValues("metrics-p2").Set(4)

	assert.Equal(t, float64(4), testutil.ToFloat64(KnownProfiles.WithLabelValues("metrics-p2")))
}

func TestAllMetricsAreRegistered(t *testing.T) {
	collectors := []prometheus.Collector{
		ActionsPublishedTotal,
		ActionsDispatchedTotal,
		ActionHandlerErrorsTotal,
		MalformedRecordsTotal,
		PullsTotal,
		PullsSkippedTotal,
		AlternativesAppliedTotal,
		AlternativesSuppressedTotal,
		AlternativesPublishedTotal,
		CounterIncrementsTotal,
		Watermark,
		KnownProfiles,
		PullDuration,
		HandlerDuration,
		HeartbeatLatency,
	}

	for _, c := range collectors {
		err := prometheus.Register(c)
		var already prometheus.AlreadyRegisteredError
		assert.ErrorAs(t, err, &already, "metric should be registered by promauto")
	}
}

func TestMetricNamesUseNamespace(t *testing.T) {
	PullsSkippedTotal.WithLabelValues("metrics-p3").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	assert.NoError(t, err)

	found := 0
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "configsync_") {
			found++
		}
	}
	assert.Positive(t, found)
}
