package configsync

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionRecord_Claimed(t *testing.T) {
	t.Run("zero logical time is claimed", func(t *testing.T) {
		rec := ActionRecord{ID: "a-1", ActionID: "flush_cache", Target: Wildcard}
		assert.True(t, rec.Claimed())
	})

	t.Run("positive logical time is pending", func(t *testing.T) {
		rec := ActionRecord{ID: "a-1", ActionID: "flush_cache", Target: Wildcard, LogicalTime: 42}
		assert.False(t, rec.Claimed())
	})
}

func TestConfig_Clone(t *testing.T) {
	t.Run("nil config clones to empty map", func(t *testing.T) {
		var cfg Config
		clone := cfg.Clone()

		require.NotNil(t, clone)
		assert.Empty(t, clone)
	})

	t.Run("clone is independent of the original", func(t *testing.T) {
		cfg := Config{"x": 1}
		clone := cfg.Clone()
		clone["x"] = 2
		clone["y"] = 3

		assert.Equal(t, Config{"x": 1}, cfg)
	})
}

func TestConfig_Merge(t *testing.T) {
	base := Config{"x": 1, "methods": "probability"}
	merged := base.Merge(Config{"x": 2, "y": true})

	assert.Equal(t, Config{"x": 2, "y": true, "methods": "probability"}, merged)
	assert.Equal(t, Config{"x": 1, "methods": "probability"}, base, "merge must not mutate the receiver")
}

func TestLogicalTime_RoundTrip(t *testing.T) {
	now := time.Now()
	lt := LogicalTime(now)

	assert.Equal(t, now.UnixNano(), lt)
	assert.True(t, TimeOf(lt).Equal(now.Round(0)))
}

func TestUnavailable(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Unavailable(nil))
	})

	t.Run("wraps driver error", func(t *testing.T) {
		driverErr := errors.New("connection refused")
		err := Unavailable(driverErr)

		assert.True(t, IsUnavailable(err))
		assert.ErrorIs(t, err, driverErr)
	})

	t.Run("does not double wrap", func(t *testing.T) {
		err := Unavailable(errors.New("boom"))
		assert.Same(t, err, Unavailable(err))
	})

	t.Run("wrapped further up still matches", func(t *testing.T) {
		err := fmt.Errorf("failed to claim action: %w", Unavailable(errors.New("reset")))
		assert.True(t, IsUnavailable(err))
	})

	t.Run("plain errors are not transient", func(t *testing.T) {
		assert.False(t, IsUnavailable(ErrMalformedRecord))
	})
}
