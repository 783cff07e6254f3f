package memory

import (
	"context"
	"testing"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/getpup/configsync/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestInsertAction_AssignsID(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.InsertAction(ctx, configsync.ActionRecord{ActionID: "flush_cache", Target: configsync.Wildcard, LogicalTime: 1}))

	recs, err := s.FindActions(ctx, store.ActionFilter{Targets: []string{configsync.Wildcard}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
}

func TestAlternatives_AreCopied(t *testing.T) {
	s := New()
	ctx := context.Background()

	cfg := configsync.Config{"x": 1}
	require.NoError(t, s.SaveAlternative(ctx, configsync.AlternativeRecord{EndpointID: "search", Config: cfg, LogicalTime: 1}))
	cfg["x"] = 2

	got, err := s.GetAlternative(ctx, "search")
	require.NoError(t, err)
	got.Config["y"] = 3

	again, err := s.GetAlternative(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, configsync.Config{"x": 1}, again.Config)
}

func TestClose_MakesStoreUnavailable(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Close())

	err := s.InsertAction(ctx, configsync.ActionRecord{ActionID: "x", Target: configsync.Wildcard, LogicalTime: 1})
	assert.True(t, configsync.IsUnavailable(err))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.ClaimAction(ctx, store.ActionFilter{Targets: []string{configsync.Wildcard}})
	assert.True(t, configsync.IsUnavailable(err))

	_, err = s.IncrementCounter(ctx, "c", 1)
	assert.True(t, configsync.IsUnavailable(err))
}
