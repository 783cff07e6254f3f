// Package storetest provides a conformance suite that every store.Store adapter
// runs against its own backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Factory returns an empty store. The suite closes it when the subtest ends.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ClaimAction returns oldest match and zeroes it", testClaimOldest},
		{"ClaimAction honours the filter", testClaimFilter},
		{"ClaimAction returns not found when empty", testClaimEmpty},
		{"ClaimAction is exclusive under concurrency", testClaimConcurrent},
		{"FindActions is read only and ordered", testFindActions},
		{"LatestActionTime", testLatestActionTime},
		{"Alternatives upsert and delete", testAlternatives},
		{"Alternatives keep integer values", testAlternativeNumbers},
		{"FindAlternatives uses watermark", testFindAlternatives},
		{"CountAlternatives excludes endpoints", testCountAlternatives},
		{"Profiles", testProfiles},
		{"IncrementCounter", testIncrementCounter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func action(id, actionID, target string, lt int64) configsync.ActionRecord {
	return configsync.ActionRecord{ID: id, ActionID: actionID, Target: target, LogicalTime: lt}
}

func testClaimOldest(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertAction(ctx, action("a2", "flush_cache", configsync.Wildcard, 200)))
	require.NoError(t, s.InsertAction(ctx, action("a1", "flush_cache", configsync.Wildcard, 100)))

	filter := store.ActionFilter{Targets: []string{"p1", configsync.Wildcard}, ActionIDs: []string{"flush_cache"}}

	first, err := s.ClaimAction(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, "a1", first.ID)
	assert.Equal(t, int64(100), first.LogicalTime, "claim returns the record before zeroing")

	second, err := s.ClaimAction(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, "a2", second.ID)

	_, err = s.ClaimAction(ctx, filter)
	assert.ErrorIs(t, err, configsync.ErrNotFound)

	remaining, err := s.FindActions(ctx, store.ActionFilter{Targets: []string{configsync.Wildcard}})
	require.NoError(t, err)
	assert.Empty(t, remaining, "claimed records are no longer pending")
}

func testClaimFilter(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertAction(ctx, action("old", "flush_cache", "p1", 50)))
	require.NoError(t, s.InsertAction(ctx, action("other-target", "flush_cache", "p2", 150)))
	require.NoError(t, s.InsertAction(ctx, action("other-action", "reindex", "p1", 160)))
	require.NoError(t, s.InsertAction(ctx, action("match", "flush_cache", "p1", 170)))

	filter := store.ActionFilter{
		After:     100,
		Targets:   []string{"p1", configsync.Wildcard},
		ActionIDs: []string{"flush_cache"},
	}

	rec, err := s.ClaimAction(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, "match", rec.ID)

	_, err = s.ClaimAction(ctx, filter)
	assert.ErrorIs(t, err, configsync.ErrNotFound)
}

func testClaimEmpty(t *testing.T, s store.Store) {
	_, err := s.ClaimAction(context.Background(), store.ActionFilter{Targets: []string{configsync.Wildcard}})
	assert.ErrorIs(t, err, configsync.ErrNotFound)
}

func testClaimConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const records = 20
	const claimers = 4

	for i := range records {
		rec := action(fmt.Sprintf("r%02d", i), "flush_cache", configsync.Wildcard, int64(i+1))
		require.NoError(t, s.InsertAction(ctx, rec))
	}

	filter := store.ActionFilter{Targets: []string{configsync.Wildcard}, ActionIDs: []string{"flush_cache"}}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
	)
	g, gctx := errgroup.WithContext(ctx)
	for range claimers {
		g.Go(func() error {
			for {
				rec, err := s.ClaimAction(gctx, filter)
				if err != nil {
					if configsync.IsUnavailable(err) {
						// Lock contention on embedded backends; retry.
						continue
					}
					if errors.Is(err, configsync.ErrNotFound) {
						return nil
					}
					return err
				}
				mu.Lock()
				claimed[rec.ID]++
				mu.Unlock()
			}
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, claimed, records)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "record %s claimed more than once", id)
	}
}

func testFindActions(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertAction(ctx, action("b", "update_downloader", configsync.Wildcard, 20)))
	require.NoError(t, s.InsertAction(ctx, action("a", "update_downloader", "p1", 10)))
	require.NoError(t, s.InsertAction(ctx, action("c", "flush_cache", configsync.Wildcard, 30)))

	filter := store.ActionFilter{
		Targets:          []string{"p1", configsync.Wildcard},
		ExcludeActionIDs: []string{"flush_cache"},
	}

	for range 2 {
		recs, err := s.FindActions(ctx, filter)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "a", recs[0].ID)
		assert.Equal(t, "b", recs[1].ID)
	}

	none, err := s.FindActions(ctx, store.ActionFilter{Targets: []string{"p1"}, ActionIDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testLatestActionTime(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.LatestActionTime(ctx)
	assert.ErrorIs(t, err, configsync.ErrNotFound)

	require.NoError(t, s.InsertAction(ctx, action("a", "x", configsync.Wildcard, 10)))
	require.NoError(t, s.InsertAction(ctx, action("b", "x", configsync.Wildcard, 30)))
	require.NoError(t, s.InsertAction(ctx, action("c", "x", configsync.Wildcard, 20)))

	latest, err := s.LatestActionTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), latest)
}

func testAlternatives(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetAlternative(ctx, "search")
	assert.ErrorIs(t, err, configsync.ErrNotFound)

	rec := configsync.AlternativeRecord{
		EndpointID:  "search",
		Config:      configsync.Config{"methods": "probability", "probability": []any{[]any{"a", 0.5}}},
		LogicalTime: 10,
	}
	require.NoError(t, s.SaveAlternative(ctx, rec))

	got, err := s.GetAlternative(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, "search", got.EndpointID)
	assert.Equal(t, int64(10), got.LogicalTime)
	assert.Equal(t, "probability", got.Config["methods"])
	assert.Contains(t, got.Config, "probability")

	rec.Config = configsync.Config{"methods": "random"}
	rec.LogicalTime = 20
	require.NoError(t, s.SaveAlternative(ctx, rec))

	got, err = s.GetAlternative(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.LogicalTime)
	assert.Equal(t, configsync.Config{"methods": "random"}, got.Config, "save replaces the whole snapshot")

	require.NoError(t, s.SaveAlternative(ctx, configsync.AlternativeRecord{EndpointID: "download", Config: configsync.Config{}, LogicalTime: 5}))

	all, err := s.ListAlternatives(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "download", all[0].EndpointID)
	assert.Equal(t, "search", all[1].EndpointID)

	require.NoError(t, s.DeleteAlternative(ctx, "search"))
	require.NoError(t, s.DeleteAlternative(ctx, "search"), "deleting a missing override is not an error")

	_, err = s.GetAlternative(ctx, "search")
	assert.ErrorIs(t, err, configsync.ErrNotFound)
}

func testAlternativeNumbers(t *testing.T, s store.Store) {
	ctx := context.Background()

	want := configsync.Config{
		"limit":  1,
		"id":     1152921504606846977,
		"ratio":  0.25,
		"nested": map[string]any{"depth": 3},
	}
	require.NoError(t, s.SaveAlternative(ctx, configsync.AlternativeRecord{EndpointID: "search", Config: want, LogicalTime: 1}))

	got, err := s.GetAlternative(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, want, got.Config)

	all, err := s.ListAlternatives(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, want, all[0].Config)
}

func testFindAlternatives(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveAlternative(ctx, configsync.AlternativeRecord{EndpointID: "a", Config: configsync.Config{}, LogicalTime: 10}))
	require.NoError(t, s.SaveAlternative(ctx, configsync.AlternativeRecord{EndpointID: "b", Config: configsync.Config{}, LogicalTime: 20}))
	require.NoError(t, s.SaveAlternative(ctx, configsync.AlternativeRecord{EndpointID: "c", Config: configsync.Config{}, LogicalTime: 30}))

	recs, err := s.FindAlternatives(ctx, store.AlternativeFilter{After: 10, EndpointIDs: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].EndpointID)

	recs, err = s.FindAlternatives(ctx, store.AlternativeFilter{EndpointIDs: nil})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testCountAlternatives(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveAlternative(ctx, configsync.AlternativeRecord{EndpointID: id, Config: configsync.Config{}, LogicalTime: 1}))
	}

	n, err := s.CountAlternatives(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountAlternatives(ctx, []string{"a", "z"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testProfiles(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.SaveProfile(ctx, configsync.ProfileRecord{ProcessID: "p2", LastHeartbeat: now.Add(-time.Hour)}))
	require.NoError(t, s.SaveProfile(ctx, configsync.ProfileRecord{ProcessID: "p1", LastHeartbeat: now}))
	require.NoError(t, s.SaveProfile(ctx, configsync.ProfileRecord{ProcessID: "p1", LastHeartbeat: now}))

	profiles, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "p1", profiles[0].ProcessID)
	assert.Equal(t, "p2", profiles[1].ProcessID)
	assert.True(t, profiles[0].LastHeartbeat.Equal(now))

	removed, err := s.DeleteProfilesBefore(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	profiles, err = s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "p1", profiles[0].ProcessID)
}

func testIncrementCounter(t *testing.T, s store.Store) {
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrementCounter(ctx, "downloads", 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := s.IncrementCounter(ctx, "uploads", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got, "unseen counter starts at the amount")

	got, err = s.IncrementCounter(ctx, "downloads", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(13), got)
}
