package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/getpup/configsync/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// fakeClock returns strictly increasing times.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newDispatcher(s store.ActionStore, clock *fakeClock, processID string) *Dispatcher {
	return New(Config{
		Store:     s,
		Registry:  NewRegistry(),
		ProcessID: processID,
		Clock:     clock.Now,
	})
}

func counting(n *atomic.Int64) Handler {
	return func(context.Context) error {
		n.Inc()
		return nil
	}
}

func TestRunAction_WritesRecord(t *testing.T) {
	mock := store.NewMockStore()
	d := newDispatcher(mock, newFakeClock(), "p1")

	require.NoError(t, d.RunAction(context.Background(), "flush_cache", ""))
	require.NoError(t, d.RunAction(context.Background(), "reindex", "p2"))

	require.Len(t, mock.InsertActionCalls, 2)
	first := mock.InsertActionCalls[0]
	assert.Equal(t, "flush_cache", first.ActionID)
	assert.Equal(t, configsync.Wildcard, first.Target)
	assert.NotEmpty(t, first.ID)
	assert.Positive(t, first.LogicalTime)
	assert.Equal(t, "p2", mock.InsertActionCalls[1].Target)
	assert.Greater(t, mock.InsertActionCalls[1].LogicalTime, first.LogicalTime)
}

func TestRunAction_DoesNotRunLocally(t *testing.T) {
	d := newDispatcher(memory.New(), newFakeClock(), "p1")
	var n atomic.Int64
	require.NoError(t, d.Registry().Register("reload", counting(&n)))

	require.NoError(t, d.RunAction(context.Background(), "reload", ""))

	assert.Zero(t, n.Load())
}

func TestRunAction_Errors(t *testing.T) {
	mock := store.NewMockStore()
	mock.InsertActionFunc = func(context.Context, configsync.ActionRecord) error {
		return configsync.Unavailable(errors.New("connection refused"))
	}
	d := newDispatcher(mock, newFakeClock(), "p1")

	err := d.RunAction(context.Background(), "flush_cache", "")
	assert.True(t, configsync.IsUnavailable(err))

	assert.ErrorIs(t, d.RunAction(context.Background(), " ", ""), configsync.ErrInvalidActionID)
}

func TestPullActions_BroadcastRunsOncePerProcess(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	clock := newFakeClock()

	var n1, n2 atomic.Int64
	p1 := newDispatcher(s, clock, "p1")
	p2 := newDispatcher(s, clock, "p2")
	require.NoError(t, p1.Registry().Register("reload", counting(&n1)))
	require.NoError(t, p2.Registry().Register("reload", counting(&n2)))

	require.NoError(t, p1.RunAction(ctx, "reload", ""))

	for range 3 {
		require.NoError(t, p1.PullActions(ctx))
		require.NoError(t, p2.PullActions(ctx))
	}

	assert.Equal(t, int64(1), n1.Load())
	assert.Equal(t, int64(1), n2.Load())
}

func TestPullActions_UniqueRunsOnExactlyOneProcess(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	clock := newFakeClock()

	const processes = 8
	const records = 25

	var total atomic.Int64

	dispatchers := make([]*Dispatcher, processes)
	for i := range dispatchers {
		dispatchers[i] = newDispatcher(s, clock, "worker")
		require.NoError(t, dispatchers[i].Registry().Register("flush_cache", counting(&total), Unique()))
	}

	publisher := newDispatcher(s, clock, "admin")
	for range records {
		require.NoError(t, publisher.RunAction(ctx, "flush_cache", ""))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range dispatchers {
		g.Go(func() error {
			return d.PullActions(gctx)
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(records), total.Load())

	pending, err := s.FindActions(ctx, store.ActionFilter{Targets: []string{configsync.Wildcard}})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPullActions_Targeting(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	clock := newFakeClock()

	var n1, n2 atomic.Int64
	p1 := newDispatcher(s, clock, "p1")
	p2 := newDispatcher(s, clock, "p2")
	require.NoError(t, p1.Registry().Register("reindex", counting(&n1), Unique()))
	require.NoError(t, p2.Registry().Register("reindex", counting(&n2), Unique()))

	require.NoError(t, p1.RunAction(ctx, "reindex", "p2"))

	require.NoError(t, p1.PullActions(ctx))
	require.NoError(t, p2.PullActions(ctx))

	assert.Zero(t, n1.Load())
	assert.Equal(t, int64(1), n2.Load())
}

func TestPullActions_IgnoresRecordsBeforeStart(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	clock := newFakeClock()

	early := newDispatcher(s, clock, "admin")
	require.NoError(t, early.RunAction(ctx, "reload", ""))

	var n atomic.Int64
	late := newDispatcher(s, clock, "p1")
	require.NoError(t, late.Registry().Register("reload", counting(&n)))

	require.NoError(t, late.PullActions(ctx))
	assert.Zero(t, n.Load())
}

func TestInit_MovesWatermarkToLatestRecord(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.InsertAction(ctx, configsync.ActionRecord{ActionID: "reload", Target: configsync.Wildcard, LogicalTime: 500}))

	d := newDispatcher(s, newFakeClock(), "p1")
	require.NoError(t, d.Init(ctx))
	assert.Equal(t, int64(500), d.Watermark())

	empty := newDispatcher(memory.New(), newFakeClock(), "p1")
	before := empty.Watermark()
	require.NoError(t, empty.Init(ctx))
	assert.Equal(t, before, empty.Watermark())
}

func TestInit_PropagatesStoreErrors(t *testing.T) {
	mock := store.NewMockStore()
	mock.LatestActionTimeFunc = func(context.Context) (int64, error) {
		return 0, configsync.Unavailable(errors.New("no primary"))
	}
	d := newDispatcher(mock, newFakeClock(), "p1")

	assert.True(t, configsync.IsUnavailable(d.Init(context.Background())))
}

func TestPullActions_HandlerFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	clock := newFakeClock()
	d := newDispatcher(s, clock, "p1")

	var ok atomic.Int64
	require.NoError(t, d.Registry().Register("explode", func(context.Context) error { panic("boom") }, Unique()))
	require.NoError(t, d.Registry().Register("fail", func(context.Context) error { return errors.New("failed") }))
	require.NoError(t, d.Registry().Register("reload", counting(&ok)))

	require.NoError(t, d.RunAction(ctx, "explode", ""))
	require.NoError(t, d.RunAction(ctx, "fail", ""))
	require.NoError(t, d.RunAction(ctx, "reload", ""))
	before := d.Watermark()

	require.NoError(t, d.PullActions(ctx))

	assert.Equal(t, int64(1), ok.Load())
	assert.Greater(t, d.Watermark(), before)

	require.NoError(t, d.PullActions(ctx))
	assert.Equal(t, int64(1), ok.Load())
}

func TestInvoke_RecoversPanics(t *testing.T) {
	err := invoke(context.Background(), Binding{ActionID: "explode", Handler: func(context.Context) error { panic("boom") }})

	assert.ErrorIs(t, err, configsync.ErrHandlerPanic)
	assert.Contains(t, err.Error(), "boom")
}

func TestPullActions_ClaimUnavailableFreezesWatermark(t *testing.T) {
	mock := store.NewMockStore()
	mock.ClaimActionFunc = func(context.Context, store.ActionFilter) (configsync.ActionRecord, error) {
		return configsync.ActionRecord{}, configsync.Unavailable(errors.New("not primary"))
	}
	d := newDispatcher(mock, newFakeClock(), "p1")
	require.NoError(t, d.Registry().Register("flush_cache", noop, Unique()))
	before := d.Watermark()

	err := d.PullActions(context.Background())

	assert.True(t, configsync.IsUnavailable(err))
	assert.Equal(t, before, d.Watermark())
	assert.Empty(t, mock.FindActionsCalls)
}

func TestPullActions_FindErrorFreezesWatermark(t *testing.T) {
	mock := store.NewMockStore()
	claimed := false
	mock.ClaimActionFunc = func(context.Context, store.ActionFilter) (configsync.ActionRecord, error) {
		if claimed {
			return configsync.ActionRecord{}, configsync.ErrNotFound
		}
		claimed = true
		return configsync.ActionRecord{ID: "r1", ActionID: "flush_cache", Target: "*", LogicalTime: 1<<62 - 1}, nil
	}
	mock.FindActionsFunc = func(context.Context, store.ActionFilter) ([]configsync.ActionRecord, error) {
		return nil, errors.New("cursor killed")
	}
	d := newDispatcher(mock, newFakeClock(), "p1")
	var n atomic.Int64
	require.NoError(t, d.Registry().Register("flush_cache", counting(&n), Unique()))
	before := d.Watermark()

	err := d.PullActions(context.Background())

	require.Error(t, err)
	assert.False(t, configsync.IsUnavailable(err))
	assert.Equal(t, int64(1), n.Load(), "claimed record is consumed and has run")
	assert.Equal(t, before, d.Watermark())
}

func TestPullActions_Filters(t *testing.T) {
	mock := store.NewMockStore()
	d := newDispatcher(mock, newFakeClock(), "p1")
	require.NoError(t, d.Registry().Register("flush_cache", noop, Unique()))
	require.NoError(t, d.Registry().Register("reload", noop))
	watermark := d.Watermark()

	require.NoError(t, d.PullActions(context.Background()))

	require.Len(t, mock.ClaimActionCalls, 1)
	assert.Equal(t, store.ActionFilter{
		After:     watermark,
		Targets:   []string{"p1", configsync.Wildcard},
		ActionIDs: []string{"flush_cache"},
	}, mock.ClaimActionCalls[0])

	require.Len(t, mock.FindActionsCalls, 1)
	assert.Equal(t, store.ActionFilter{
		After:            watermark,
		Targets:          []string{"p1", configsync.Wildcard},
		ExcludeActionIDs: []string{"flush_cache"},
	}, mock.FindActionsCalls[0])
}

func TestPullActions_SkipsClaimPhaseWithoutUniqueBindings(t *testing.T) {
	mock := store.NewMockStore()
	d := newDispatcher(mock, newFakeClock(), "p1")
	require.NoError(t, d.Registry().Register("reload", noop))

	require.NoError(t, d.PullActions(context.Background()))

	assert.Empty(t, mock.ClaimActionCalls)
	assert.Len(t, mock.FindActionsCalls, 1)
}

func TestPullActions_MalformedAndUnknownRecordsAdvanceWatermark(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	clock := newFakeClock()
	d := newDispatcher(s, clock, "p1")

	lt := configsync.LogicalTime(clock.Now())
	require.NoError(t, s.InsertAction(ctx, configsync.ActionRecord{ActionID: "", Target: configsync.Wildcard, LogicalTime: lt}))
	require.NoError(t, s.InsertAction(ctx, configsync.ActionRecord{ActionID: "not_deployed_yet", Target: configsync.Wildcard, LogicalTime: lt + 1}))

	require.NoError(t, d.PullActions(ctx))

	assert.Equal(t, lt+1, d.Watermark())
}

func TestPullActions_WatermarkIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	clock := newFakeClock()
	d := newDispatcher(s, clock, "p1")
	require.NoError(t, d.Registry().Register("reload", noop))

	prev := d.Watermark()
	for range 5 {
		require.NoError(t, d.RunAction(ctx, "reload", ""))
		require.NoError(t, d.PullActions(ctx))
		assert.GreaterOrEqual(t, d.Watermark(), prev)
		prev = d.Watermark()
	}

	require.NoError(t, d.PullActions(ctx))
	assert.Equal(t, prev, d.Watermark())
}
