//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	rootpkg "github.com/getpup/configsync"
	"github.com/getpup/configsync/actions"
	"github.com/getpup/configsync/pkg/configsync"
	"github.com/getpup/configsync/selection"
	"github.com/getpup/configsync/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// TestMain runs the integration tests sequentially. They share one database.
func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

func setup(t *testing.T) (*sql.DB, *sqlstore.Store) {
	t.Helper()

	db := getTestDB(t)
	setupTables(t, db)
	cleanupTables(t, db)
	t.Cleanup(func() {
		cleanupTables(t, db)
		_ = db.Close()
	})

	return db, sqlstore.New(db, sqlstore.Postgres)
}

func newService(t *testing.T, s *sqlstore.Store, processID string, opts ...configsync.Option) *configsync.Service {
	t.Helper()

	opts = append([]configsync.Option{
		configsync.WithStore(s),
		configsync.WithProcessID(processID),
		configsync.WithMetricsEnabled(false),
	}, opts...)
	svc, err := configsync.New(opts...)
	require.NoError(t, err)
	return svc
}

func pullAll(t *testing.T, services ...*configsync.Service) {
	t.Helper()

	var g errgroup.Group
	for _, svc := range services {
		g.Go(func() error { return svc.Pull(context.Background()) })
	}
	require.NoError(t, g.Wait())
}

func TestUniqueActionClaimedOnce(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)

	var (
		mu   sync.Mutex
		runs = map[string]int{}
	)
	services := make([]*configsync.Service, 5)
	for i := range services {
		id := fmt.Sprintf("web-%d", i)
		services[i] = newService(t, s, id)
		require.NoError(t, services[i].RegisterAction("rebuild_index", func(context.Context) error {
			mu.Lock()
			runs[id]++
			mu.Unlock()
			return nil
		}, actions.Unique()))
	}

	time.Sleep(time.Millisecond)
	for range 10 {
		require.NoError(t, services[0].RunAction(ctx, "rebuild_index", ""))
	}

	pullAll(t, services...)
	pullAll(t, services...)

	total := 0
	for _, n := range runs {
		total += n
	}
	assert.Equal(t, 10, total, "every record runs exactly once across the cluster")
}

func TestBroadcastActionRunsEverywhere(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)

	counts := make([]*atomic.Int64, 3)
	services := make([]*configsync.Service, 3)
	for i := range services {
		counts[i] = atomic.NewInt64(0)
		c := counts[i]
		services[i] = newService(t, s, fmt.Sprintf("worker-%d", i))
		require.NoError(t, services[i].RegisterAction("clear_cache", actions.Func(func() { c.Inc() })))
	}

	time.Sleep(time.Millisecond)
	require.NoError(t, services[0].RunAction(ctx, "clear_cache", ""))
	require.NoError(t, services[0].RunAction(ctx, "clear_cache", "worker-2"))

	pullAll(t, services...)
	pullAll(t, services...)

	assert.Equal(t, int64(1), counts[0].Load())
	assert.Equal(t, int64(1), counts[1].Load())
	assert.Equal(t, int64(2), counts[2].Load())
}

func TestAlternativesConverge(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)

	endpoints := make([]*selection.Endpoint, 3)
	services := make([]*configsync.Service, 3)
	for i := range services {
		endpoints[i] = selection.NewEndpoint([]string{"classic", "ranked"}, nil)
		services[i] = newService(t, s, fmt.Sprintf("web-%d", i), configsync.WithEndpoint("search", endpoints[i]))
	}

	require.NoError(t, services[0].UpdateAlternativeConfig(ctx, "search", configsync.Config{
		selection.OptionMethod: selection.MethodProbability,
		rootpkg.ProbabilityKey: map[string]float64{"classic": 0.5, "ranked": 0.5},
	}))
	require.NoError(t, services[1].UpdateAlternativeConfig(ctx, "search", configsync.Config{
		rootpkg.ProbabilityKey: map[string]float64{"classic": 0.1, "ranked": 0.9},
	}))

	pullAll(t, services...)

	want := endpoints[1].CurrentConfig()
	for i, ep := range endpoints {
		assert.Equal(t, want, ep.CurrentConfig(), "endpoint %d", i)
	}
	assert.Equal(t, selection.MethodProbability, want[selection.OptionMethod])

	n, err := services[2].CountAlternatives(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountersAreClusterWide(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)

	services := []*configsync.Service{newService(t, s, "a"), newService(t, s, "b")}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		seen = map[int64]struct{}{}
	)
	for i := range 40 {
		svc := services[i%len(services)]
		g.Go(func() error {
			v, err := svc.NextCounter(ctx, "invoice")
			if err != nil {
				return err
			}
			mu.Lock()
			seen[v] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, 40)

	v, err := services[0].IncrementCounter(ctx, "invoice", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(50), v)
}

func TestProfilesRegisterAndPrune(t *testing.T) {
	ctx := context.Background()
	_, s := setup(t)

	web := newService(t, s, "web", configsync.WithPullInterval(time.Hour))
	worker := newService(t, s, "worker", configsync.WithPullInterval(time.Hour))
	for _, svc := range []*configsync.Service{web, worker} {
		require.NoError(t, svc.Start(ctx))
	}
	t.Cleanup(func() {
		_ = web.Stop(context.Background())
		_ = worker.Stop(context.Background())
	})

	ids, err := web.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "worker"}, ids)

	require.NoError(t, worker.Stop(ctx))
	time.Sleep(50 * time.Millisecond)

	_, err = web.PruneProfiles(ctx, 10*time.Millisecond)
	require.NoError(t, err)

	profiles, err := web.Profiles(ctx)
	require.NoError(t, err)
	for _, p := range profiles {
		assert.NotEqual(t, "worker", p.ProcessID)
	}
}

func TestStoreErrorsAreClassified(t *testing.T) {
	ctx := context.Background()
	db, s := setup(t)

	svc := newService(t, s, "web")
	_, err := db.Exec("DROP TABLE configsync_actions")
	require.NoError(t, err)
	t.Cleanup(func() { setupTables(t, db) })

	err = svc.Pull(ctx)
	require.Error(t, err)
	assert.False(t, rootpkg.IsUnavailable(err), "a missing table is not a connectivity problem")
}
