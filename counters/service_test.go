package counters

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/getpup/configsync/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestIncrement_StartsAtAmount(t *testing.T) {
	svc := New(Config{Store: memory.New()})
	ctx := context.Background()

	v, err := svc.Increment(ctx, "invoice", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = svc.Next(ctx, "invoice")
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	v, err = svc.Next(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestIncrement_RejectsNonPositiveAmount(t *testing.T) {
	mock := store.NewMockStore()
	svc := New(Config{Store: mock})

	for _, amount := range []int64{0, -1} {
		_, err := svc.Increment(context.Background(), "invoice", amount)
		assert.ErrorIs(t, err, configsync.ErrInvalidAmount)
	}
	assert.Empty(t, mock.IncrementCounterCalls)
}

func TestIncrement_StoreErrorPropagates(t *testing.T) {
	mock := store.NewMockStore()
	mock.IncrementCounterFunc = func(context.Context, string, int64) (int64, error) {
		return 0, configsync.Unavailable(errors.New("connection reset"))
	}

	_, err := New(Config{Store: mock}).Next(context.Background(), "invoice")
	require.Error(t, err)
	assert.True(t, configsync.IsUnavailable(err))
}

func TestNext_PassesAmountOne(t *testing.T) {
	mock := store.NewMockStore()
	_, err := New(Config{Store: mock}).Next(context.Background(), "invoice")
	require.NoError(t, err)

	require.Len(t, mock.IncrementCounterCalls, 1)
	assert.Equal(t, "invoice", mock.IncrementCounterCalls[0].CounterID)
	assert.Equal(t, int64(1), mock.IncrementCounterCalls[0].Amount)
}

func TestNext_ConcurrentCallersGetDistinctValues(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	const workers, perWorker = 8, 50

	var mu sync.Mutex
	var seen []int64

	g, ctx := errgroup.WithContext(ctx)
	for range workers {
		svc := New(Config{Store: s})
		g.Go(func() error {
			for range perWorker {
				v, err := svc.Next(ctx, "ticket")
				if err != nil {
					return err
				}
				mu.Lock()
				seen = append(seen, v)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	slices.Sort(seen)
	require.Len(t, seen, workers*perWorker)
	for i, v := range seen {
		assert.Equal(t, int64(i+1), v)
	}
}
