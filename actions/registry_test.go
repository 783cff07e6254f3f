package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/getpup/configsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("flush_cache", noop, Unique()))

	b, ok := r.Lookup("flush_cache")
	require.True(t, ok)
	assert.Equal(t, "flush_cache", b.ActionID)
	assert.True(t, b.Unique)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Register_LastWins(t *testing.T) {
	r := NewRegistry()
	var calls []string

	require.NoError(t, r.Register("reload", func(context.Context) error { calls = append(calls, "first"); return nil }, Unique()))
	require.NoError(t, r.Register("reload", func(context.Context) error { calls = append(calls, "second"); return nil }))

	b, ok := r.Lookup("reload")
	require.True(t, ok)
	assert.False(t, b.Unique)
	require.NoError(t, b.Handler(context.Background()))
	assert.Equal(t, []string{"second"}, calls)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Register_RejectsInvalidInput(t *testing.T) {
	r := NewRegistry()

	assert.ErrorIs(t, r.Register("", noop), configsync.ErrInvalidActionID)
	assert.ErrorIs(t, r.Register("   ", noop), configsync.ErrInvalidActionID)
	assert.ErrorIs(t, r.Register("x", nil), ErrNilHandler)
	assert.Zero(t, r.Len())
}

func TestRegistry_List_IsRestartableAndLive(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("b", noop))
	require.NoError(t, r.Register("a", noop, Unique()))

	seq := r.List()

	var first []string
	for b := range seq {
		first = append(first, b.ActionID)
	}
	assert.Equal(t, []string{"a", "b"}, first)

	require.NoError(t, r.Register("c", noop))

	var second []string
	for b := range seq {
		second = append(second, b.ActionID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, second)
}

func TestRegistry_List_StopsEarly(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(id, noop))
	}

	n := 0
	for range r.List() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestRegistry_UniqueIDs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("reindex", noop, Unique()))
	require.NoError(t, r.Register("reload", noop))
	require.NoError(t, r.Register("flush_cache", noop, Unique()))

	assert.Equal(t, []string{"flush_cache", "reindex"}, r.UniqueIDs())
	assert.Empty(t, NewRegistry().UniqueIDs())
}

func TestBindArgs_CapturesArguments(t *testing.T) {
	var got string
	h := BindArgs(func(_ context.Context, name string) error {
		got = name
		return nil
	}, "downloader")

	require.NoError(t, h(context.Background()))
	assert.Equal(t, "downloader", got)

	failing := BindArgs(func(context.Context, int) error { return errors.New("boom") }, 1)
	assert.EqualError(t, failing(context.Background()), "boom")
}

func TestFunc_AdaptsPlainFunction(t *testing.T) {
	cleared := false
	h := Func(func() { cleared = true })

	require.NoError(t, h(context.Background()))
	assert.True(t, cleared)
}
