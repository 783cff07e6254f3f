package store

import (
	"testing"

	"github.com/getpup/configsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalConfig_KeepsIntegers(t *testing.T) {
	cfg, err := UnmarshalConfig([]byte(`{"limit":1,"id":1152921504606846977,"ratio":0.5,"pairs":[["a",2],["b",0.75]],"nested":{"n":-4}}`))
	require.NoError(t, err)

	assert.Equal(t, configsync.Config{
		"limit":  1,
		"id":     1152921504606846977,
		"ratio":  0.5,
		"pairs":  []any{[]any{"a", 2}, []any{"b", 0.75}},
		"nested": map[string]any{"n": -4},
	}, cfg)
}

func TestUnmarshalConfig_LargeNumbersFallBackToFloat(t *testing.T) {
	cfg, err := UnmarshalConfig([]byte(`{"big":1e30,"huge":18446744073709551616}`))
	require.NoError(t, err)

	assert.Equal(t, 1e30, cfg["big"])
	assert.InDelta(t, 1.8446744073709552e19, cfg["huge"], 1)
}

func TestUnmarshalConfig_RoundTrip(t *testing.T) {
	in := configsync.Config{"limit": 20, "method": "probability"}
	data, err := MarshalConfig(in)
	require.NoError(t, err)

	out, err := UnmarshalConfig(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshalConfig_Malformed(t *testing.T) {
	_, err := UnmarshalConfig([]byte(`"oops"`))
	assert.ErrorIs(t, err, configsync.ErrMalformedRecord)

	cfg, err := UnmarshalConfig([]byte(`null`))
	require.NoError(t, err)
	assert.Equal(t, configsync.Config{}, cfg)
}
