package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestZap_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", EncodingJSON, &buf)
	require.NoError(t, err)

	logger.Info(context.Background(), "action published", "actionID", "flush_cache", "target", "*")
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "action published", entry["msg"])
	assert.Equal(t, "flush_cache", entry["actionID"])
	assert.Equal(t, "*", entry["target"])
}

func TestZap_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("error", EncodingJSON, &buf)
	require.NoError(t, err)

	ctx := context.Background()
	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Error(ctx, "error")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"error"`)
	assert.False(t, logger.Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Enabled(zapcore.ErrorLevel))
}

func TestZap_ConsoleEncoding(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("info", EncodingConsole, &buf)
	require.NoError(t, err)

	logger.Info(context.Background(), "heartbeat sent", "processID", "web")

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "heartbeat sent")
	assert.Contains(t, out, `"processID": "web"`)
}

func TestZap_WithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("info", EncodingJSON, &buf)
	require.NoError(t, err)

	logger.With("process", "web").Info(context.Background(), "started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "web", entry["process"])
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	_, err := New("loud", EncodingJSON)
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscard_DoesNotPanic(t *testing.T) {
	ctx := context.Background()
	Discard.Debug(ctx, "debug", "k", "v")
	Discard.Info(ctx, "info")
	Discard.Error(ctx, "error", "error", assert.AnError)
}
