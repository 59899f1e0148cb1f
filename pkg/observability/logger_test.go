package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("debug message")
	assert.Zero(t, buf.Len(), "debug must be filtered at info level")

	logger.Info("info message")
	logger.Warn("warn message")
	logger.Errorf("error %d", 42)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "info message", entries[0]["msg"])
	assert.Equal(t, "WARN", entries[1]["level"])
	assert.Equal(t, "error 42", entries[2]["msg"])
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("provider", "google").
		WithFields(map[string]interface{}{"tenant": "acme", "attempt": 2}).
		WithError(errors.New("boom")).
		Debugf("callback %s", "failed")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "google", entries[0]["provider"])
	assert.Equal(t, "acme", entries[0]["tenant"])
	assert.Equal(t, float64(2), entries[0]["attempt"])
	assert.Equal(t, "boom", entries[0]["error"])
	assert.Equal(t, "callback failed", entries[0]["msg"])
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	assert.Same(t, logger, logger.WithError(nil))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{" error ", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithAccountID(ctx, 7)

	FromContext(ctx).Info("hello")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0]["request_id"])
	assert.Equal(t, float64(7), entries[0]["account_id"])
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	_, ok := GetAccountID(ctx)
	assert.False(t, ok)
	assert.NotNil(t, GetLogger(ctx))
}
