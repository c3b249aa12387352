package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMessage = "test message"

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestNewWithWriterLevels(t *testing.T) {
	tests := []struct {
		name          string
		level         string
		expectedLevel zerolog.Level
	}{
		{name: "debug", level: "debug", expectedLevel: zerolog.DebugLevel},
		{name: "warn", level: "warn", expectedLevel: zerolog.WarnLevel},
		{name: "invalid_defaults_to_info", level: "bogus", expectedLevel: zerolog.InfoLevel},
		{name: "empty_defaults_to_info", level: "", expectedLevel: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewWithWriter(&bytes.Buffer{}, tt.level)
			assert.Equal(t, tt.expectedLevel, l.Level())
		})
	}
}

func TestLogEventFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug")

	l.Info().
		Str("method", "PUT").
		Bool("override", true).
		Int("attempt", 2).
		Int64("bytes", 42).
		Dur("elapsed", 1500*time.Millisecond).
		Err(errors.New("boom")).
		Msg(testMessage)

	entry := decodeLine(t, &buf)
	assert.Equal(t, testMessage, entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "PUT", entry["method"])
	assert.Equal(t, true, entry["override"])
	assert.EqualValues(t, 2, entry["attempt"])
	assert.EqualValues(t, 42, entry["bytes"])
	assert.Equal(t, "boom", entry["error"])
	assert.Contains(t, entry, "caller")
}

func TestSensitiveFieldsAreMasked(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info")

	l.Warn().
		Str("email", "user@example.com").
		Str("passwd", "hunter2").
		Str("authorization", "GoogleLogin auth=abc").
		Bytes("auth_body", []byte("Auth=abc")).
		Interface("headers", map[string][]string{"Authorization": {"GoogleLogin auth=abc"}, "Accept": {"*/*"}}).
		Msg(testMessage)

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "auth=abc")
	assert.NotContains(t, out, "Auth=abc")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "user@example.com", entry["email"])
	assert.Equal(t, DefaultMaskValue, entry["passwd"])
	assert.Equal(t, DefaultMaskValue, entry["authorization"])
	assert.Equal(t, DefaultMaskValue, entry["auth_body"])
}

func TestWithFieldsFiltersValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info").WithFields(map[string]any{
		"service": "cl",
		"token":   "secret-token",
	})

	l.Info().Msg(testMessage)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "cl", entry["service"])
	assert.Equal(t, DefaultMaskValue, entry["token"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn")

	l.Debug().Str("k", "v").Msg("hidden")
	l.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	l.Error().Msgf("visible %d", 1)
	assert.Contains(t, buf.String(), "visible 1")
}

func TestWithContext(t *testing.T) {
	var base, ctxBuf bytes.Buffer
	l := NewWithWriter(&base, "info")

	t.Run("no logger in context returns receiver", func(t *testing.T) {
		assert.Same(t, l, l.WithContext(context.Background()))
	})

	t.Run("context logger is used", func(t *testing.T) {
		zl := zerolog.New(&ctxBuf)
		ctx := zl.WithContext(context.Background())

		l.WithContext(ctx).Info().Str("password", "x").Msg(testMessage)

		assert.Zero(t, base.Len())
		entry := decodeLine(t, &ctxBuf)
		assert.Equal(t, DefaultMaskValue, entry["password"])
	})
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Info().Str("k", "v").Int("n", 1).Msg(testMessage)
		l.WithFields(map[string]any{"a": 1}).Error().Msg(testMessage)
	})
}

func TestNewStdoutLoggers(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, New("debug", false).Level())
	assert.Equal(t, zerolog.InfoLevel, New("info", true).Level())
	assert.Equal(t, zerolog.ErrorLevel, NewWithFilter("error", false, &FilterConfig{SensitiveFields: []string{"x"}}).Level())
}
