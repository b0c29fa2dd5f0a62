package logutil

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)

	logger.Log(t.Context(), LevelTrace, "gather", "rank", 1)
	out := buf.String()

	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "rank=1")
	assert.Contains(t, out, "source=logutil_test.go:")
}

func TestNewLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Debug("versteckt")
	logger.Log(t.Context(), LevelTrace, "auch versteckt")
	assert.Empty(t, buf.String())

	logger.Info("sichtbar")
	assert.Contains(t, buf.String(), "level=INFO")
}
