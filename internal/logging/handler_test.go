// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/payzy/payzy/internal/reqctx"
	"github.com/payzy/payzy/pkg/errutil"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "Failed to parse JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("payzy", "1.0.0", "json", slog.LevelInfo, &buf)

	logger.Info("test message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "payzy", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Contains(t, entry, "time", "time field missing")
	assert.Contains(t, entry, "level", "level field missing")
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("payzy-api", "1.0.0", "text", slog.LevelInfo, &buf)

	logger.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "test message", "Output missing message")
	assert.Contains(t, output, "payzy-api", "Output missing service")
}

func TestSetup_DefaultFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("payzy", "1.0.0", "", slog.LevelInfo, &buf)

	logger.Info("test message")

	decodeEntry(t, &buf)
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("payzy", "1.0.0", "json", slog.LevelWarn, &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Equal(t, "kept", decodeEntry(t, &buf)["msg"])
}

func TestHandler_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("payzy", "1.0.0", "json", slog.LevelInfo, &buf)

	ctx := reqctx.WithID(context.Background(), "req-7")
	logger.InfoContext(ctx, "correlated")

	assert.Equal(t, "req-7", decodeEntry(t, &buf)["request_id"])
}

func TestHandler_NoRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("payzy", "1.0.0", "json", slog.LevelInfo, &buf)

	logger.Info("uncorrelated")

	assert.NotContains(t, decodeEntry(t, &buf), "request_id")
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("payzy", "1.0.0", "json", slog.LevelInfo, &buf)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "traced message")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_WithAttrsKeepsCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("payzy", "1.0.0", "json", slog.LevelInfo, &buf).
		With("component", "store").
		WithGroup("pool")

	ctx := reqctx.WithID(context.Background(), "req-8")
	logger.InfoContext(ctx, "grouped", "size", 3)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "store", entry["component"])
	assert.Contains(t, entry, "pool")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("rejects unknown", func(t *testing.T) {
		_, err := ParseLevel("verbose")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "LOG_LEVEL_INVALID")
	})
}
