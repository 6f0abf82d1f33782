// Package logging includes tests for the zap logger helpers.
package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBuildsBothModes(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		logger, err := New(dev)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready", zap.Bool("development", dev))
		_ = logger.Sync() //nolint:errcheck // best-effort flush
	}
}

func TestFromContextPrefersRequestLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	requestLogger := zap.New(core).With(zap.String("request_id", "req-1"))
	fallback := zap.NewNop()

	ctx := WithContext(context.Background(), requestLogger)
	FromContext(ctx, fallback).Info("rendering")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "rendering", entry.Message)
	require.Equal(t, "req-1", entry.ContextMap()["request_id"])
}

func TestFromContextFallbacks(t *testing.T) {
	t.Parallel()

	fallback := zap.NewExample()
	require.Same(t, fallback, FromContext(context.Background(), fallback))
	require.NotNil(t, FromContext(context.Background(), nil))
	require.Equal(t, context.Background(), WithContext(context.Background(), nil))
}
