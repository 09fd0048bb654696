package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/storefront/orders-api/internal/platform/requestctx"
)

func TestEventLoggerUsesFallbackAndLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	hook := EventLogger(zap.New(core))

	hook(context.Background(), "order.created", map[string]any{"order_id": "ord_1", "total": int64(44900)})
	hook(context.Background(), "payment.initiate.failed", map[string]any{"error": errors.New("boom")})
	hook(context.Background(), "late_crypto_payment", nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "ord_1", entries[0].ContextMap()["order_id"])
	assert.Equal(t, "order.created", entries[0].ContextMap()["event"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.DebugLevel)
	requestCore, requestLogs := observer.New(zapcore.DebugLevel)
	hook := EventLogger(zap.New(fallbackCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore).With(zap.String("request_id", "req-1")))
	hook(ctx, "order.confirmed", map[string]any{"order_id": "ord_2"})

	assert.Zero(t, fallbackLogs.Len())
	require.Equal(t, 1, requestLogs.Len())
	assert.Equal(t, "req-1", requestLogs.All()[0].ContextMap()["request_id"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("nonsense")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	debug, err := NewLogger("DEBUG")
	require.NoError(t, err)
	assert.True(t, debug.Core().Enabled(zapcore.DebugLevel))
}
