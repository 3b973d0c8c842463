package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/favbox/eino-chains/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = NewLogger(config.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestSetupTracingDisabled(t *testing.T) {
	ctx := context.Background()
	tracer, shutdown, err := SetupTracing(ctx, config.TracingConfig{ServiceName: "chains"}, "dev", zap.NewNop())
	require.NoError(t, err)

	_, span := tracer.Start(ctx, "x")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(ctx))
}

func TestSetupTracingEnabled(t *testing.T) {
	ctx := context.Background()
	cfg := config.TracingConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4318",
		Insecure:    true,
		ServiceName: "chains",
		SampleRate:  1,
	}
	tracer, shutdown, err := SetupTracing(ctx, cfg, "dev", zap.NewNop())
	require.NoError(t, err)

	_, span := tracer.Start(ctx, "x")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	// 导出失败不影响关闭
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_ = shutdown(cctx)
}

func TestSetupSentryDisabled(t *testing.T) {
	hub, shutdown, err := SetupSentry(config.SentryConfig{}, "dev")
	require.NoError(t, err)
	assert.Nil(t, hub)
	assert.NoError(t, shutdown(context.Background()))
}
