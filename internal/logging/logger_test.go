package logging

import (
	"context"
	"syscall"
	"testing"

	"github.com/fyrsmithlabs/mindpalace/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.True(t, logger.Underlying().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Underlying().Core().Enabled(zapcore.DebugLevel))
	assert.NotNil(t, logger.Underlying())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestNewLogger_NoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = true

	// OTEL requested but no provider: no core is available.
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Debug(ctx, "debug msg")
	tl.Info(ctx, "info msg")
	tl.Warn(ctx, "warn msg")
	tl.Error(ctx, "error msg")

	tl.AssertLogged(t, zapcore.DebugLevel, "debug msg")
	tl.AssertLogged(t, zapcore.InfoLevel, "info msg")
	tl.AssertLogged(t, zapcore.WarnLevel, "warn msg")
	tl.AssertLogged(t, zapcore.ErrorLevel, "error msg")
	assert.Len(t, tl.All(), 4)
}

func TestLogger_Named(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("ai")

	child.Info(context.Background(), "child msg", zap.Int64("id", 7))

	tl.AssertField(t, "child msg", "id", int64(7))
	assert.Equal(t, "ai", tl.All()[0].LoggerName)
}

func TestLogger_ThoughtIDFromContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithThoughtID(context.Background(), 42)

	tl.Info(ctx, "annotating")
	tl.AssertField(t, "annotating", "thought.id", int64(42))
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	cfg, err = FromAppConfig(config.LogConfig{Level: "WARN"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, cfg.Level)

	cfg, err = FromAppConfig(config.LogConfig{})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "mindpalace", cfg.Fields["service"])

	_, err = FromAppConfig(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestIsStdoutSyncError(t *testing.T) {
	assert.True(t, isStdoutSyncError(syscall.EINVAL))
	assert.True(t, isStdoutSyncError(syscall.ENOTTY))
	assert.False(t, isStdoutSyncError(syscall.EIO))
	assert.False(t, isStdoutSyncError(assert.AnError))
}
