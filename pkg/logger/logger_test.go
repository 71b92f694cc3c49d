package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	l := New("debug")
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l = NewWithFormat("warn", "console")
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l = New("bogus")
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestContextLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithStreamName(ctx, "demo")
	ctx = WithAttempt(ctx, 2)

	cl.Sugar(ctx).Infow("connected", "state", "Connected")
	cl.LogError(ctx, errors.New("boom"), "failed")

	entries := logs.All()
	assert.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "demo", fields["stream_name"])
	assert.EqualValues(t, 2, fields["attempt"])
	assert.Equal(t, "Connected", fields["state"])

	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestContextLogger_EmptyContext(t *testing.T) {
	base := zap.NewNop()
	cl := NewContextLogger(base)
	assert.Same(t, base, cl.WithContext(context.Background()))
}
