package log

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fromZap wraps a zap logger at debug level so the core decides what is kept.
func fromZap(zapLogger *zap.Logger) *Logger {
	return &Logger{
		zapLogger: zapLogger,
		level:     zap.NewAtomicLevelAt(zap.DebugLevel),
	}
}

func TestLoggerFieldsReachZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := fromZap(zap.New(core))

	l.Info("frame done",
		Uint64("frame", 3),
		Uint32("entity", 7),
		Uint16("component", 2),
		Duration("took", time.Millisecond),
		Strings("stages", []string{"start", "tick"}),
		Error(errors.New("boom")),
		Error(nil),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, uint64(3), ctx["frame"])
	require.Equal(t, uint32(7), ctx["entity"])
	require.Equal(t, uint16(2), ctx["component"])
	require.Equal(t, "boom", ctx["error"])
}

func TestLoggerLevelFilter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := fromZap(zap.New(core))
	l.SetLevel(LevelWarn)
	require.Equal(t, LevelWarn, l.GetLevel())

	l.Log(LevelInfo, "dropped")
	l.Log(LevelError, "kept")
	require.Equal(t, 1, logs.Len())
}

func TestWithContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := fromZap(zap.New(core))

	ctx := ContextWithSystem(ContextWithFrame(context.Background(), 9), "movement")
	l.WithContext(ctx).Debug("run")
	require.Equal(t, uint64(9), logs.All()[0].ContextMap()["frame"])
	require.Equal(t, "movement", logs.All()[0].ContextMap()["system"])

	require.Same(t, l, l.WithContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelWarn, ParseLevel("warning"))
	require.Equal(t, LevelSilent, ParseLevel("off"))
	require.Equal(t, LevelInfo, ParseLevel("nope"))
	require.Equal(t, "error", LevelError.String())
}
