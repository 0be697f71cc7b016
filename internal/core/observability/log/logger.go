package log

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Log = (*Logger)(nil)

var (
	innerLogger          *Logger
	loggerInitializeOnce sync.Once
)

// Options configures New.
type Options struct {
	Level Level
	// Encoding is "json" or "console".
	Encoding string
	// Outputs defaults to stderr.
	Outputs []string
}

type Logger struct {
	zapLogger *zap.Logger
	level     zap.AtomicLevel
}

// New builds a zap-backed logger. The first logger built becomes the one
// returned by Provide.
func New(opts Options) *Logger {
	encoding := opts.Encoding
	if encoding != "console" {
		encoding = "json"
	}
	outputs := opts.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	level := zap.NewAtomicLevelAt(toZapLevel(opts.Level))
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config := zap.Config{
		Level:            level,
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
	}

	zapLogger, err := config.Build()
	if err != nil {
		panic(err)
	}

	logger := &Logger{
		zapLogger: zapLogger,
		level:     level,
	}
	if opts.Level == LevelSilent {
		logger.zapLogger = zap.NewNop()
	}

	loggerInitializeOnce.Do(func() { innerLogger = logger })

	return logger
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		zapLogger: zap.NewNop(),
		level:     zap.NewAtomicLevelAt(zap.ErrorLevel),
	}
}

// Provide returns the process logger, building an info-level one on first use.
func Provide() *Logger {
	if innerLogger == nil {
		return New(Options{Level: LevelInfo})
	}
	return innerLogger
}

func (l *Logger) Log(level Level, msg string, fields ...Field) {
	if !l.level.Enabled(toZapLevel(level)) {
		return
	}
	l.zapLogger.Log(toZapLevel(level), msg, toZapFields(fields...)...)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.zapLogger.Debug(msg, toZapFields(fields...)...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.zapLogger.Info(msg, toZapFields(fields...)...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.zapLogger.Warn(msg, toZapFields(fields...)...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.zapLogger.Error(msg, toZapFields(fields...)...)
}

func (l *Logger) With(fields ...Field) Log {
	return &Logger{
		zapLogger: l.zapLogger.With(toZapFields(fields...)...),
		level:     l.level,
	}
}

// WithContext attaches the frame and system carried by ctx, if any.
func (l *Logger) WithContext(ctx context.Context) Log {
	var fields []Field
	if frame, ok := ctx.Value(frameKey{}).(uint64); ok {
		fields = append(fields, Uint64("frame", frame))
	}
	if system, ok := ctx.Value(systemKey{}).(string); ok {
		fields = append(fields, String("system", system))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(toZapLevel(level))
}

func (l *Logger) GetLevel() Level {
	return fromZapLevel(l.level.Level())
}

func (l *Logger) Sync() error {
	return l.zapLogger.Sync()
}

type (
	frameKey  struct{}
	systemKey struct{}
)

// ContextWithFrame stores the frame index in ctx for WithContext.
func ContextWithFrame(ctx context.Context, frame uint64) context.Context {
	return context.WithValue(ctx, frameKey{}, frame)
}

// ContextWithSystem stores the running system name in ctx for WithContext.
func ContextWithSystem(ctx context.Context, system string) context.Context {
	return context.WithValue(ctx, systemKey{}, system)
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zap.DebugLevel
	case LevelInfo:
		return zap.InfoLevel
	case LevelWarn:
		return zap.WarnLevel
	case LevelError, LevelSilent:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func fromZapLevel(level zapcore.Level) Level {
	switch level {
	case zap.DebugLevel:
		return LevelDebug
	case zap.InfoLevel:
		return LevelInfo
	case zap.WarnLevel:
		return LevelWarn
	case zap.ErrorLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

func toZapFields(fields ...Field) []zap.Field {
	zapFields := make([]zap.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case BoolType:
			zapFields[i] = zap.Bool(f.Key, f.Value.(bool))
		case DurationType:
			zapFields[i] = zap.Duration(f.Key, f.Value.(time.Duration))
		case Float64Type:
			zapFields[i] = zap.Float64(f.Key, f.Value.(float64))
		case IntType:
			zapFields[i] = zap.Int(f.Key, f.Value.(int))
		case Int64Type:
			zapFields[i] = zap.Int64(f.Key, f.Value.(int64))
		case StringType:
			zapFields[i] = zap.String(f.Key, f.Value.(string))
		case StringsType:
			zapFields[i] = zap.Strings(f.Key, f.Value.([]string))
		case Uint64Type:
			zapFields[i] = zap.Uint64(f.Key, f.Value.(uint64))
		case Uint32Type:
			zapFields[i] = zap.Uint32(f.Key, f.Value.(uint32))
		case Uint16Type:
			zapFields[i] = zap.Uint16(f.Key, f.Value.(uint16))
		case ErrorType:
			err, _ := f.Value.(error)
			zapFields[i] = zap.NamedError(f.Key, err)
		default:
			zapFields[i] = zap.Any(f.Key, f.Value)
		}
	}
	return zapFields
}
