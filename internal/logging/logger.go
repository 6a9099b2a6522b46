package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process logger. The command layer logs through it with a
// context; packages below it take a plain *zap.Logger from Zap.
type Logger struct {
	z      *zap.Logger
	caller bool
}

// NewLogger writes to stderr and, when otelProvider is non-nil and the
// otel output is on, to the OTEL log pipeline.
func NewLogger(cfg *Config, otelProvider log.LoggerProvider) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	core, err := newCore(cfg, zapcore.Lock(os.Stderr), otelProvider)
	if err != nil {
		return nil, err
	}
	return newLogger(core, cfg), nil
}

func newLogger(core zapcore.Core, cfg *Config) *Logger {
	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	z := zap.New(core, opts...)
	for k, v := range cfg.Fields {
		z = z.With(zap.String(k, v))
	}
	return &Logger{z: z, caller: cfg.Caller}
}

// Log writes msg at lvl with the run, iteration and trace fields of ctx.
func (l *Logger) Log(ctx context.Context, lvl zapcore.Level, msg string, fields ...zap.Field) {
	if ce := l.z.Check(lvl, msg); ce != nil {
		ce.Write(append(ContextFields(ctx), fields...)...)
	}
}

func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	l.Log(ctx, TraceLevel, msg, fields...)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.Log(ctx, zapcore.DebugLevel, msg, fields...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.Log(ctx, zapcore.InfoLevel, msg, fields...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.Log(ctx, zapcore.WarnLevel, msg, fields...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.Log(ctx, zapcore.ErrorLevel, msg, fields...)
}

// Zap returns the wrapped logger with the caller skip undone, for packages
// that log directly.
func (l *Logger) Zap() *zap.Logger {
	if l.caller {
		return l.z.WithOptions(zap.AddCallerSkip(-1))
	}
	return l.z
}

// Sync flushes buffered entries. Syncing a terminal fails with EINVAL or
// ENOTTY on Linux; those are ignored.
func (l *Logger) Sync() error {
	err := l.z.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
