package logging

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel is one step below debug. Prompt and response bodies are
// logged here.
const TraceLevel = zapcore.DebugLevel - 1

// LevelFromString parses a zap level name or "trace".
func LevelFromString(name string) (zapcore.Level, error) {
	if strings.EqualFold(name, "trace") {
		return TraceLevel, nil
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel, err
	}
	return lvl, nil
}

func levelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	enc.AppendString(l.String())
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = levelEncoder
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// newCore builds the output tee: the redacting writer core and, when a
// provider is given, the OTEL bridge. Sampling wraps the whole tee.
func newCore(cfg *Config, w zapcore.WriteSyncer, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	level, err := cfg.ZapLevel()
	if err != nil {
		return nil, err
	}

	var outputs []zapcore.Core
	if cfg.Output.Stderr {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("redacting encoder: %w", err)
		}
		outputs = append(outputs, zapcore.NewCore(enc, w, level))
	}
	if cfg.Output.OTEL && otelProvider != nil {
		outputs = append(outputs, otelzap.NewCore("cogpid", otelzap.WithLoggerProvider(otelProvider)))
	}
	if len(outputs) == 0 {
		return nil, errors.New("at least one output must be enabled and available")
	}

	core := zapcore.NewTee(outputs...)
	if !cfg.Sampling.Enabled {
		return core, nil
	}
	s := cfg.Sampling
	return &severityRouter{
		Core:    core,
		sampled: zapcore.NewSamplerWithOptions(core, s.Tick, s.Initial, s.Thereafter),
	}, nil
}

// severityRouter sends error and above straight to the embedded core and
// everything else through the sampler, so repeated failures are never
// thinned out.
type severityRouter struct {
	zapcore.Core
	sampled zapcore.Core
}

func (r *severityRouter) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level >= zapcore.ErrorLevel {
		return r.Core.Check(e, ce)
	}
	return r.sampled.Check(e, ce)
}

func (r *severityRouter) With(fields []zapcore.Field) zapcore.Core {
	return &severityRouter{Core: r.Core.With(fields), sampled: r.sampled.With(fields)}
}
