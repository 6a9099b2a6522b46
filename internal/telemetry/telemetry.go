package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Telemetry holds the providers installed as otel globals for one cogpid
// process. Packages instrument through otel.Tracer and otel.Meter and never
// see this type.
type Telemetry struct {
	cfg       *Config
	shutdowns []func(context.Context) error
	degraded  []string

	// kept for ForceFlush in tests
	traces *trace.TracerProvider
}

// Option swaps an exporter, mainly for tests.
type Option func(*exporters)

type exporters struct {
	spans   trace.SpanExporter
	metrics sdkmetric.Reader
}

// WithSpanExporter exports spans to exp instead of OTLP.
func WithSpanExporter(exp trace.SpanExporter) Option {
	return func(e *exporters) { e.spans = exp }
}

// WithMetricReader collects metrics through r instead of a periodic OTLP
// reader.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(e *exporters) { e.metrics = r }
}

// New installs tracing and, when configured, metrics as the otel globals.
// A provider whose exporter cannot be built is skipped with a warning and
// the run continues without it. A disabled config installs nothing.
func New(ctx context.Context, cfg *Config, logger *zap.Logger, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{cfg: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	var ex exporters
	for _, opt := range opts {
		opt(&ex)
	}
	res := newResource(cfg)
	skip := func(what string, err error) {
		t.degraded = append(t.degraded, what)
		logger.Warn("telemetry output disabled", zap.String("output", what), zap.Error(err))
	}

	if tp, err := newTracerProvider(ctx, cfg, res, ex.spans); err != nil {
		skip("traces", err)
	} else {
		otel.SetTracerProvider(tp)
		t.traces = tp
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
	}

	if cfg.MetricsEnabled {
		if mp, err := newMeterProvider(ctx, cfg, res, ex.metrics); err != nil {
			skip("metrics", err)
		} else {
			otel.SetMeterProvider(mp)
			t.shutdowns = append(t.shutdowns, mp.Shutdown)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Enabled reports whether every configured output started.
func (t *Telemetry) Enabled() bool {
	return t != nil && t.cfg.Enabled && len(t.degraded) == 0
}

// Shutdown flushes pending spans and metrics. Without a deadline on ctx it
// waits at most the configured shutdown timeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || len(t.shutdowns) == 0 {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}
	var errs []error
	for _, fn := range t.shutdowns {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}
