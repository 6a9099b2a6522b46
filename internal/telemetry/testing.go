package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Capture records spans and metrics in memory for the duration of a test.
type Capture struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

// CaptureGlobal installs in-memory providers as the otel globals and puts
// the previous ones back when tb ends. Code must obtain its tracer or meter
// after the call. Tests using it cannot run in parallel.
func CaptureGlobal(tb testing.TB) *Capture {
	tb.Helper()
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()

	c := &Capture{spans: tracetest.NewSpanRecorder(), reader: sdkmetric.NewManualReader()}
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(c.spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(c.reader))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	tb.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	return c
}

// Spans returns the ended spans called name, oldest first.
func (c *Capture) Spans(name string) []trace.ReadOnlySpan {
	var out []trace.ReadOnlySpan
	for _, s := range c.spans.Ended() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// Attr returns the value of key on s.
func Attr(s trace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// Metric collects and returns the instrument called name.
func (c *Capture) Metric(tb testing.TB, name string) (metricdata.Metrics, bool) {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := c.reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collecting metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}
