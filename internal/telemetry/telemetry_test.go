package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, ""},
		{"enabled local", func(c *Config) { c.Enabled = true }, ""},
		{"enabled ipv6 loopback", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, ""},
		{"remote insecure", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, "insecure"},
		{"remote tls", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, ""},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, "protocol"},
		{"bad rate", func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 }, "sample_rate"},
		{"zero interval", func(c *Config) { c.Enabled = true; c.ExportInterval = 0 }, "export_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InMemoryExporters(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	exp := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	tel, err := New(context.Background(), cfg, nil, WithSpanExporter(exp), WithMetricReader(reader))
	require.NoError(t, err)
	assert.True(t, tel.Enabled())

	_, span := otel.Tracer("test").Start(context.Background(), "checkpoint.save")
	span.End()

	require.NoError(t, tel.traces.ForceFlush(context.Background()))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "checkpoint.save", spans[0].Name)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestCaptureGlobal(t *testing.T) {
	c := CaptureGlobal(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "loop.iteration")
	span.SetAttributes(attribute.Int("iteration", 3))
	span.End()

	spans := c.Spans("loop.iteration")
	require.Len(t, spans, 1)
	v, ok := Attr(spans[0], "iteration")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt64())

	counter, err := otel.Meter("test").Int64Counter("cogpid.checkpoints.saved")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	m, ok := c.Metric(t, "cogpid.checkpoints.saved")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}
