package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/cogpid/internal/embeddings"

// embedMetrics records one provider's embedding calls. Instruments that
// fail to register are left nil and skipped.
type embedMetrics struct {
	model    attribute.KeyValue
	latency  metric.Float64Histogram
	texts    metric.Int64Counter
	failures metric.Int64Counter
}

func newEmbedMetrics(model string, logger *zap.Logger) *embedMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)
	m := &embedMetrics{model: attribute.String("model", model)}

	var err error
	if m.latency, err = meter.Float64Histogram(
		"cogpid.embedding.duration",
		metric.WithDescription("Time spent embedding goal or workspace text"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30),
	); err != nil {
		logger.Warn("embedding duration histogram unavailable", zap.Error(err))
	}
	if m.texts, err = meter.Int64Counter(
		"cogpid.embedding.texts",
		metric.WithDescription("Texts sent for embedding"),
		metric.WithUnit("{text}"),
	); err != nil {
		logger.Warn("embedding text counter unavailable", zap.Error(err))
	}
	if m.failures, err = meter.Int64Counter(
		"cogpid.embedding.failures",
		metric.WithDescription("Embedding calls that returned an error"),
		metric.WithUnit("{call}"),
	); err != nil {
		logger.Warn("embedding failure counter unavailable", zap.Error(err))
	}
	return m
}

// observe is deferred at the top of an embedding call with a pointer to its
// named error result.
func (m *embedMetrics) observe(ctx context.Context, kind string, n int, start time.Time, errp *error) {
	attrs := metric.WithAttributes(m.model, attribute.String("kind", kind))
	if m.latency != nil {
		m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if m.texts != nil && n > 0 {
		m.texts.Add(ctx, int64(n), attrs)
	}
	if m.failures != nil && errp != nil && *errp != nil {
		m.failures.Add(ctx, 1, attrs)
	}
}
