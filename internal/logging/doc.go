// Package logging builds the zap logger used across cogpid.
//
// The logger writes JSON or console output to stderr, optionally tees to
// OpenTelemetry through the otelzap bridge, samples chatty levels and
// redacts secrets by field name and value pattern. Correlation fields are
// taken from the context:
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithIteration(ctx, 3)
//	logger.Info(ctx, "patch applied")
//
// produces entries carrying run.id, iteration and, inside a span,
// trace_id and span_id. Library packages receive Zap() and add
// ContextFields(ctx) themselves.
package logging
