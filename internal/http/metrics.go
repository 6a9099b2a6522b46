package http

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/cogpid/internal/http"

// requestMetrics returns middleware that counts and times status endpoint
// requests on meter. Instruments that fail to register are skipped.
func requestMetrics(meter metric.Meter, logger *zap.Logger) echo.MiddlewareFunc {
	served, err := meter.Int64Counter("cogpid.http.requests",
		metric.WithDescription("Status endpoint requests by route and status class"),
		metric.WithUnit("{request}"))
	if err != nil {
		logger.Warn("http request counter unavailable", zap.Error(err))
	}
	latency, err := meter.Float64Histogram("cogpid.http.latency",
		metric.WithDescription("Status endpoint handling time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5))
	if err != nil {
		logger.Warn("http latency histogram unavailable", zap.Error(err))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			began := time.Now()
			err := next(c)
			if err != nil {
				// Let echo write the error response so the status is final.
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			attrs := metric.WithAttributes(
				attribute.String("route", route),
				attribute.String("status_class", statusClass(c.Response().Status)),
			)
			ctx := c.Request().Context()
			if served != nil {
				served.Add(ctx, 1, attrs)
			}
			if latency != nil {
				latency.Record(ctx, time.Since(began).Seconds(), attrs)
			}
			return nil
		}
	}
}

// statusClass folds a status code to "2xx", "4xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

func defaultRequestMetrics(logger *zap.Logger) echo.MiddlewareFunc {
	return requestMetrics(otel.Meter(instrumentationName), logger)
}
