package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestRequestMetrics(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	e := echo.New()
	e.Use(requestMetrics(mp.Meter(instrumentationName), zap.NewNop()))
	e.GET("/api/v1/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"state": "ITERATING"})
	})

	for _, target := range []string{"/api/v1/status", "/api/v1/status", "/nope"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	byClass := map[string]int64{}
	var timed uint64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					route, _ := dp.Attributes.Value(attribute.Key("route"))
					class, _ := dp.Attributes.Value(attribute.Key("status_class"))
					counts[route.AsString()+" "+class.AsString()] += dp.Value
					byClass[class.AsString()] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					timed += dp.Count
				}
			}
		}
	}
	assert.Equal(t, int64(2), counts["/api/v1/status 2xx"])
	assert.Equal(t, int64(1), byClass["4xx"])
	assert.Equal(t, uint64(3), timed)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "unknown", statusClass(0))
}
