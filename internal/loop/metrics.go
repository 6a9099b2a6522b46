package loop

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the refinement loop.
type Metrics struct {
	PV          prometheus.Gauge
	BestPV      prometheus.Gauge
	Control     prometheus.Gauge
	Temperature prometheus.Gauge
	CostUSD     prometheus.Gauge

	IterationsTotal  *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec
	TerminationTotal *prometheus.CounterVec
	IterationSeconds prometheus.Histogram
}

// NewMetrics registers the loop metrics once per process.
//
// Metrics:
//   - cogpid_pv, cogpid_best_pv - latest and best process value
//   - cogpid_control - latest controller output
//   - cogpid_generator_temperature - temperature for the next iteration
//   - cogpid_cost_usd - accrued spend
//   - cogpid_iterations_total{decision} - iterations by merge decision
//   - cogpid_collaborator_failures_total{collaborator}
//   - cogpid_runs_terminated_total{state}
//   - cogpid_iteration_duration_seconds
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			PV: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cogpid_pv",
				Help: "Process value measured in the latest iteration",
			}),
			BestPV: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cogpid_best_pv",
				Help: "Best process value seen in the current run",
			}),
			Control: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cogpid_control",
				Help: "Controller output of the latest iteration",
			}),
			Temperature: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cogpid_generator_temperature",
				Help: "Generator temperature chosen for the next iteration",
			}),
			CostUSD: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cogpid_cost_usd",
				Help: "Total collaborator spend in USD",
			}),
			IterationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cogpid_iterations_total",
					Help: "Total number of iterations by decision",
				},
				[]string{"decision"},
			),
			FailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cogpid_collaborator_failures_total",
					Help: "Collaborator calls that exhausted their retries",
				},
				[]string{"collaborator"},
			),
			TerminationTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cogpid_runs_terminated_total",
					Help: "Runs by terminal state",
				},
				[]string{"state"},
			),
			IterationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "cogpid_iteration_duration_seconds",
				Help:    "Wall-clock duration of one iteration",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			}),
		}
	})
	return globalMetrics
}
