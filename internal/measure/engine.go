// Package measure turns a workspace into a process value (PV) in [0,1].
//
// An Engine combines independent Metric functions with fixed weights. Each
// metric is clamped to [0,1] and falls back to a defined value when it
// cannot be computed, so Compute never fails.
package measure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// ErrInvalidWeights is returned by NewEngine for a weight set that does not
// describe a convex combination of the configured metrics.
var ErrInvalidWeights = errors.New("invalid metric weights")

// weightTolerance is how far the weight sum may drift from 1.
const weightTolerance = 1e-6

// Metric names used by the default set.
const (
	MetricSimilarity = "similarity"
	MetricTests      = "tests"
	MetricLint       = "lint"
	MetricCoverage   = "coverage"
)

// DefaultWeights returns the default weight per metric.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		MetricSimilarity: 0.4,
		MetricTests:      0.3,
		MetricLint:       0.2,
		MetricCoverage:   0.1,
	}
}

// Source is the read-only view of a workspace that metrics consume.
type Source interface {
	SourceFiles() ([]string, error)
	ReadFile(rel string) ([]byte, error)
	Text(maxChars int) (string, error)
}

// TestResults summarises one test run.
type TestResults struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Input is everything a metric may look at.
type Input struct {
	Goal      string
	Workspace Source
	Tests     TestResults
}

// Metric is a scalar quality function. Measure must be deterministic for a
// given Input and should return a value in [0,1]; the engine clamps anyway.
type Metric interface {
	Name() string
	Measure(ctx context.Context, in Input) float64
}

// Measurement is the result of one Compute call.
type Measurement struct {
	PV         float64            `json:"pv"`
	Components map[string]float64 `json:"components"`
}

type weighted struct {
	metric Metric
	weight float64
}

// Engine computes PV as a weighted sum of metrics.
type Engine struct {
	metrics []weighted
	logger  *zap.Logger
}

// NewEngine pairs each metric with its weight. Every metric needs exactly
// one weight and every weight a metric; weights must be non-negative and
// sum to 1. Weights are never renormalized.
func NewEngine(weights map[string]float64, metrics []Metric, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}

	byName := make(map[string]Metric, len(metrics))
	for _, m := range metrics {
		if _, dup := byName[m.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate metric %q", ErrInvalidWeights, m.Name())
		}
		byName[m.Name()] = m
	}

	var errs []error
	ws := make([]weighted, 0, len(weights))
	for name, w := range weights {
		m, ok := byName[name]
		if !ok {
			errs = append(errs, fmt.Errorf("weight %q has no metric", name))
			continue
		}
		ws = append(ws, weighted{metric: m, weight: w})
	}
	for name := range byName {
		if _, ok := weights[name]; !ok {
			errs = append(errs, fmt.Errorf("metric %q has no weight", name))
		}
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return nil, fmt.Errorf("%w: %w", ErrInvalidWeights, errors.Join(errs...))
	}

	sort.Slice(ws, func(i, j int) bool { return ws[i].metric.Name() < ws[j].metric.Name() })
	return &Engine{metrics: ws, logger: logger}, nil
}

// ValidateWeights checks that weights are finite, non-negative and sum to 1.
func ValidateWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("%w: no weights configured", ErrInvalidWeights)
	}

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	sum := 0.0
	for _, name := range names {
		w := weights[name]
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: weight %q must be a non-negative number, got %g", ErrInvalidWeights, name, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %g, want 1", ErrInvalidWeights, sum)
	}
	return nil
}

// Compute evaluates every metric in name order and returns the weighted sum.
func (e *Engine) Compute(ctx context.Context, in Input) Measurement {
	m := Measurement{Components: make(map[string]float64, len(e.metrics))}

	fields := make([]zap.Field, 0, len(e.metrics)+1)
	for _, w := range e.metrics {
		v := sanitize(w.metric.Measure(ctx, in))
		m.Components[w.metric.Name()] = v
		m.PV += w.weight * v
		fields = append(fields, zap.Float64(w.metric.Name(), v))
	}
	// The weight tolerance can push the sum a hair outside [0,1].
	m.PV = clamp01(m.PV)

	fields = append(fields, zap.Float64("pv", m.PV))
	e.logger.Debug("pv computed", fields...)
	return m
}

// Names returns the configured metric names in evaluation order.
func (e *Engine) Names() []string {
	names := make([]string, len(e.metrics))
	for i, w := range e.metrics {
		names[i] = w.metric.Name()
	}
	return names
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp01(v)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
