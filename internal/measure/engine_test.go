package measure

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constMetric returns a fixed value.
type constMetric struct {
	name  string
	value float64
	calls *[]string
}

func (m constMetric) Name() string { return m.name }

func (m constMetric) Measure(context.Context, Input) float64 {
	if m.calls != nil {
		*m.calls = append(*m.calls, m.name)
	}
	return m.value
}

func TestNewEngine_RejectsBadWeights(t *testing.T) {
	metrics := []Metric{constMetric{name: "a"}, constMetric{name: "b"}}

	tests := []struct {
		name    string
		weights map[string]float64
		want    string
	}{
		{"empty", map[string]float64{}, "no weights"},
		{"sum below one", map[string]float64{"a": 0.5, "b": 0.4}, "sum to 0.9"},
		{"sum above one", map[string]float64{"a": 0.75, "b": 0.5}, "sum to 1.25"},
		{"negative", map[string]float64{"a": 1.2, "b": -0.2}, "non-negative"},
		{"nan", map[string]float64{"a": math.NaN(), "b": 1}, "non-negative"},
		{"unknown metric", map[string]float64{"a": 0.5, "c": 0.5}, `weight "c" has no metric`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.weights, metrics, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidWeights)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewEngine_MetricWithoutWeight(t *testing.T) {
	_, err := NewEngine(map[string]float64{"a": 1},
		[]Metric{constMetric{name: "a"}, constMetric{name: "b"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `metric "b" has no weight`)
}

func TestNewEngine_DuplicateMetric(t *testing.T) {
	_, err := NewEngine(map[string]float64{"a": 1},
		[]Metric{constMetric{name: "a"}, constMetric{name: "a"}}, nil)
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestCompute_WeightedSum(t *testing.T) {
	e, err := NewEngine(DefaultWeights(), []Metric{
		constMetric{name: MetricSimilarity, value: 0.8},
		constMetric{name: MetricTests, value: 0.5},
		constMetric{name: MetricLint, value: 1.0},
		constMetric{name: MetricCoverage, value: 0.2},
	}, nil)
	require.NoError(t, err)

	m := e.Compute(context.Background(), Input{})
	assert.InDelta(t, 0.4*0.8+0.3*0.5+0.2*1.0+0.1*0.2, m.PV, 1e-9)
	assert.Equal(t, 0.5, m.Components[MetricTests])
}

func TestCompute_ClampsMetricOutput(t *testing.T) {
	e, err := NewEngine(map[string]float64{"hi": 0.5, "lo": 0.25, "nan": 0.25}, []Metric{
		constMetric{name: "hi", value: 7},
		constMetric{name: "lo", value: -3},
		constMetric{name: "nan", value: math.NaN()},
	}, nil)
	require.NoError(t, err)

	m := e.Compute(context.Background(), Input{})
	assert.InDelta(t, 0.5, m.PV, 1e-9)
	assert.Equal(t, 1.0, m.Components["hi"])
	assert.Equal(t, 0.0, m.Components["lo"])
	assert.Equal(t, 0.0, m.Components["nan"])
}

func TestCompute_PVInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		raw := []float64{rng.Float64(), rng.Float64(), rng.Float64()}
		total := raw[0] + raw[1] + raw[2]
		weights := map[string]float64{"a": raw[0] / total, "b": raw[1] / total}
		weights["c"] = 1 - weights["a"] - weights["b"]

		e, err := NewEngine(weights, []Metric{
			constMetric{name: "a", value: rng.Float64()},
			constMetric{name: "b", value: rng.Float64()},
			constMetric{name: "c", value: rng.Float64()},
		}, nil)
		require.NoError(t, err)

		pv := e.Compute(context.Background(), Input{}).PV
		require.GreaterOrEqual(t, pv, 0.0)
		require.LessOrEqual(t, pv, 1.0)
	}
}

func TestCompute_OrderInvariant(t *testing.T) {
	weights := map[string]float64{"a": 0.1, "b": 0.2, "c": 0.3, "d": 0.4}
	values := map[string]float64{"a": 0.13, "b": 0.57, "c": 0.91, "d": 0.33}

	build := func(order []string) (*Engine, *[]string) {
		var calls []string
		ms := make([]Metric, 0, len(order))
		for _, n := range order {
			ms = append(ms, constMetric{name: n, value: values[n], calls: &calls})
		}
		e, err := NewEngine(weights, ms, nil)
		require.NoError(t, err)
		return e, &calls
	}

	e1, calls1 := build([]string{"a", "b", "c", "d"})
	e2, calls2 := build([]string{"d", "b", "a", "c"})

	pv1 := e1.Compute(context.Background(), Input{}).PV
	pv2 := e2.Compute(context.Background(), Input{}).PV
	assert.Equal(t, pv1, pv2)
	assert.Equal(t, *calls1, *calls2)
	assert.Equal(t, []string{"a", "b", "c", "d"}, e2.Names())
}
