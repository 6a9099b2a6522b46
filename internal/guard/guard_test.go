package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget(t *testing.T) {
	g := Budget{Ceiling: 1.00}

	// $0.50 per iteration: still running after one, stopped at two.
	assert.False(t, g.Check(Snapshot{Iteration: 1, Cost: 0.50}).Stop)
	v := g.Check(Snapshot{Iteration: 2, Cost: 1.00})
	assert.True(t, v.Stop)
	assert.Equal(t, KindBudget, v.Kind)
	assert.Contains(t, v.Message, "$1.00 of $1.00")
}

func TestMaxIterations(t *testing.T) {
	g := MaxIterations{Max: 3}
	assert.False(t, g.Check(Snapshot{Iteration: 2}).Stop)
	assert.True(t, g.Check(Snapshot{Iteration: 3}).Stop)
}

func TestStagnation(t *testing.T) {
	g := Stagnation{Window: 10, Delta: 0.01}

	tests := []struct {
		name    string
		history []float64
		stop    bool
	}{
		{
			name:    "flat within half a hundredth",
			history: []float64{0.500, 0.505, 0.495, 0.500, 0.504, 0.496, 0.500, 0.503, 0.497, 0.500},
			stop:    true,
		},
		{
			name:    "rising from window minimum by exactly delta",
			history: []float64{0.495, 0.505, 0.495, 0.500, 0.504, 0.496, 0.500, 0.503, 0.497, 0.500},
			stop:    true,
		},
		{
			name:    "improving by 0.02 each iteration",
			history: []float64{0.30, 0.32, 0.34, 0.36, 0.38, 0.40, 0.42, 0.44, 0.46, 0.48},
			stop:    false,
		},
		{
			name:    "history shorter than window",
			history: []float64{0.5, 0.5, 0.5},
			stop:    false,
		},
		{
			name:    "only the trailing window counts",
			history: []float64{0.1, 0.2, 0.3, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6},
			stop:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := g.Check(Snapshot{History: tt.history})
			assert.Equal(t, tt.stop, v.Stop)
		})
	}
}

func TestImprovement(t *testing.T) {
	imp, ok := Improvement([]float64{0.2, 0.5, 0.3}, 3)
	require.True(t, ok)
	assert.InDelta(t, 0.3, imp, 1e-12)

	// A falling window has no improvement.
	imp, ok = Improvement([]float64{0.9, 0.5, 0.3}, 3)
	require.True(t, ok)
	assert.Equal(t, 0.0, imp)

	_, ok = Improvement([]float64{0.2}, 3)
	assert.False(t, ok)
	_, ok = Improvement([]float64{0.2}, 0)
	assert.False(t, ok)
}

func TestHumanReview(t *testing.T) {
	g := HumanReview{Threshold: 0.05}
	assert.True(t, g.Check(Snapshot{PV: 0.04}).Stop)
	assert.False(t, g.Check(Snapshot{PV: 0.05}).Stop)

	assert.False(t, HumanReview{}.Check(Snapshot{PV: 0}).Stop)
}

func TestOscillationNeverStops(t *testing.T) {
	v := Oscillation{}.Check(Snapshot{Oscillating: true})
	assert.False(t, v.Stop)
	assert.True(t, v.Warn)

	assert.False(t, Oscillation{}.Check(Snapshot{}).Warn)
}

func TestSet_FirstTripWins(t *testing.T) {
	set, err := NewSet(Config{
		MaxBudgetUSD:         1.0,
		MaxIterations:        2,
		StagnationWindow:     2,
		StagnationDelta:      0.01,
		HumanReviewThreshold: 0.05,
	})
	require.NoError(t, err)

	// Budget and iteration cap both trip; budget is checked first.
	stop, _ := set.Evaluate(Snapshot{Iteration: 2, Cost: 1.0, PV: 0.5, History: []float64{0.5, 0.5}})
	require.NotNil(t, stop)
	assert.Equal(t, KindBudget, stop.Kind)

	// Iteration cap before stagnation.
	stop, _ = set.Evaluate(Snapshot{Iteration: 2, Cost: 0.1, PV: 0.5, History: []float64{0.5, 0.5}})
	require.NotNil(t, stop)
	assert.Equal(t, KindMaxIterations, stop.Kind)

	// Stagnation before human review.
	stop, _ = set.Evaluate(Snapshot{Iteration: 1, PV: 0.01, History: []float64{0.01, 0.01}})
	require.NotNil(t, stop)
	assert.Equal(t, KindStagnation, stop.Kind)

	stop, _ = set.Evaluate(Snapshot{Iteration: 1, PV: 0.01, History: []float64{0.01}})
	require.NotNil(t, stop)
	assert.Equal(t, KindHumanReview, stop.Kind)
}

func TestSet_OscillationWarnsOnly(t *testing.T) {
	set, err := NewSet(DefaultConfig())
	require.NoError(t, err)

	stop, warnings := set.Evaluate(Snapshot{Iteration: 1, PV: 0.5, History: []float64{0.5}, Oscillating: true})
	assert.Nil(t, stop)
	require.Len(t, warnings, 1)
	assert.Equal(t, KindOscillation, warnings[0].Kind)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	err := Config{StagnationDelta: -1, HumanReviewThreshold: 2}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	for _, field := range []string{"max_budget_usd", "max_iterations", "stagnation_window", "stagnation_delta", "human_review_threshold"} {
		assert.Contains(t, err.Error(), field)
	}
}
