package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefault(t *testing.T) *Progressive {
	t.Helper()
	p, err := New(DefaultSchedule(), DefaultBands())
	require.NoError(t, err)
	return p
}

func TestThreshold_Progressive(t *testing.T) {
	p := newDefault(t)

	tests := []struct {
		iteration int
		want      float64
	}{
		{1, 0.25},
		{5, 0.25},
		{6, 0.45},
		{15, 0.45},
		{16, 0.65},
		{100, 0.65},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Threshold(tt.iteration), "iteration %d", tt.iteration)
	}
}

func TestAdjust(t *testing.T) {
	p := newDefault(t)
	start := DefaultParams()

	tests := []struct {
		name        string
		control     float64
		oscillating bool
		wantTemp    float64
		wantStrict  float64
	}{
		{"inside bands leaves params", 0.2, false, 0.5, 0.5},
		{"large positive tightens", 1.5, false, 0.3, 0.6},
		{"large negative relaxes", -1.5, false, 0.7, 0.4},
		{"oscillation halves the step", 1.5, true, 0.4, 0.55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := p.Adjust(start, tt.control, tt.oscillating)
			assert.InDelta(t, tt.wantTemp, next.Temperature, 1e-9)
			assert.InDelta(t, tt.wantStrict, next.Strictness, 1e-9)
			assert.Equal(t, tt.oscillating, next.Damped)
		})
	}

	// Input snapshot is untouched.
	assert.Equal(t, DefaultParams(), start)
}

func TestAdjust_Clamps(t *testing.T) {
	p := newDefault(t)

	cold := Params{Temperature: 0.15, PlannerTemperature: 0.15, Strictness: 0.95}
	next := p.Adjust(cold, 5, false)
	assert.Equal(t, 0.1, next.Temperature)
	assert.Equal(t, 0.1, next.PlannerTemperature)
	assert.Equal(t, 1.0, next.Strictness)

	hot := Params{Temperature: 0.9, PlannerTemperature: 0.95, Strictness: 0.05}
	next = p.Adjust(hot, -5, false)
	assert.Equal(t, 1.0, next.Temperature)
	assert.Equal(t, 1.0, next.PlannerTemperature)
	assert.Equal(t, 0.0, next.Strictness)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Schedule{
		Steps: []Step{{Through: 5, Threshold: 0.5}, {Through: 3, Threshold: 0.4}},
		Final: 0.3,
	}, DefaultBands())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "through must exceed 5")
	assert.Contains(t, err.Error(), "below previous")

	bands := DefaultBands()
	bands.Relax = 1
	bands.DampingFactor = 0
	_, err = New(DefaultSchedule(), bands)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relax")
	assert.Contains(t, err.Error(), "damping_factor")
}

func TestSchedule_NoSteps(t *testing.T) {
	s := Schedule{Final: 0.7}
	require.NoError(t, s.Validate())
	assert.Equal(t, 0.7, s.At(1))
}
