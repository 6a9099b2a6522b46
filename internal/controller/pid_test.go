package controller

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-6

func newTestController(t *testing.T, mutate ...func(*Config)) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero dt", func(c *Config) { c.Dt = 0 }, "dt must be > 0"},
		{"negative dt", func(c *Config) { c.Dt = -1 }, "dt must be > 0"},
		{"inverted integral", func(c *Config) { c.IntegralMin, c.IntegralMax = 1, -1 }, "integral_min"},
		{"inverted control", func(c *Config) { c.ControlMin, c.ControlMax = 2, 1 }, "control_min"},
		{"alpha zero", func(c *Config) { c.DerivativeAlpha = 0 }, "derivative_alpha"},
		{"window too small", func(c *Config) { c.OscillationWindow = 1 }, "oscillation_window"},
		{"nan gain", func(c *Config) { c.Kp = math.NaN() }, "kp must be finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompute_FirstCallUsesZeroState(t *testing.T) {
	c := newTestController(t, func(c *Config) { c.Deadband = 0 })

	u, osc := c.Compute(1.0, 0.5)

	// error 0.5, integral 0.5, raw derivative 0.5 -> filtered 0.05
	assert.InDelta(t, 0.5+0.1*0.5+0.05*0.05, u, tolerance)
	assert.False(t, osc)

	st := c.State()
	assert.InDelta(t, 0.5, st.Integral, tolerance)
	assert.InDelta(t, 0.05, st.Derivative, tolerance)
	assert.Equal(t, 1, st.Calls)
}

func TestCompute_WorkedExample(t *testing.T) {
	c := newTestController(t)
	// Prior state chosen so the step lands on error=0.25, integral=0.75,
	// filtered derivative=0.085.
	c.prevError = -0.6
	c.integral = 0.5
	c.derivative = 0

	u, _ := c.Compute(0.85, 0.60)

	st := c.State()
	assert.InDelta(t, 0.25, st.Error, tolerance)
	assert.InDelta(t, 0.75, st.Integral, tolerance)
	assert.InDelta(t, 0.085, st.Derivative, tolerance)
	assert.InDelta(t, 0.32925, u, tolerance)
}

func TestCompute_PVSequence(t *testing.T) {
	c := newTestController(t)

	want := []float64{0.27625, 0.356375, 0.2204875}
	for i, pv := range []float64{0.60, 0.55, 0.70} {
		u, _ := c.Compute(0.85, pv)
		assert.InDelta(t, want[i], u, tolerance, "call %d", i+1)
	}
	assert.InDelta(t, 0.70, c.State().Integral, tolerance)
}

func TestCompute_AntiWindup(t *testing.T) {
	c := newTestController(t)

	for i := 0; i < 200; i++ {
		c.Compute(10.0, 0.0)
	}
	assert.InDelta(t, 10.0, c.State().Integral, tolerance)

	// A reversal pulls the integral back inside immediately; the clamped
	// excess was discarded, not banked.
	c.Compute(0.0, 1.0)
	assert.InDelta(t, 9.0, c.State().Integral, tolerance)
}

func TestCompute_ClampingInvariant(t *testing.T) {
	c := newTestController(t, func(c *Config) {
		c.IntegralMin, c.IntegralMax = -2, 3
		c.ControlMin, c.ControlMax = -1.5, 1.5
		c.Kp, c.Ki, c.Kd = 4, 2, 3
	})
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		sp := rng.Float64()*20 - 10
		pv := rng.Float64()*20 - 10
		u, _ := c.Compute(sp, pv)

		st := c.State()
		require.GreaterOrEqual(t, st.Integral, -2.0)
		require.LessOrEqual(t, st.Integral, 3.0)
		require.GreaterOrEqual(t, u, -1.5)
		require.LessOrEqual(t, u, 1.5)
	}
}

func TestCompute_Deadband(t *testing.T) {
	c := newTestController(t, func(c *Config) { c.Ki, c.Kd = 0, 0 })

	u, _ := c.Compute(0.85, 0.82)
	assert.Equal(t, 0.0, u)

	u, _ = c.Compute(0.85, 0.70)
	assert.InDelta(t, 0.15, u, tolerance)
}

func TestCompute_OscillationDetected(t *testing.T) {
	c := newTestController(t)

	var osc bool
	for i, pv := range []float64{0.3, 0.7, 0.3, 0.7, 0.3} {
		_, osc = c.Compute(0.5, pv)
		if i < 4 {
			assert.False(t, osc, "window not yet full at call %d", i+1)
		}
	}
	assert.True(t, osc)
	assert.True(t, c.Oscillating())
}

func TestCompute_MonotonicErrorsDoNotOscillate(t *testing.T) {
	c := newTestController(t)

	var osc bool
	for _, pv := range []float64{0.35, 0.45, 0.55, 0.65, 0.75} {
		_, osc = c.Compute(0.85, pv)
	}
	assert.False(t, osc)
}

func TestDetectOscillation(t *testing.T) {
	tests := []struct {
		name   string
		errors []float64
		want   bool
	}{
		{"four crossings", []float64{0.2, -0.2, 0.2, -0.2, 0.2}, true},
		{"three crossings", []float64{0.2, -0.2, 0.2, -0.2, -0.3}, true},
		{"two crossings", []float64{0.2, -0.2, 0.2, 0.3, 0.3}, false},
		{"small amplitude", []float64{0.05, -0.05, 0.05, -0.05, 0.05}, false},
		{"monotonic decreasing", []float64{0.5, 0.4, 0.3, 0.2, 0.1}, false},
		{"short window", []float64{0.2, -0.2, 0.2}, false},
		{"uses last window only", []float64{9, -9, 0.5, 0.4, 0.3, 0.2, 0.1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectOscillation(tt.errors, 5, 0.15))
		})
	}
}

func TestTune(t *testing.T) {
	c := newTestController(t)
	c.Compute(0.85, 0.5)
	before := c.State().Integral

	require.NoError(t, c.Tune(0.5, 0.05, 0.01))
	assert.Equal(t, 0.5, c.Config().Kp)
	assert.Equal(t, before, c.State().Integral)

	err := c.Tune(math.Inf(1), 0, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 0.5, c.Config().Kp)
}

func TestState_ReturnsCopy(t *testing.T) {
	c := newTestController(t)
	c.Compute(0.85, 0.5)

	st := c.State()
	st.Window[0] = 99

	assert.NotEqual(t, 99.0, c.State().Window[0])
}
