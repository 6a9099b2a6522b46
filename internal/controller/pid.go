package controller

import (
	"fmt"
	"math"
)

// State is a read-only snapshot of the controller after its last call.
type State struct {
	Error      float64   `json:"error"`
	PrevError  float64   `json:"prev_error"`
	Integral   float64   `json:"integral"`
	Derivative float64   `json:"derivative"`
	Control    float64   `json:"control"`
	Calls      int       `json:"calls"`
	Window     []float64 `json:"window"`
}

// Controller is a discrete PID controller with anti-windup, a filtered
// derivative, deadband and oscillation detection.
//
// A Controller is owned by a single loop and is not safe for concurrent use.
type Controller struct {
	cfg Config

	prevError  float64
	integral   float64
	derivative float64
	lastError  float64
	control    float64
	calls      int

	// window is a ring of the most recent errors, oldest first once full.
	window []float64
}

// New validates cfg and returns a zero-state controller.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:    cfg,
		window: make([]float64, 0, cfg.OscillationWindow),
	}, nil
}

// Compute advances the controller by one step and returns the control signal
// and whether the recent error history is oscillating.
func (c *Controller) Compute(setpoint, pv float64) (control float64, oscillating bool) {
	e := setpoint - pv

	c.integral = clamp(c.integral+e*c.cfg.Dt, c.cfg.IntegralMin, c.cfg.IntegralMax)

	raw := (e - c.prevError) / c.cfg.Dt
	a := c.cfg.DerivativeAlpha
	c.derivative = a*raw + (1-a)*c.derivative

	u := c.cfg.Kp*e + c.cfg.Ki*c.integral + c.cfg.Kd*c.derivative
	u = clamp(u, c.cfg.ControlMin, c.cfg.ControlMax)
	u = applyDeadband(u, c.cfg.Deadband)

	c.push(e)
	c.lastError = e
	c.prevError = e
	c.control = u
	c.calls++

	return u, c.oscillating()
}

// Oscillating reports the oscillation flag for the current window without
// advancing the controller.
func (c *Controller) Oscillating() bool {
	return c.oscillating()
}

// State returns a copy of the controller's internal state.
func (c *Controller) State() State {
	w := make([]float64, len(c.window))
	copy(w, c.window)
	return State{
		Error:      c.lastError,
		PrevError:  c.prevError,
		Integral:   c.integral,
		Derivative: c.derivative,
		Control:    c.control,
		Calls:      c.calls,
		Window:     w,
	}
}

// Config returns the active configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Tune replaces the gains. Accumulated state is kept.
func (c *Controller) Tune(kp, ki, kd float64) error {
	next := c.cfg
	next.Kp, next.Ki, next.Kd = kp, ki, kd
	if err := next.Validate(); err != nil {
		return fmt.Errorf("tune: %w", err)
	}
	c.cfg = next
	return nil
}

func (c *Controller) push(e float64) {
	if len(c.window) == c.cfg.OscillationWindow {
		copy(c.window, c.window[1:])
		c.window = c.window[:len(c.window)-1]
	}
	c.window = append(c.window, e)
}

func (c *Controller) oscillating() bool {
	return DetectOscillation(c.window, c.cfg.OscillationWindow, c.cfg.OscillationThreshold)
}

// DetectOscillation reports whether the last window entries of errs
// cross zero at least ceil(window/2) times with an amplitude above
// threshold.
func DetectOscillation(errs []float64, window int, threshold float64) bool {
	if window < 2 || len(errs) < window {
		return false
	}
	recent := errs[len(errs)-window:]

	crossings := 0
	lo, hi := recent[0], recent[0]
	for i := 1; i < len(recent); i++ {
		if recent[i]*recent[i-1] < 0 {
			crossings++
		}
		lo = math.Min(lo, recent[i])
		hi = math.Max(hi, recent[i])
	}

	need := (window + 1) / 2
	return crossings >= need && hi-lo > threshold
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func applyDeadband(v, band float64) float64 {
	if math.Abs(v) < band {
		return 0
	}
	return v
}
