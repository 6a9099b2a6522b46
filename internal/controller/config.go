package controller

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned by New when the configuration cannot produce
// a well-defined controller.
var ErrInvalidConfig = errors.New("invalid controller configuration")

// Config holds controller gains, bounds and detector settings.
type Config struct {
	Kp float64 `koanf:"kp" json:"kp"`
	Ki float64 `koanf:"ki" json:"ki"`
	Kd float64 `koanf:"kd" json:"kd"`

	// Dt is the time step between calls. Must be > 0.
	Dt float64 `koanf:"dt" json:"dt"`

	// IntegralMin and IntegralMax bound the accumulated error (anti-windup).
	IntegralMin float64 `koanf:"integral_min" json:"integral_min"`
	IntegralMax float64 `koanf:"integral_max" json:"integral_max"`

	// ControlMin and ControlMax bound the output signal.
	ControlMin float64 `koanf:"control_min" json:"control_min"`
	ControlMax float64 `koanf:"control_max" json:"control_max"`

	// DerivativeAlpha is the low-pass coefficient in (0, 1].
	DerivativeAlpha float64 `koanf:"derivative_alpha" json:"derivative_alpha"`

	// OscillationWindow is the number of recent errors inspected.
	OscillationWindow int `koanf:"oscillation_window" json:"oscillation_window"`

	// OscillationThreshold is the minimum error amplitude (max-min) that
	// counts as oscillation.
	OscillationThreshold float64 `koanf:"oscillation_threshold" json:"oscillation_threshold"`

	// Deadband zeroes outputs with |control| below it. 0 disables.
	Deadband float64 `koanf:"deadband" json:"deadband"`
}

// DefaultConfig returns the gains and bounds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Kp:                   1.0,
		Ki:                   0.1,
		Kd:                   0.05,
		Dt:                   1.0,
		IntegralMin:          -10.0,
		IntegralMax:          10.0,
		ControlMin:           -5.0,
		ControlMax:           5.0,
		DerivativeAlpha:      0.1,
		OscillationWindow:    5,
		OscillationThreshold: 0.15,
		Deadband:             0.05,
	}
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error

	finite := []struct {
		name string
		v    float64
	}{
		{"kp", c.Kp}, {"ki", c.Ki}, {"kd", c.Kd}, {"dt", c.Dt},
		{"integral_min", c.IntegralMin}, {"integral_max", c.IntegralMax},
		{"control_min", c.ControlMin}, {"control_max", c.ControlMax},
		{"derivative_alpha", c.DerivativeAlpha}, {"deadband", c.Deadband},
		{"oscillation_threshold", c.OscillationThreshold},
	}
	for _, f := range finite {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			errs = append(errs, fmt.Errorf("%s must be finite", f.name))
		}
	}

	if c.Dt <= 0 {
		errs = append(errs, fmt.Errorf("dt must be > 0, got %g", c.Dt))
	}
	if c.IntegralMin > c.IntegralMax {
		errs = append(errs, fmt.Errorf("integral_min (%g) > integral_max (%g)", c.IntegralMin, c.IntegralMax))
	}
	if c.ControlMin > c.ControlMax {
		errs = append(errs, fmt.Errorf("control_min (%g) > control_max (%g)", c.ControlMin, c.ControlMax))
	}
	if c.DerivativeAlpha <= 0 || c.DerivativeAlpha > 1 {
		errs = append(errs, fmt.Errorf("derivative_alpha must be in (0, 1], got %g", c.DerivativeAlpha))
	}
	if c.OscillationWindow < 2 {
		errs = append(errs, fmt.Errorf("oscillation_window must be >= 2, got %d", c.OscillationWindow))
	}
	if c.OscillationThreshold < 0 {
		errs = append(errs, fmt.Errorf("oscillation_threshold must be >= 0, got %g", c.OscillationThreshold))
	}
	if c.Deadband < 0 {
		errs = append(errs, fmt.Errorf("deadband must be >= 0, got %g", c.Deadband))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
