// Package policy turns controller output into collaborator parameters and
// decides the quality bar a change must clear to be merged.
//
// Nothing here is calibrated law. The schedule and bands are configuration,
// and Policy is an interface so the loop can run under a different mapping.
package policy

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned for unusable schedules or bands.
var ErrInvalidConfig = errors.New("invalid policy configuration")

// Params is the per-iteration collaborator configuration. It is a value
// type: Adjust returns a new Params and never mutates its input.
type Params struct {
	// Temperature is the generator's sampling temperature.
	Temperature float64 `koanf:"temperature" json:"temperature"`

	// PlannerTemperature is the planner's sampling temperature.
	PlannerTemperature float64 `koanf:"planner_temperature" json:"planner_temperature"`

	// Strictness in [0,1] tells the reviewer how hard to look.
	Strictness float64 `koanf:"strictness" json:"strictness"`

	// Damped is set when this snapshot was produced under oscillation.
	Damped bool `koanf:"-" json:"damped,omitempty"`
}

// DefaultParams returns the starting parameters.
func DefaultParams() Params {
	return Params{
		Temperature:        0.5,
		PlannerTemperature: 0.7,
		Strictness:         0.5,
	}
}

// Policy maps loop state to thresholds and parameter adjustments.
type Policy interface {
	// Threshold returns the minimum PV a change needs to be merged at
	// iteration.
	Threshold(iteration int) float64

	// Adjust returns the parameters for the next iteration.
	Adjust(current Params, control float64, oscillating bool) Params
}

// Step is one stage of a progressive schedule: iterations up to and
// including Through require Threshold.
type Step struct {
	Through   int     `koanf:"through" json:"through"`
	Threshold float64 `koanf:"threshold" json:"threshold"`
}

// Schedule is a progressive merge threshold.
type Schedule struct {
	Steps []Step `koanf:"steps" json:"steps"`

	// Final applies after the last step.
	Final float64 `koanf:"final" json:"final"`
}

// DefaultSchedule is lenient early and strict late.
func DefaultSchedule() Schedule {
	return Schedule{
		Steps: []Step{
			{Through: 5, Threshold: 0.25},
			{Through: 15, Threshold: 0.45},
		},
		Final: 0.65,
	}
}

// At returns the threshold for iteration.
func (s Schedule) At(iteration int) float64 {
	for _, st := range s.Steps {
		if iteration <= st.Through {
			return st.Threshold
		}
	}
	return s.Final
}

// Validate checks that steps are ordered and thresholds never decrease.
func (s Schedule) Validate() error {
	var errs []error
	prevThrough, prevThreshold := 0, 0.0
	for i, st := range s.Steps {
		if st.Through <= prevThrough {
			errs = append(errs, fmt.Errorf("schedule step %d: through must exceed %d, got %d", i, prevThrough, st.Through))
		}
		if !inUnit(st.Threshold) {
			errs = append(errs, fmt.Errorf("schedule step %d: threshold must be in [0, 1], got %g", i, st.Threshold))
		}
		if st.Threshold < prevThreshold {
			errs = append(errs, fmt.Errorf("schedule step %d: threshold %g below previous %g", i, st.Threshold, prevThreshold))
		}
		prevThrough, prevThreshold = st.Through, st.Threshold
	}
	if !inUnit(s.Final) {
		errs = append(errs, fmt.Errorf("schedule final threshold must be in [0, 1], got %g", s.Final))
	}
	if s.Final < prevThreshold {
		errs = append(errs, fmt.Errorf("schedule final threshold %g below previous %g", s.Final, prevThreshold))
	}
	return errors.Join(errs...)
}

// Bands configure how control output moves parameters. Control above
// Tighten lowers temperature and raises strictness; control below Relax
// does the opposite; in between nothing changes.
type Bands struct {
	Tighten float64 `koanf:"tighten" json:"tighten"`
	Relax   float64 `koanf:"relax" json:"relax"`

	TemperatureStep float64 `koanf:"temperature_step" json:"temperature_step"`
	MinTemperature  float64 `koanf:"min_temperature" json:"min_temperature"`
	MaxTemperature  float64 `koanf:"max_temperature" json:"max_temperature"`

	StrictnessStep float64 `koanf:"strictness_step" json:"strictness_step"`

	// DampingFactor scales both steps while the controller oscillates.
	DampingFactor float64 `koanf:"damping_factor" json:"damping_factor"`
}

// DefaultBands returns the default mapping.
func DefaultBands() Bands {
	return Bands{
		Tighten:         0.3,
		Relax:           -0.3,
		TemperatureStep: 0.2,
		MinTemperature:  0.1,
		MaxTemperature:  1.0,
		StrictnessStep:  0.1,
		DampingFactor:   0.5,
	}
}

// Validate checks band ordering and step sizes.
func (b Bands) Validate() error {
	var errs []error
	if b.Relax > b.Tighten {
		errs = append(errs, fmt.Errorf("relax (%g) must not exceed tighten (%g)", b.Relax, b.Tighten))
	}
	if b.TemperatureStep < 0 || b.StrictnessStep < 0 {
		errs = append(errs, errors.New("steps must be >= 0"))
	}
	if b.MinTemperature < 0 || b.MinTemperature > b.MaxTemperature {
		errs = append(errs, fmt.Errorf("temperature range [%g, %g] is invalid", b.MinTemperature, b.MaxTemperature))
	}
	if b.DampingFactor <= 0 || b.DampingFactor > 1 {
		errs = append(errs, fmt.Errorf("damping_factor must be in (0, 1], got %g", b.DampingFactor))
	}
	return errors.Join(errs...)
}

// Progressive is the default Policy.
type Progressive struct {
	schedule Schedule
	bands    Bands
}

// New validates the schedule and bands.
func New(schedule Schedule, bands Bands) (*Progressive, error) {
	if err := errors.Join(schedule.Validate(), bands.Validate()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &Progressive{schedule: schedule, bands: bands}, nil
}

// Threshold implements Policy.
func (p *Progressive) Threshold(iteration int) float64 {
	return p.schedule.At(iteration)
}

// Adjust implements Policy. Positive control means PV is below target, so
// generation becomes more conservative and review stricter.
func (p *Progressive) Adjust(current Params, control float64, oscillating bool) Params {
	next := current
	next.Damped = oscillating

	scale := 1.0
	if oscillating {
		scale = p.bands.DampingFactor
	}
	tempStep := p.bands.TemperatureStep * scale
	strictStep := p.bands.StrictnessStep * scale

	switch {
	case control > p.bands.Tighten:
		next.Temperature -= tempStep
		next.PlannerTemperature -= tempStep
		next.Strictness += strictStep
	case control < p.bands.Relax:
		next.Temperature += tempStep
		next.PlannerTemperature += tempStep
		next.Strictness -= strictStep
	}

	next.Temperature = clamp(next.Temperature, p.bands.MinTemperature, p.bands.MaxTemperature)
	next.PlannerTemperature = clamp(next.PlannerTemperature, p.bands.MinTemperature, p.bands.MaxTemperature)
	next.Strictness = clamp(next.Strictness, 0, 1)
	return next
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
