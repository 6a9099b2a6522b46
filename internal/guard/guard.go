// Package guard implements the safety predicates evaluated after every loop
// iteration.
//
// Guards run in a fixed order and the first one that trips ends the run.
// Some guards only warn: the oscillation guard never stops the loop, it
// reports so the caller can damp its parameters.
package guard

import (
	"errors"
	"fmt"
)

// Kind identifies what tripped.
type Kind string

const (
	KindBudget        Kind = "budget"
	KindMaxIterations Kind = "max_iterations"
	KindStagnation    Kind = "stagnation"
	KindHumanReview   Kind = "human_review"
	KindOscillation   Kind = "oscillation"
)

// stagnationEpsilon absorbs float error when comparing improvement to delta.
const stagnationEpsilon = 1e-9

// ErrInvalidConfig is returned by NewSet for unusable thresholds.
var ErrInvalidConfig = errors.New("invalid guard configuration")

// Snapshot is the running state a guard inspects.
type Snapshot struct {
	// Iteration is the 1-based iteration that just completed.
	Iteration int

	// Cost is the total accrued cost including this iteration.
	Cost float64

	// PV is the process value measured this iteration.
	PV float64

	// History holds every PV so far, oldest first, including PV.
	History []float64

	// Oscillating is the controller's oscillation flag for this iteration.
	Oscillating bool
}

// Verdict is a guard's answer for one snapshot.
type Verdict struct {
	Kind Kind

	// Stop ends the run. Warn is informational.
	Stop bool
	Warn bool

	Message string
}

// Guard is a single safety predicate.
type Guard interface {
	Kind() Kind
	Check(s Snapshot) Verdict
}

// Budget trips once accrued cost reaches the ceiling.
type Budget struct {
	Ceiling float64
}

func (Budget) Kind() Kind { return KindBudget }

func (g Budget) Check(s Snapshot) Verdict {
	if s.Cost >= g.Ceiling {
		return Verdict{
			Kind:    KindBudget,
			Stop:    true,
			Message: fmt.Sprintf("budget exhausted: $%.2f of $%.2f spent", s.Cost, g.Ceiling),
		}
	}
	return Verdict{Kind: KindBudget}
}

// MaxIterations trips when the iteration count reaches Max.
type MaxIterations struct {
	Max int
}

func (MaxIterations) Kind() Kind { return KindMaxIterations }

func (g MaxIterations) Check(s Snapshot) Verdict {
	if s.Iteration >= g.Max {
		return Verdict{
			Kind:    KindMaxIterations,
			Stop:    true,
			Message: fmt.Sprintf("reached iteration limit %d", g.Max),
		}
	}
	return Verdict{Kind: KindMaxIterations}
}

// Stagnation trips when the best PV in the trailing window improves on the
// window's first value by no more than Delta.
type Stagnation struct {
	Window int
	Delta  float64
}

func (Stagnation) Kind() Kind { return KindStagnation }

func (g Stagnation) Check(s Snapshot) Verdict {
	if improvement, ok := Improvement(s.History, g.Window); ok && improvement <= g.Delta+stagnationEpsilon {
		return Verdict{
			Kind: KindStagnation,
			Stop: true,
			Message: fmt.Sprintf("PV improved by %.4f over the last %d iterations (minimum %.4f)",
				improvement, g.Window, g.Delta),
		}
	}
	return Verdict{Kind: KindStagnation}
}

// Improvement returns max(recent) - recent[0] over the last window values.
// ok is false while the history is shorter than the window.
func Improvement(history []float64, window int) (float64, bool) {
	if window <= 0 || len(history) < window {
		return 0, false
	}
	recent := history[len(history)-window:]
	best := recent[0]
	for _, v := range recent[1:] {
		best = max(best, v)
	}
	return best - recent[0], true
}

// HumanReview trips when PV drops below Threshold. Zero disables it.
type HumanReview struct {
	Threshold float64
}

func (HumanReview) Kind() Kind { return KindHumanReview }

func (g HumanReview) Check(s Snapshot) Verdict {
	if s.PV < g.Threshold {
		return Verdict{
			Kind:    KindHumanReview,
			Stop:    true,
			Message: fmt.Sprintf("PV %.3f below human-review threshold %.3f", s.PV, g.Threshold),
		}
	}
	return Verdict{Kind: KindHumanReview}
}

// Oscillation warns when the controller reports oscillation. It never stops
// the loop.
type Oscillation struct{}

func (Oscillation) Kind() Kind { return KindOscillation }

func (Oscillation) Check(s Snapshot) Verdict {
	if s.Oscillating {
		return Verdict{Kind: KindOscillation, Warn: true, Message: "controller output is oscillating"}
	}
	return Verdict{Kind: KindOscillation}
}

// Config holds the thresholds for the default guard set.
type Config struct {
	MaxBudgetUSD         float64 `koanf:"max_budget_usd" json:"max_budget_usd"`
	MaxIterations        int     `koanf:"max_iterations" json:"max_iterations"`
	StagnationWindow     int     `koanf:"stagnation_window" json:"stagnation_window"`
	StagnationDelta      float64 `koanf:"stagnation_delta" json:"stagnation_delta"`
	HumanReviewThreshold float64 `koanf:"human_review_threshold" json:"human_review_threshold"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxBudgetUSD:         10.0,
		MaxIterations:        50,
		StagnationWindow:     10,
		StagnationDelta:      0.01,
		HumanReviewThreshold: 0.05,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	var errs []error
	if c.MaxBudgetUSD <= 0 {
		errs = append(errs, fmt.Errorf("max_budget_usd must be > 0, got %g", c.MaxBudgetUSD))
	}
	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations))
	}
	if c.StagnationWindow < 2 {
		errs = append(errs, fmt.Errorf("stagnation_window must be >= 2, got %d", c.StagnationWindow))
	}
	if c.StagnationDelta < 0 {
		errs = append(errs, fmt.Errorf("stagnation_delta must be >= 0, got %g", c.StagnationDelta))
	}
	if c.HumanReviewThreshold < 0 || c.HumanReviewThreshold > 1 {
		errs = append(errs, fmt.Errorf("human_review_threshold must be in [0, 1], got %g", c.HumanReviewThreshold))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Set evaluates guards in order.
type Set struct {
	guards []Guard
}

// NewSet builds the standard ordering: budget, iteration cap, stagnation,
// human review, oscillation.
func NewSet(cfg Config) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewSetOf(
		Budget{Ceiling: cfg.MaxBudgetUSD},
		MaxIterations{Max: cfg.MaxIterations},
		Stagnation{Window: cfg.StagnationWindow, Delta: cfg.StagnationDelta},
		HumanReview{Threshold: cfg.HumanReviewThreshold},
		Oscillation{},
	), nil
}

// NewSetOf evaluates the given guards in the given order.
func NewSetOf(guards ...Guard) *Set {
	return &Set{guards: guards}
}

// Evaluate returns the first stopping verdict, if any, plus every warning
// raised by guards checked before it.
func (s *Set) Evaluate(snap Snapshot) (stop *Verdict, warnings []Verdict) {
	for _, g := range s.guards {
		v := g.Check(snap)
		if v.Stop {
			return &v, warnings
		}
		if v.Warn {
			warnings = append(warnings, v)
		}
	}
	return nil, warnings
}
