package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/cogpid/internal/agent"
	"github.com/fyrsmithlabs/cogpid/internal/guard"
	"github.com/fyrsmithlabs/cogpid/internal/history"
	"github.com/fyrsmithlabs/cogpid/internal/measure"
	"github.com/fyrsmithlabs/cogpid/internal/workspace"
)

var (
	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("invalid loop configuration")

	// ErrAlreadyRun is returned when Run is called twice.
	ErrAlreadyRun = errors.New("loop has already run")
)

// State is a state of the run.
type State string

const (
	StateInit           State = "INIT"
	StateIterating      State = "ITERATING"
	StateConverged      State = "CONVERGED"
	StateBudgetExceeded State = "BUDGET_EXCEEDED"
	StateStagnated      State = "STAGNATED"
	StateMaxIterations  State = "MAX_ITERATIONS"
	StateHumanReview    State = "HUMAN_REVIEW"
	StateFinalized      State = "FINALIZED"
)

// Terminal reports whether s ends iteration.
func (s State) Terminal() bool {
	switch s {
	case StateConverged, StateBudgetExceeded, StateStagnated, StateMaxIterations, StateHumanReview:
		return true
	}
	return false
}

// stateForGuard maps a stopping guard to its terminal state.
func stateForGuard(k guard.Kind) State {
	switch k {
	case guard.KindBudget:
		return StateBudgetExceeded
	case guard.KindMaxIterations:
		return StateMaxIterations
	case guard.KindStagnation:
		return StateStagnated
	default:
		return StateHumanReview
	}
}

// Setpoint is the goal of a run. It does not change once the run starts.
type Setpoint struct {
	Goal     string  `json:"goal"`
	TargetPV float64 `json:"target_pv"`
}

// Config holds loop behavior not covered by the policy or guards.
type Config struct {
	// RollbackThreshold restores the best checkpoint when an unmerged
	// iteration measures below it.
	RollbackThreshold float64 `koanf:"rollback_threshold" json:"rollback_threshold"`

	// MaxTasksPerIteration bounds how many planned tasks are generated in
	// one cycle.
	MaxTasksPerIteration int `koanf:"max_tasks_per_iteration" json:"max_tasks_per_iteration"`

	// RestoreBestOnFinish restores the best checkpoint at FINALIZED when it
	// beats the last measured PV.
	RestoreBestOnFinish bool `koanf:"restore_best_on_finish" json:"restore_best_on_finish"`
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		RollbackThreshold:    0.3,
		MaxTasksPerIteration: 1,
		RestoreBestOnFinish:  true,
	}
}

// Validate checks the loop settings.
func (c Config) Validate() error {
	var errs []error
	if c.RollbackThreshold < 0 || c.RollbackThreshold > 1 {
		errs = append(errs, fmt.Errorf("rollback_threshold must be in [0, 1], got %g", c.RollbackThreshold))
	}
	if c.MaxTasksPerIteration < 1 {
		errs = append(errs, fmt.Errorf("max_tasks_per_iteration must be >= 1, got %d", c.MaxTasksPerIteration))
	}
	return errors.Join(errs...)
}

// Workspace is the live tree the loop mutates.
type Workspace interface {
	Root() string
	Snapshot(dst string) error
	ReplaceFrom(snapshotDir string) error
	SourceFiles() ([]string, error)
	ReadFile(rel string) ([]byte, error)
	Text(maxChars int) (string, error)
	Summarize() (workspace.Summary, error)
	ApplyPatch(patch string) (*workspace.PatchResult, error)
}

// Measurer computes the process value.
type Measurer interface {
	Compute(ctx context.Context, in measure.Input) measure.Measurement
}

// Controller turns PV into a control signal.
type Controller interface {
	Compute(setpoint, pv float64) (control float64, oscillating bool)
}

// Report is the outcome of a run. Status returns a partial one while the
// run is in progress.
type Report struct {
	RunID    string   `json:"run_id"`
	Setpoint Setpoint `json:"setpoint"`

	// State is the terminal state, or the current state while running.
	State  State  `json:"state"`
	Reason string `json:"reason"`

	Iterations int `json:"iterations"`

	// BestPV and BestIteration track the baseline and merged iterations
	// only, so BestIteration always names a checkpoint of this run unless
	// saving it failed.
	BestPV        float64 `json:"best_pv"`
	BestIteration int     `json:"best_iteration"`

	// FinalPV is the PV of the tree as left by the last iteration.
	FinalPV   float64 `json:"final_pv"`
	TotalCost float64 `json:"total_cost"`

	// Restored names the checkpoint restored at FINALIZED, if any.
	Restored string `json:"restored,omitempty"`

	CompletedTasks []agent.Task      `json:"completed_tasks"`
	History        []history.Record `json:"history"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
