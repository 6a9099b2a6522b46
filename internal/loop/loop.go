package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogpid/internal/agent"
	"github.com/fyrsmithlabs/cogpid/internal/checkpoint"
	"github.com/fyrsmithlabs/cogpid/internal/guard"
	"github.com/fyrsmithlabs/cogpid/internal/history"
	"github.com/fyrsmithlabs/cogpid/internal/logging"
	"github.com/fyrsmithlabs/cogpid/internal/measure"
	"github.com/fyrsmithlabs/cogpid/internal/policy"
	"github.com/fyrsmithlabs/cogpid/internal/workspace"
)

const instrumentationName = "github.com/fyrsmithlabs/cogpid/internal/loop"

// Deps are the collaborators of a run. TestRunner, History and Metrics are
// optional.
type Deps struct {
	Workspace   Workspace
	Checkpoints checkpoint.Service
	Measurer    Measurer
	TestRunner  measure.TestRunner
	Controller  Controller
	Policy      policy.Policy
	Guards      *guard.Set

	Planner   agent.Planner
	Generator agent.Generator
	Reviewer  agent.Reviewer
	Ledger    *agent.Ledger

	History *history.Log
	Metrics *Metrics
	Logger  *zap.Logger

	// Params are the first iteration's parameters. Zero means
	// policy.DefaultParams.
	Params policy.Params
}

// Loop is one refinement run.
type Loop struct {
	setpoint Setpoint
	cfg      Config
	deps     Deps
	logger   *zap.Logger
	tracer   trace.Tracer
	runID    string

	started  atomic.Bool
	stopping atomic.Bool

	// Owned by the Run goroutine.
	params    policy.Params
	pvs       []float64
	completed []agent.Task

	// Guarded by mu; read by Status.
	mu        sync.Mutex
	state     State
	reason    string
	records   []history.Record
	lastPV    float64
	bestPV    float64
	bestIter  int
	startedAt time.Time
}

// New validates the configuration and dependencies.
func New(sp Setpoint, cfg Config, deps Deps) (*Loop, error) {
	var errs []error
	if strings.TrimSpace(sp.Goal) == "" {
		errs = append(errs, errors.New("goal is required"))
	}
	if sp.TargetPV <= 0 || sp.TargetPV > 1 {
		errs = append(errs, fmt.Errorf("target_pv must be in (0, 1], got %g", sp.TargetPV))
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	required := []struct {
		name string
		ok   bool
	}{
		{"workspace", deps.Workspace != nil},
		{"checkpoints", deps.Checkpoints != nil},
		{"measurer", deps.Measurer != nil},
		{"controller", deps.Controller != nil},
		{"policy", deps.Policy != nil},
		{"guards", deps.Guards != nil},
		{"planner", deps.Planner != nil},
		{"generator", deps.Generator != nil},
		{"reviewer", deps.Reviewer != nil},
	}
	for _, r := range required {
		if !r.ok {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	if deps.Ledger == nil {
		deps.Ledger = &agent.Ledger{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	params := deps.Params
	if params == (policy.Params{}) {
		params = policy.DefaultParams()
	}

	return &Loop{
		setpoint: sp,
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		runID:    uuid.NewString(),
		params:   params,
		state:    StateInit,
	}, nil
}

// RunID identifies this run in logs, history and checkpoint metadata.
func (l *Loop) RunID() string {
	return l.runID
}

// Stop asks the run to end at the next iteration boundary with
// HUMAN_REVIEW.
func (l *Loop) Stop() {
	l.stopping.Store(true)
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Status returns a snapshot of the run so far.
func (l *Loop) Status() Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reportLocked()
}

func (l *Loop) reportLocked() Report {
	return Report{
		RunID:          l.runID,
		Setpoint:       l.setpoint,
		State:          l.state,
		Reason:         l.reason,
		Iterations:     len(l.records),
		BestPV:         l.bestPV,
		BestIteration:  l.bestIter,
		FinalPV:        l.lastPV,
		TotalCost:      l.deps.Ledger.Total().CostUSD,
		CompletedTasks: append([]agent.Task(nil), l.completed...),
		History:        append([]history.Record(nil), l.records...),
		StartedAt:      l.startedAt,
	}
}

func (l *Loop) setState(s State, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state, l.reason = s, reason
}

// Run drives the state machine to FINALIZED. It always returns a report
// unless the loop has already run.
func (l *Loop) Run(ctx context.Context) (*Report, error) {
	if !l.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	ctx = logging.WithRunID(ctx, l.runID)
	log := l.logger.With(logging.ContextFields(ctx)...)

	l.mu.Lock()
	l.startedAt = time.Now().UTC()
	l.mu.Unlock()

	log.Info("run started",
		zap.String("goal", l.setpoint.Goal),
		zap.Float64("target_pv", l.setpoint.TargetPV))

	l.baseline(ctx, log)
	l.setState(StateIterating, "")

	var terminal State
	var reason string
	for n := 1; ; n++ {
		if l.stopping.Load() {
			terminal, reason = StateHumanReview, "stop requested"
			break
		}
		if err := ctx.Err(); err != nil {
			terminal, reason = StateHumanReview, fmt.Sprintf("run cancelled: %v", err)
			break
		}
		if terminal, reason = l.iterate(ctx, n); terminal != "" {
			break
		}
	}

	l.setState(terminal, reason)
	if l.deps.Metrics != nil {
		l.deps.Metrics.TerminationTotal.WithLabelValues(string(terminal)).Inc()
	}
	log.Info("run terminated", zap.String("state", string(terminal)), zap.String("reason", reason))

	return l.finalize(context.WithoutCancel(ctx), log, terminal, reason), nil
}

// baseline measures the untouched workspace and saves it as iteration 0 so
// a rollback always has a target.
func (l *Loop) baseline(ctx context.Context, log *zap.Logger) {
	m := l.measure(ctx, log)
	l.mu.Lock()
	l.lastPV, l.bestPV, l.bestIter = m.PV, m.PV, 0
	l.mu.Unlock()

	if _, err := l.deps.Checkpoints.Save(ctx, l.deps.Workspace, 0, m.PV, checkpoint.ForRun(l.runID)); err != nil {
		log.Warn("checkpoint skipped", zap.Int("iteration", 0), zap.Error(err))
	}
	log.Info("baseline measured", zap.Float64("pv", m.PV), zap.Any("components", m.Components))
}

// work is what the collaborators produced in one iteration.
type work struct {
	tasks  []agent.Task
	patch  string
	review agent.Review
}

// iterate runs one cycle. It returns a terminal state when the run must
// end. The cycle ignores cancellation of ctx so it always completes.
func (l *Loop) iterate(parent context.Context, n int) (State, string) {
	ctx := logging.WithIteration(context.WithoutCancel(parent), n)
	ctx, span := l.tracer.Start(ctx, "loop.iteration", trace.WithAttributes(attribute.Int("iteration", n)))
	defer span.End()
	log := l.logger.With(logging.ContextFields(ctx)...)

	began := time.Now()
	params := l.params
	costBefore := l.deps.Ledger.Total().CostUSD
	rec := history.Record{RunID: l.runID, Iteration: n, Params: params}

	w, err := l.collaborate(ctx, n, params)
	if err != nil {
		// No measurement this cycle: carry the last PV so stagnation and
		// budget still advance.
		l.mu.Lock()
		rec.PV = l.lastPV
		l.mu.Unlock()
		rec.Decision = history.DecisionContinue
		rec.Error = err.Error()
		l.pvs = append(l.pvs, rec.PV)
		log.Warn("iteration failed, skipping to guards", zap.Error(err))
		return l.finishIteration(ctx, log, &rec, costBefore, false, began)
	}

	var (
		result   *workspace.PatchResult
		patchErr error
	)
	pre, cleanup, err := l.stage(w.patch)
	if err != nil {
		patchErr = fmt.Errorf("staging workspace: %w", err)
	} else {
		defer cleanup()
		result, patchErr = l.deps.Workspace.ApplyPatch(w.patch)
	}
	changed := patchErr == nil && result.Changed()
	if patchErr != nil {
		log.Warn("patch discarded", zap.Error(patchErr))
	} else if changed {
		log.Info("patch applied",
			zap.Strings("created", result.FilesCreated),
			zap.Strings("modified", result.FilesModified),
			zap.Strings("deleted", result.FilesDeleted),
			zap.Int("lines_added", result.LinesAdded),
			zap.Int("lines_removed", result.LinesRemoved))
	}

	m := l.measure(ctx, log)
	control, oscillating := l.deps.Controller.Compute(l.setpoint.TargetPV, m.PV)
	l.params = l.deps.Policy.Adjust(params, control, oscillating)
	threshold := l.deps.Policy.Threshold(n)

	rec.PV, rec.Components = m.PV, m.Components
	rec.Control, rec.Oscillating = control, oscillating
	l.pvs = append(l.pvs, m.PV)

	span.SetAttributes(
		attribute.Float64("pv", m.PV),
		attribute.Float64("control", control),
		attribute.Bool("oscillating", oscillating),
	)

	rec.Decision, rec.Reason = decide(w.review, m.PV, threshold, l.cfg.RollbackThreshold)
	if patchErr != nil {
		rec.Reason = fmt.Sprintf("%s; patch discarded: %v", rec.Reason, patchErr)
	}
	log.Info("iteration measured",
		zap.Float64("pv", m.PV),
		zap.Float64("threshold", threshold),
		zap.Float64("control", control),
		zap.Bool("oscillating", oscillating),
		zap.String("verdict", string(w.review.Verdict)),
		zap.String("decision", string(rec.Decision)),
		zap.String("reason", rec.Reason))

	switch rec.Decision {
	case history.DecisionMerge:
		l.mu.Lock()
		l.lastPV = m.PV
		if m.PV >= l.bestPV {
			l.bestPV, l.bestIter = m.PV, n
		}
		l.mu.Unlock()
		if _, err := l.deps.Checkpoints.Save(ctx, l.deps.Workspace, n, m.PV, checkpoint.ForRun(l.runID)); err != nil {
			log.Warn("checkpoint skipped", zap.Error(err))
		}
		if changed {
			l.completed = append(l.completed, w.tasks...)
		}
	case history.DecisionRollback:
		if state, why := l.rollback(ctx, log); state != "" {
			rec.Reason = fmt.Sprintf("%s; %s", rec.Reason, why)
			l.finishIteration(ctx, log, &rec, costBefore, oscillating, began)
			return state, why
		}
	default:
		if !changed {
			l.mu.Lock()
			l.lastPV = m.PV
			l.mu.Unlock()
			break
		}
		// The tree goes back to what lastPV was measured on.
		if err := l.deps.Workspace.ReplaceFrom(pre); err != nil {
			log.Error("failed to revert unmerged patch", zap.Error(err))
			why := fmt.Sprintf("reverting unmerged patch failed: %v", err)
			rec.Reason = fmt.Sprintf("%s; %s", rec.Reason, why)
			l.finishIteration(ctx, log, &rec, costBefore, oscillating, began)
			return StateHumanReview, why
		}
		log.Info("unmerged patch reverted")
	}

	l.mu.Lock()
	kept := l.lastPV
	l.mu.Unlock()
	if rec.Decision != history.DecisionRollback && kept >= l.setpoint.TargetPV {
		l.finishIteration(ctx, log, &rec, costBefore, oscillating, began)
		return StateConverged, fmt.Sprintf("PV %.3f reached target %.3f", kept, l.setpoint.TargetPV)
	}

	return l.finishIteration(ctx, log, &rec, costBefore, oscillating, began)
}

// decide applies the merge rule: merge when the review passes and PV clears
// the progressive threshold; otherwise roll back below the rollback
// threshold; otherwise continue and take the patch back.
func decide(review agent.Review, pv, threshold, rollbackThreshold float64) (history.Decision, string) {
	switch {
	case review.Passed() && pv >= threshold:
		return history.DecisionMerge, fmt.Sprintf("review passed and PV %.3f >= threshold %.3f", pv, threshold)
	case pv < rollbackThreshold:
		return history.DecisionRollback, fmt.Sprintf("PV %.3f below rollback threshold %.3f", pv, rollbackThreshold)
	case !review.Passed():
		return history.DecisionContinue, "review did not pass"
	default:
		return history.DecisionContinue, fmt.Sprintf("PV %.3f below threshold %.3f", pv, threshold)
	}
}

// stage snapshots the tree before patch is applied so an unmerged patch can
// be taken back. An empty patch needs no snapshot.
func (l *Loop) stage(patch string) (string, func(), error) {
	if strings.TrimSpace(patch) == "" {
		return "", func() {}, nil
	}
	dir, err := os.MkdirTemp("", "cogpid-stage-")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	snap := filepath.Join(dir, "tree")
	if err := l.deps.Workspace.Snapshot(snap); err != nil {
		cleanup()
		return "", nil, err
	}
	return snap, cleanup, nil
}

// rollback restores the best checkpoint of this run. A failure means the
// workspace can no longer be trusted, so it returns HUMAN_REVIEW.
func (l *Loop) rollback(ctx context.Context, log *zap.Logger) (State, string) {
	best, ok := l.deps.Checkpoints.BestForRun(l.runID)
	if !ok {
		return StateHumanReview, "rollback required but no checkpoint exists"
	}
	if err := l.deps.Checkpoints.Restore(ctx, best.ID, l.deps.Workspace); err != nil {
		log.Error("rollback failed", zap.String("checkpoint_id", best.ID), zap.Error(err))
		return StateHumanReview, fmt.Sprintf("rollback to %s failed: %v", best.ID, err)
	}
	l.mu.Lock()
	l.lastPV = best.PV
	l.mu.Unlock()
	log.Info("rolled back", zap.String("checkpoint_id", best.ID), zap.Float64("pv", best.PV))
	return "", ""
}

// collaborate runs planner, generator and reviewer in sequence.
func (l *Loop) collaborate(ctx context.Context, n int, params policy.Params) (work, error) {
	ws := l.deps.Workspace

	summary := "workspace summary unavailable"
	if s, err := ws.Summarize(); err == nil {
		summary = s.String()
	}

	plan, err := l.deps.Planner.Call(ctx, agent.PlanRequest{
		Goal:      l.setpoint.Goal,
		Iteration: n,
		Completed: append([]agent.Task(nil), l.completed...),
		Summary:   summary,
		Params:    params,
	})
	if err != nil {
		return work{}, l.collaboratorFailed("planner", err)
	}

	tasks := plan.Tasks
	if len(tasks) > l.cfg.MaxTasksPerIteration {
		tasks = tasks[:l.cfg.MaxTasksPerIteration]
	}

	var (
		patches []string
		risks   []agent.Risk
	)
	for _, task := range tasks {
		gen, err := l.deps.Generator.Call(ctx, agent.GenerateRequest{
			Goal:      l.setpoint.Goal,
			Task:      task,
			Workspace: ws,
			Params:    params,
		})
		if err != nil {
			return work{}, l.collaboratorFailed("generator", err)
		}
		if strings.TrimSpace(gen.Patch) != "" {
			p := gen.Patch
			if !strings.HasSuffix(p, "\n") {
				p += "\n"
			}
			patches = append(patches, p)
		}
		risks = append(risks, gen.Risks...)
	}

	w := work{tasks: tasks, patch: strings.Join(patches, "")}
	if w.patch == "" {
		w.review = agent.Review{Verdict: agent.VerdictFail}
		return w, nil
	}

	w.review, err = l.deps.Reviewer.Call(ctx, agent.ReviewRequest{
		Goal:      l.setpoint.Goal,
		Iteration: n,
		Patch:     w.patch,
		Workspace: ws,
		Risks:     risks,
		Params:    params,
	})
	if err != nil {
		return work{}, l.collaboratorFailed("reviewer", err)
	}
	return w, nil
}

func (l *Loop) collaboratorFailed(name string, err error) error {
	if l.deps.Metrics != nil {
		l.deps.Metrics.FailuresTotal.WithLabelValues(name).Inc()
	}
	return fmt.Errorf("%s: %w", name, err)
}

// measure runs the tests, if configured, and computes PV.
func (l *Loop) measure(ctx context.Context, log *zap.Logger) measure.Measurement {
	var tests measure.TestResults
	if l.deps.TestRunner != nil {
		res, err := l.deps.TestRunner.Run(ctx, l.deps.Workspace.Root())
		if err != nil {
			log.Warn("test run failed", zap.Error(err))
		} else {
			tests = res
		}
	}
	return l.deps.Measurer.Compute(ctx, measure.Input{
		Goal:      l.setpoint.Goal,
		Workspace: l.deps.Workspace,
		Tests:     tests,
	})
}

// finishIteration appends the record, updates metrics and evaluates the
// guards.
func (l *Loop) finishIteration(ctx context.Context, log *zap.Logger, rec *history.Record, costBefore float64, oscillating bool, began time.Time) (State, string) {
	total := l.deps.Ledger.Total().CostUSD
	rec.Cost = total - costBefore
	rec.TotalCost = total
	rec.Timestamp = time.Now().UTC()

	l.mu.Lock()
	rec.BestPV = l.bestPV
	l.records = append(l.records, *rec)
	l.mu.Unlock()

	if l.deps.History != nil {
		if err := l.deps.History.Append(*rec); err != nil {
			log.Warn("failed to append iteration record", zap.Error(err))
		}
	}
	if m := l.deps.Metrics; m != nil {
		m.PV.Set(rec.PV)
		m.BestPV.Set(rec.BestPV)
		m.Control.Set(rec.Control)
		m.Temperature.Set(l.params.Temperature)
		m.CostUSD.Set(total)
		m.IterationsTotal.WithLabelValues(string(rec.Decision)).Inc()
		m.IterationSeconds.Observe(time.Since(began).Seconds())
	}

	stop, warnings := l.deps.Guards.Evaluate(guard.Snapshot{
		Iteration:   rec.Iteration,
		Cost:        total,
		PV:          rec.PV,
		History:     l.pvs,
		Oscillating: oscillating,
	})
	for _, w := range warnings {
		log.Warn(w.Message, zap.String("guard", string(w.Kind)), zap.Bool("damped", l.params.Damped))
	}
	if stop != nil {
		return stateForGuard(stop.Kind), stop.Message
	}
	return "", ""
}

// finalize restores the best checkpoint if configured and builds the
// report.
func (l *Loop) finalize(ctx context.Context, log *zap.Logger, terminal State, reason string) *Report {
	l.mu.Lock()
	final := l.lastPV
	l.mu.Unlock()

	restored := ""
	if l.cfg.RestoreBestOnFinish {
		if best, ok := l.deps.Checkpoints.BestForRun(l.runID); ok && best.PV > final {
			if err := l.deps.Checkpoints.Restore(ctx, best.ID, l.deps.Workspace); err != nil {
				log.Error("failed to restore best checkpoint", zap.String("checkpoint_id", best.ID), zap.Error(err))
			} else {
				restored = best.ID
				log.Info("restored best checkpoint", zap.String("checkpoint_id", best.ID), zap.Float64("pv", best.PV))
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	report := l.reportLocked()
	report.State, report.Reason = terminal, reason
	report.Restored = restored
	report.FinishedAt = time.Now().UTC()
	l.state = StateFinalized

	log.Info("run finalized",
		zap.String("state", string(terminal)),
		zap.Int("iterations", report.Iterations),
		zap.Float64("best_pv", report.BestPV),
		zap.Float64("final_pv", report.FinalPV),
		zap.Float64("total_cost", report.TotalCost))
	return &report
}
