package agent

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/cogpid/internal/policy"
)

// View is the read-only workspace access collaborators get. The loop is the
// only writer.
type View interface {
	SourceFiles() ([]string, error)
	ReadFile(rel string) ([]byte, error)
	Text(maxChars int) (string, error)
}

// Task is one unit of work proposed by the planner.
type Task struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Priority           string   `json:"priority,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
}

// PlanRequest is the planner's input.
type PlanRequest struct {
	Goal      string
	Iteration int
	Completed []Task
	Summary   string
	Params    policy.Params
}

// Plan is the planner's output.
type Plan struct {
	Tasks     []Task `json:"tasks"`
	Reasoning string `json:"reasoning"`
}

// GenerateRequest is the generator's input.
type GenerateRequest struct {
	Goal      string
	Task      Task
	Workspace View
	Params    policy.Params
}

// Risk is a concern the generator flags about its own patch.
type Risk struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Mitigation  string `json:"mitigation,omitempty"`
}

// Generation is the generator's output. Patch is a unified diff relative to
// the workspace root.
type Generation struct {
	Patch         string   `json:"patch"`
	FilesCreated  []string `json:"files_created"`
	FilesModified []string `json:"files_modified"`
	Risks         []Risk   `json:"risks"`
	Notes         string   `json:"implementation_notes"`
}

// ReviewRequest is the reviewer's input.
type ReviewRequest struct {
	Goal      string
	Iteration int
	Patch     string
	Workspace View
	Risks     []Risk
	Params    policy.Params
}

// Verdict is the reviewer's pass/fail decision.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// Issue is a single review finding.
type Issue struct {
	Severity    string `json:"severity"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// Review is the reviewer's output. QualityScore is in [0,1].
type Review struct {
	Verdict      Verdict `json:"verdict"`
	Issues       []Issue `json:"issues"`
	QualityScore float64 `json:"quality_score"`
}

// Passed reports whether the verdict is pass.
func (r Review) Passed() bool {
	return r.Verdict == VerdictPass
}

// Usage is the spend of one collaborator call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Ledger accumulates spend. The total only grows.
type Ledger struct {
	mu    sync.Mutex
	total Usage
	calls int
}

// Charge adds u to the ledger. Negative costs are ignored.
func (l *Ledger) Charge(u Usage) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.total.InputTokens += max(u.InputTokens, 0)
	l.total.OutputTokens += max(u.OutputTokens, 0)
	l.total.CostUSD += max(u.CostUSD, 0)
}

// Total returns the accumulated spend.
func (l *Ledger) Total() Usage {
	if l == nil {
		return Usage{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Calls returns how many charges were recorded.
func (l *Ledger) Calls() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Collaborator is one content-generating capability.
type Collaborator[Req, Resp any] interface {
	Call(ctx context.Context, req Req) (Resp, error)
}

// Func adapts a function to Collaborator.
type Func[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Call implements Collaborator.
func (f Func[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

type (
	Planner   = Collaborator[PlanRequest, Plan]
	Generator = Collaborator[GenerateRequest, Generation]
	Reviewer  = Collaborator[ReviewRequest, Review]
)
