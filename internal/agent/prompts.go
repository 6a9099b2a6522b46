package agent

import (
	"fmt"
	"strings"
)

func planPrompt(req PlanRequest) string {
	var b strings.Builder
	b.WriteString("You are the product planner for an iterative code-generation loop.\n\n")
	fmt.Fprintf(&b, "Project goal:\n%s\n\n", req.Goal)
	fmt.Fprintf(&b, "Current iteration: %d\n\n", req.Iteration)

	b.WriteString("Completed tasks:\n")
	if len(req.Completed) == 0 {
		b.WriteString("None yet.\n")
	}
	for _, t := range req.Completed {
		fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Title)
	}

	summary := req.Summary
	if summary == "" {
		summary = "Empty - no code exists yet."
	}
	fmt.Fprintf(&b, "\nCurrent workspace:\n%s\n\n", summary)

	b.WriteString(`Break the goal into 3-5 concrete, independently implementable tasks,
ordered by dependency. Reply with a single JSON object:
{"tasks": [{"id": "TASK-001", "title": "...", "description": "...",
"priority": "high|medium|low", "acceptance_criteria": ["..."]}],
"reasoning": "why these tasks, in this order"}
`)
	return b.String()
}

func generatePrompt(req GenerateRequest) string {
	var b strings.Builder
	b.WriteString("You are a senior software engineer implementing one task.\n\n")
	fmt.Fprintf(&b, "Project goal:\n%s\n\n", req.Goal)
	fmt.Fprintf(&b, "Task %s: %s\n%s\n", req.Task.ID, req.Task.Title, req.Task.Description)
	if len(req.Task.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range req.Task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	b.WriteString("\nCurrent workspace:\n")
	b.WriteString(workspaceListing(req.Workspace))

	b.WriteString(`
Write complete, working code. No stubs or placeholders.
Reply with a single JSON object:
{"patch": "<unified diff against the workspace root>",
"files_created": ["..."], "files_modified": ["..."],
"risks": [{"severity": "high|medium|low", "description": "...", "mitigation": "..."}],
"implementation_notes": "..."}
New files use "--- /dev/null" and "+++ b/path". Existing files need exact
context lines.
`)
	return b.String()
}

func reviewPrompt(req ReviewRequest) string {
	var b strings.Builder
	b.WriteString("You are the quality reviewer for an iterative code-generation loop.\n\n")
	fmt.Fprintf(&b, "Project goal:\n%s\n\n", req.Goal)
	b.WriteString(toleranceFor(req.Iteration))
	fmt.Fprintf(&b, "\nReview strictness: %.2f (0 lenient, 1 strict)\n", req.Params.Strictness)

	b.WriteString("\nPatch:\n")
	b.WriteString(truncateLines(req.Patch, 200))

	if len(req.Risks) > 0 {
		b.WriteString("\nRisks flagged by the author:\n")
		for _, r := range req.Risks {
			fmt.Fprintf(&b, "- [%s] %s\n", r.Severity, r.Description)
		}
	}

	b.WriteString("\nCurrent workspace:\n")
	b.WriteString(workspaceListing(req.Workspace))

	b.WriteString(`
Reply with a single JSON object:
{"verdict": "pass|fail",
"issues": [{"severity": "critical|high|medium|low", "type": "bug|style|test",
"description": "...", "location": "file:line", "suggestion": "..."}],
"quality_score": <number between 0 and 1>}
`)
	return b.String()
}

// toleranceFor relaxes review expectations in early iterations.
func toleranceFor(iteration int) string {
	switch {
	case iteration <= 5:
		return "Early iteration: incomplete setup is normal. Reject only critical defects.\n"
	case iteration <= 15:
		return "Mid development: core functionality and basic tests are expected.\n"
	default:
		return "Final polish: apply professional standards. Missing tests and obvious bugs fail.\n"
	}
}

// workspaceListing returns the first files of the workspace with their
// content, bounded by maxPromptFiles and maxPromptChars.
func workspaceListing(ws View) string {
	if ws == nil {
		return "Empty - starting from scratch.\n"
	}
	files, err := ws.SourceFiles()
	if err != nil {
		return fmt.Sprintf("Unreadable workspace: %v\n", err)
	}
	if len(files) == 0 {
		return "Empty - starting from scratch.\n"
	}

	var b strings.Builder
	budget := maxPromptChars
	for i, f := range files {
		if i == maxPromptFiles {
			fmt.Fprintf(&b, "... and %d more files\n", len(files)-maxPromptFiles)
			break
		}
		data, err := ws.ReadFile(f)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n", f)
		if budget <= 0 {
			b.WriteString("(content omitted)\n")
			continue
		}
		content := string(data)
		if len(content) > budget {
			content = content[:budget] + "\n..."
		}
		budget -= len(content)
		b.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func truncateLines(s string, n int) string {
	lines := strings.SplitAfter(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "") + fmt.Sprintf("... (%d more lines)\n", len(lines)-n)
}
