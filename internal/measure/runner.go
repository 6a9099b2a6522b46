package measure

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// TestRunner executes the workspace's test suite.
type TestRunner interface {
	Run(ctx context.Context, dir string) (TestResults, error)
}

// DefaultTestCommand runs the Go test suite with machine-readable output.
var DefaultTestCommand = []string{"go", "test", "-json", "./..."}

// CommandTestRunner runs a command that emits `go test -json` events and
// counts per-test outcomes. A non-zero exit is expected when tests fail and
// is only an error if no events were read.
type CommandTestRunner struct {
	Command []string
	Timeout time.Duration
}

// testEvent is the subset of test2json output we need.
type testEvent struct {
	Action string `json:"Action"`
	Test   string `json:"Test"`
}

// Run implements TestRunner.
func (r *CommandTestRunner) Run(ctx context.Context, dir string) (TestResults, error) {
	args := r.Command
	if len(args) == 0 {
		args = DefaultTestCommand
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res, events := ParseTestEvents(&stdout)

	if runErr != nil && events == 0 {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return TestResults{}, fmt.Errorf("test command failed: %w: %s", runErr, firstLine(stderr.Bytes()))
		}
		return TestResults{}, fmt.Errorf("failed to run tests: %w", runErr)
	}
	return res, nil
}

// ParseTestEvents counts pass, fail and skip actions of named tests in a
// test2json stream. Non-JSON lines are ignored. It also returns how many
// events were decoded.
func ParseTestEvents(r io.Reader) (TestResults, int) {
	var res TestResults
	events := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev testEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events++
		if ev.Test == "" {
			continue
		}
		switch ev.Action {
		case "pass":
			res.Passed++
		case "fail":
			res.Failed++
		case "skip":
			res.Skipped++
		default:
			continue
		}
		res.Total++
	}
	return res, events
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
