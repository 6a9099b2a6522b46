// Package history persists one JSON record per loop iteration.
//
// The log is append-only: records are never rewritten, and ReadAll returns
// them in the order they were written.
package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fyrsmithlabs/cogpid/internal/policy"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("history log is closed")

// maxLineBytes bounds a single record when reading.
const maxLineBytes = 4 << 20

// Decision is what the loop did with an iteration's changes.
type Decision string

const (
	DecisionMerge    Decision = "merge"
	DecisionRollback Decision = "rollback"
	DecisionContinue Decision = "continue"
)

// Record is one iteration. Records are immutable once appended.
type Record struct {
	RunID     string `json:"run_id,omitempty"`
	Iteration int    `json:"iteration"`

	PV         float64            `json:"pv"`
	Components map[string]float64 `json:"components,omitempty"`
	BestPV     float64            `json:"best_pv"`

	Control     float64 `json:"control"`
	Oscillating bool    `json:"oscillating"`

	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`

	// Cost is spend during this iteration; TotalCost is the running ledger.
	Cost      float64 `json:"cost"`
	TotalCost float64 `json:"total_cost"`

	// Params are the collaborator parameters used for this iteration.
	Params policy.Params `json:"params"`

	// Error is set when a collaborator failed and the iteration was a no-op.
	Error string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Log appends records to a JSONL file.
type Log struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens path for appending, creating it and its directory as needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open history log: %w", err)
	}
	return &Log{file: f, path: path}, nil
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes r as one line and syncs it to disk.
func (l *Log) Append(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrClosed
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return l.file.Sync()
}

// Close closes the file. It is safe to call more than once.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadAll reads every record in path. A missing file yields no records.
// A torn final line, left by a crash mid-write, is ignored.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history log: %w", err)
	}
	defer f.Close()

	var (
		records []Record
		pending error
		line    int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		if pending != nil {
			return nil, pending
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			pending = fmt.Errorf("history line %d: %w", line, err)
			continue
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history log: %w", err)
	}
	return records, nil
}
