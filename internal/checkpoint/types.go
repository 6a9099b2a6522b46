package checkpoint

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

var (
	// ErrNotFound is returned for an unknown checkpoint ID.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("checkpoint store is closed")
)

// Checkpoint describes one stored snapshot.
type Checkpoint struct {
	// ID is derived from the iteration, e.g. "iter-0003".
	ID string `json:"id"`

	// Iteration is the loop iteration that produced the snapshot. The
	// baseline taken before the first iteration is 0.
	Iteration int `json:"iteration"`

	// PV is the process value measured for this snapshot.
	PV float64 `json:"pv"`

	// Files and Bytes describe the snapshot size.
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`

	// Commit is the git commit recorded for this checkpoint, if any.
	Commit string `json:"commit,omitempty"`

	// Metadata carries free-form annotations. MetadataRunID names the run
	// that saved the checkpoint.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when this checkpoint was created.
	CreatedAt time.Time `json:"created_at"`
}

// MetadataRunID is the Metadata key holding the run ID.
const MetadataRunID = "run_id"

// RunID returns the run that saved c, or "" for checkpoints saved outside a
// run.
func (c *Checkpoint) RunID() string {
	return c.Metadata[MetadataRunID]
}

func (c *Checkpoint) clone() *Checkpoint {
	out := *c
	out.Metadata = maps.Clone(c.Metadata)
	return &out
}

// SaveOption annotates a checkpoint being saved.
type SaveOption func(*Checkpoint)

// ForRun stamps the checkpoint with runID. Automatic pruning after such a
// Save only considers checkpoints of the same run.
func ForRun(runID string) SaveOption {
	return func(cp *Checkpoint) {
		if cp.Metadata == nil {
			cp.Metadata = make(map[string]string, 1)
		}
		cp.Metadata[MetadataRunID] = runID
	}
}

// IDForIteration returns the checkpoint ID used for iteration.
func IDForIteration(iteration int) string {
	return fmt.Sprintf("iter-%04d", iteration)
}

// StorageError reports a failed filesystem operation. Save failures are
// recoverable: the caller skips the checkpoint and carries on.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
