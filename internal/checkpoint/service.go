package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/cogpid/internal/checkpoint"

	metadataFile = "metadata.json"
	snapshotDir  = "workspace"
	tmpPrefix    = ".tmp-"
)

// Workspace is the live tree the store snapshots and restores.
type Workspace interface {
	Root() string
	Snapshot(dst string) error
	ReplaceFrom(snapshotDir string) error
}

// Recorder mirrors a saved checkpoint somewhere else, e.g. a git commit.
// It returns an identifier stored as Checkpoint.Commit.
type Recorder interface {
	Record(ctx context.Context, ws Workspace, cp *Checkpoint) (string, error)
}

// Service provides checkpoint management operations.
type Service interface {
	// Save snapshots ws as the checkpoint for iteration. Failures are
	// *StorageError and leave earlier checkpoints untouched.
	Save(ctx context.Context, ws Workspace, iteration int, pv float64, opts ...SaveOption) (*Checkpoint, error)

	// Restore replaces the live workspace with checkpoint id. On failure
	// the live workspace is unchanged.
	Restore(ctx context.Context, id string, ws Workspace) error

	// Best returns the highest-PV checkpoint, latest first on ties.
	Best() (*Checkpoint, bool)

	// BestForRun is Best restricted to the checkpoints saved with
	// ForRun(runID).
	BestForRun(runID string) (*Checkpoint, bool)

	// Get retrieves a checkpoint by ID.
	Get(id string) (*Checkpoint, error)

	// List returns all checkpoints ordered by iteration.
	List() []*Checkpoint

	// Prune removes all checkpoints except the best and the keepRecent most
	// recent by iteration. It returns how many were removed.
	Prune(keepRecent int) (int, error)

	// Close closes the service.
	Close() error
}

// Config configures the checkpoint store.
type Config struct {
	// Dir is where checkpoints are stored.
	Dir string `koanf:"dir" json:"dir"`

	// KeepRecent is applied by an automatic Prune after every Save.
	// Zero disables automatic pruning.
	KeepRecent int `koanf:"keep_recent" json:"keep_recent"`

	// Git records each checkpoint as a commit and tag when the workspace
	// is a git repository.
	Git bool `koanf:"git" json:"git"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:        ".cogpid/checkpoints",
		KeepRecent: 5,
	}
}

// Option configures the service.
type Option func(*service)

// WithRecorder sets the recorder, overriding Config.Git.
func WithRecorder(r Recorder) Option {
	return func(s *service) { s.recorder = r }
}

// service implements the Service interface.
type service struct {
	config   Config
	logger   *zap.Logger
	recorder Recorder

	// Telemetry
	tracer         trace.Tracer
	meter          metric.Meter
	saveCounter    metric.Int64Counter
	restoreCounter metric.Int64Counter
	pruneCounter   metric.Int64Counter

	mu     sync.RWMutex
	index  map[string]*Checkpoint
	closed bool
}

// NewService opens (or creates) the store at cfg.Dir and loads any
// checkpoints already there. Leftover temporary directories are removed.
func NewService(cfg Config, logger *zap.Logger, opts ...Option) (Service, error) {
	if cfg.Dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if cfg.KeepRecent < 0 {
		return nil, fmt.Errorf("keep_recent must be >= 0, got %d", cfg.KeepRecent)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	s := &service{
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
		index:  make(map[string]*Checkpoint),
	}
	if cfg.Git {
		s.recorder = NewGitRecorder(logger)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.initMetrics()

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.saveCounter, err = s.meter.Int64Counter(
		"cogpid.checkpoint.saves_total",
		metric.WithDescription("Total number of checkpoint save attempts"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}

	s.restoreCounter, err = s.meter.Int64Counter(
		"cogpid.checkpoint.restores_total",
		metric.WithDescription("Total number of checkpoint restore attempts"),
		metric.WithUnit("{restore}"),
	)
	if err != nil {
		s.logger.Warn("failed to create restore counter", zap.Error(err))
	}

	s.pruneCounter, err = s.meter.Int64Counter(
		"cogpid.checkpoint.pruned_total",
		metric.WithDescription("Total number of checkpoints evicted by pruning"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		s.logger.Warn("failed to create prune counter", zap.Error(err))
	}
}

func (s *service) load() error {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return &StorageError{Op: "load", Err: err}
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(s.config.Dir, e.Name())
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			_ = os.RemoveAll(path)
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, metadataFile))
		if err != nil {
			s.logger.Warn("skipping checkpoint without metadata", zap.String("dir", e.Name()))
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil || cp.ID != e.Name() {
			s.logger.Warn("skipping unreadable checkpoint", zap.String("dir", e.Name()), zap.Error(err))
			continue
		}
		s.index[cp.ID] = &cp
	}
	return nil
}

// Save snapshots the workspace.
func (s *service) Save(ctx context.Context, ws Workspace, iteration int, pv float64, opts ...SaveOption) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.save")
	defer span.End()

	id := IDForIteration(iteration)
	span.SetAttributes(
		attribute.String("checkpoint.id", id),
		attribute.Int("iteration", iteration),
		attribute.Float64("pv", pv),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	cp, err := s.write(ws, id, iteration, pv, opts)
	s.recordCounter(ctx, s.saveCounter, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if s.recorder != nil {
		commit, err := s.recorder.Record(ctx, ws, cp)
		if err != nil {
			s.logger.Warn("failed to record checkpoint", zap.String("checkpoint_id", id), zap.Error(err))
		} else if commit != "" {
			cp.Commit = commit
			if err := writeMetadata(s.dir(id), cp); err != nil {
				s.logger.Warn("failed to update checkpoint metadata", zap.String("checkpoint_id", id), zap.Error(err))
			}
		}
	}

	s.index[id] = cp
	s.logger.Info("checkpoint saved",
		zap.String("checkpoint_id", id),
		zap.Int("iteration", iteration),
		zap.Float64("pv", pv),
		zap.Int("files", cp.Files))

	if s.config.KeepRecent > 0 {
		if _, err := s.prune(ctx, s.config.KeepRecent, cp.RunID()); err != nil {
			s.logger.Warn("automatic prune failed", zap.Error(err))
		}
	}

	return cp.clone(), nil
}

// write stages the snapshot in a temporary directory and renames it into
// place, replacing an older checkpoint for the same iteration.
func (s *service) write(ws Workspace, id string, iteration int, pv float64, opts []SaveOption) (*Checkpoint, error) {
	tmp, err := os.MkdirTemp(s.config.Dir, tmpPrefix+id+"-")
	if err != nil {
		return nil, &StorageError{Op: "save", ID: id, Err: err}
	}
	fail := func(err error) (*Checkpoint, error) {
		_ = os.RemoveAll(tmp)
		return nil, &StorageError{Op: "save", ID: id, Err: err}
	}

	if err := ws.Snapshot(filepath.Join(tmp, snapshotDir)); err != nil {
		return fail(err)
	}
	files, size, err := treeSize(filepath.Join(tmp, snapshotDir))
	if err != nil {
		return fail(err)
	}

	cp := &Checkpoint{
		ID:        id,
		Iteration: iteration,
		PV:        pv,
		Files:     files,
		Bytes:     size,
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(cp)
	}
	if err := writeMetadata(tmp, cp); err != nil {
		return fail(err)
	}

	final := s.dir(id)
	trash := ""
	if _, err := os.Stat(final); err == nil {
		trash = tmp + ".replaced"
		if err := os.Rename(final, trash); err != nil {
			return fail(err)
		}
	}
	if err := os.Rename(tmp, final); err != nil {
		if trash != "" {
			_ = os.Rename(trash, final)
		}
		return fail(err)
	}
	if trash != "" {
		_ = os.RemoveAll(trash)
	}
	return cp, nil
}

// Restore replaces the live workspace with a checkpoint.
func (s *service) Restore(ctx context.Context, id string, ws Workspace) error {
	ctx, span := s.tracer.Start(ctx, "checkpoint.restore")
	defer span.End()
	span.SetAttributes(attribute.String("checkpoint.id", id))

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	err := s.restore(id, ws)
	s.recordCounter(ctx, s.restoreCounter, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.logger.Info("checkpoint restored", zap.String("checkpoint_id", id))
	return nil
}

func (s *service) restore(id string, ws Workspace) error {
	if _, ok := s.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := ws.ReplaceFrom(filepath.Join(s.dir(id), snapshotDir)); err != nil {
		return &StorageError{Op: "restore", ID: id, Err: err}
	}
	return nil
}

// Best returns the highest-PV checkpoint.
func (s *service) Best() (*Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := s.best("")
	if best == nil {
		return nil, false
	}
	return best.clone(), true
}

// BestForRun returns the highest-PV checkpoint saved by runID.
func (s *service) BestForRun(runID string) (*Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if runID == "" {
		return nil, false
	}
	best := s.best(runID)
	if best == nil {
		return nil, false
	}
	return best.clone(), true
}

// best picks among the checkpoints of runID, or among all of them when
// runID is empty.
func (s *service) best(runID string) *Checkpoint {
	var best *Checkpoint
	for _, cp := range s.index {
		if runID != "" && cp.RunID() != runID {
			continue
		}
		if best == nil || cp.PV > best.PV || (cp.PV == best.PV && cp.Iteration > best.Iteration) {
			best = cp
		}
	}
	return best
}

// Get retrieves a checkpoint by ID.
func (s *service) Get(id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cp.clone(), nil
}

// List returns all checkpoints ordered by iteration.
func (s *service) List() []*Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Checkpoint, 0, len(s.index))
	for _, cp := range s.index {
		out = append(out, cp.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out
}

// Prune evicts old checkpoints.
func (s *service) Prune(keepRecent int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.prune(context.Background(), keepRecent, "")
}

// prune considers only the checkpoints of runID, or all of them when runID
// is empty.
func (s *service) prune(ctx context.Context, keepRecent int, runID string) (int, error) {
	if keepRecent < 0 {
		return 0, fmt.Errorf("keep_recent must be >= 0, got %d", keepRecent)
	}

	all := make([]*Checkpoint, 0, len(s.index))
	for _, cp := range s.index {
		if runID == "" || cp.RunID() == runID {
			all = append(all, cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Iteration > all[j].Iteration })

	keep := make(map[string]bool, keepRecent+1)
	if best := s.best(runID); best != nil {
		keep[best.ID] = true
	}
	for i := 0; i < keepRecent && i < len(all); i++ {
		keep[all[i].ID] = true
	}

	var errs []error
	removed := 0
	for _, cp := range all {
		if keep[cp.ID] {
			continue
		}
		if err := os.RemoveAll(s.dir(cp.ID)); err != nil {
			errs = append(errs, &StorageError{Op: "prune", ID: cp.ID, Err: err})
			continue
		}
		delete(s.index, cp.ID)
		removed++
	}

	if removed > 0 && s.pruneCounter != nil {
		s.pruneCounter.Add(ctx, int64(removed))
	}
	if removed > 0 {
		s.logger.Debug("checkpoints pruned", zap.Int("removed", removed), zap.Int("kept", len(s.index)))
	}
	return removed, errors.Join(errs...)
}

// Close closes the service.
func (s *service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *service) dir(id string) string {
	return filepath.Join(s.config.Dir, id)
}

func (s *service) recordCounter(ctx context.Context, c metric.Int64Counter, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func writeMetadata(dir string, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644)
}

func treeSize(root string) (int, int64, error) {
	files := 0
	var size int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += info.Size()
		return nil
	})
	return files, size, err
}
