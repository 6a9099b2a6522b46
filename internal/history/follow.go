package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed is returned when the filesystem watcher cannot start.
var ErrWatcherFailed = errors.New("failed to initialize history watcher")

// Follower reads records as they are appended to a log written by another
// process. It watches the log's directory, so the file may not exist yet.
type Follower struct {
	path    string
	offset  int64
	partial []byte
	line    int
	watcher *fsnotify.Watcher
}

// NewFollower starts watching path. The first Next returns every record
// already in the file.
func NewFollower(path string) (*Follower, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Follower{path: path, watcher: w}, nil
}

// Next returns the complete records written since the previous call. A
// trailing line without a newline is held back until it is finished.
func (f *Follower) Next() ([]Record, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat history log: %w", err)
	}
	if info.Size() < f.offset {
		// Truncated or replaced: start over.
		f.offset, f.partial, f.line = 0, nil, 0
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek history log: %w", err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read history log: %w", err)
	}
	f.offset += int64(len(data))

	buf := append(f.partial, data...)
	var records []Record
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := buf[:i]
		buf = buf[i+1:]
		f.line++
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return records, fmt.Errorf("history line %d: %w", f.line, err)
		}
		records = append(records, r)
	}
	if len(buf) > maxLineBytes {
		return records, fmt.Errorf("history line %d: exceeds %d bytes", f.line+1, maxLineBytes)
	}
	f.partial = append([]byte(nil), buf...)
	return records, nil
}

// Follow calls fn for every new record until ctx is done or fn fails.
// Records already returned by Next are not repeated.
func (f *Follower) Follow(ctx context.Context, fn func(Record) error) error {
	emit := func() error {
		records, err := f.Next()
		for _, r := range records {
			if ferr := fn(r); ferr != nil {
				return ferr
			}
		}
		return err
	}
	if err := emit(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(f.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := emit(); err != nil {
				return err
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("history watcher: %w", err)
		}
	}
}

// Close stops the watcher.
func (f *Follower) Close() error {
	return f.watcher.Close()
}
