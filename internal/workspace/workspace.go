// Package workspace owns the live code tree the collaborators modify.
//
// A Workspace is a directory on disk. The refinement loop is its only
// writer: patches are applied through ApplyPatch and wholesale replacement
// (rollback) goes through ReplaceFrom. Both leave the tree untouched when
// they fail.
package workspace

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrPatchConflict is returned when a patch does not apply cleanly.
	ErrPatchConflict = errors.New("patch conflict")

	// ErrMalformedPatch is returned when a patch cannot be parsed.
	ErrMalformedPatch = errors.New("malformed patch")

	// ErrUnsafePath is returned for paths escaping the workspace root or
	// reaching into PreservedDirs.
	ErrUnsafePath = errors.New("path escapes workspace")
)

// DefaultAnalysisExcludes are skipped when reading the tree for metrics and
// summaries. They are never skipped by snapshots.
var DefaultAnalysisExcludes = []string{
	"**/.*",
	"**/.*/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/venv/**",
	"**/__pycache__/**",
}

// SourceExtensions lists the file extensions treated as source code.
var SourceExtensions = []string{".py", ".js", ".ts", ".java", ".cpp", ".c", ".go", ".rs"}

// Workspace is a live directory tree.
type Workspace struct {
	root        string
	excludes    []string
	ignoreFiles []string
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithAnalysisExcludes replaces DefaultAnalysisExcludes.
func WithAnalysisExcludes(patterns []string) Option {
	return func(w *Workspace) {
		w.excludes = append([]string(nil), patterns...)
	}
}

// Open returns the workspace rooted at root, creating the directory if
// needed.
func Open(root string, opts ...Option) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	w := &Workspace{
		root:     abs,
		excludes: DefaultAnalysisExcludes,
	}
	for _, opt := range opts {
		opt(w)
	}
	if len(w.ignoreFiles) > 0 {
		patterns, err := IgnorePatterns(abs, w.ignoreFiles...)
		if err != nil {
			return nil, err
		}
		w.excludes = append(append([]string(nil), w.excludes...), patterns...)
	}
	for _, p := range w.excludes {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return w, nil
}

// Root returns the absolute workspace path.
func (w *Workspace) Root() string {
	return w.root
}

// Walk visits every regular file not matched by the analysis excludes, in
// lexical order. rel uses forward slashes.
func (w *Workspace) Walk(fn func(rel string, d fs.DirEntry) error) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == w.root {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if w.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(rel, d)
	})
}

func (w *Workspace) excluded(rel string) bool {
	for _, p := range w.excludes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// SourceFiles returns the relative paths of source files in lexical order.
func (w *Workspace) SourceFiles() ([]string, error) {
	var files []string
	err := w.Walk(func(rel string, _ fs.DirEntry) error {
		if IsSource(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list source files: %w", err)
	}
	return files, nil
}

// IsSource reports whether path has a source extension.
func IsSource(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SourceExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ReadFile reads a file relative to the root.
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	abs, err := w.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Text concatenates source file contents in lexical order, stopping after
// maxChars bytes. maxChars <= 0 means no limit.
func (w *Workspace) Text(maxChars int) (string, error) {
	files, err := w.SourceFiles()
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	for _, rel := range files {
		if maxChars > 0 && buf.Len() >= maxChars {
			break
		}
		data, err := w.ReadFile(rel)
		if err != nil {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		if maxChars > 0 && buf.Len()+len(data) > maxChars {
			data = data[:maxChars-buf.Len()]
		}
		buf.Write(data)
	}
	return buf.String(), nil
}

// Summary describes the tree for planners.
type Summary struct {
	Files       int            `json:"files"`
	SourceFiles int            `json:"source_files"`
	LinesOfCode int            `json:"lines_of_code"`
	ByExtension map[string]int `json:"by_extension"`
	Paths       []string       `json:"paths"`
}

// maxSummaryPaths bounds Summary.Paths.
const maxSummaryPaths = 50

// Summarize counts files by extension and source lines.
func (w *Workspace) Summarize() (Summary, error) {
	s := Summary{ByExtension: make(map[string]int)}
	err := w.Walk(func(rel string, _ fs.DirEntry) error {
		s.Files++
		ext := filepath.Ext(rel)
		if ext == "" {
			ext = "no_ext"
		}
		s.ByExtension[ext]++
		if len(s.Paths) < maxSummaryPaths {
			s.Paths = append(s.Paths, rel)
		}
		if IsSource(rel) {
			s.SourceFiles++
			data, err := w.ReadFile(rel)
			if err == nil {
				s.LinesOfCode += countLines(data)
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize workspace: %w", err)
	}
	return s, nil
}

// String renders the summary as planner-friendly text.
func (s Summary) String() string {
	if s.Files == 0 {
		return "empty workspace"
	}
	exts := make([]string, 0, len(s.ByExtension))
	for ext := range s.ByExtension {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	var b strings.Builder
	fmt.Fprintf(&b, "%d files (%d source, %d lines of code)\n", s.Files, s.SourceFiles, s.LinesOfCode)
	for _, ext := range exts {
		fmt.Fprintf(&b, "  %s: %d\n", ext, s.ByExtension[ext])
	}
	for _, p := range s.Paths {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return b.String()
}

func countLines(data []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		n++
	}
	return n
}

// resolve maps a slash-separated relative path to an absolute path inside
// the root.
func (w *Workspace) resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == "." {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	return filepath.Join(w.root, clean), nil
}
