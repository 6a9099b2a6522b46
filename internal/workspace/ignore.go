package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultIgnoreFiles are read by WithIgnoreFiles when no names are given.
var DefaultIgnoreFiles = []string{".gitignore", ".cogpidignore"}

// WithIgnoreFiles adds the patterns of gitignore-style files at the
// workspace root to the analysis excludes. Missing files are skipped.
func WithIgnoreFiles(names ...string) Option {
	if len(names) == 0 {
		names = DefaultIgnoreFiles
	}
	return func(w *Workspace) {
		w.ignoreFiles = append([]string(nil), names...)
	}
}

// IgnorePatterns reads the named gitignore-style files under root and
// returns their patterns as doublestar globs, without duplicates.
// Negated patterns are not supported and are dropped.
func IgnorePatterns(root string, names ...string) ([]string, error) {
	var patterns []string
	seen := make(map[string]bool)
	for _, name := range names {
		lines, err := readIgnoreFile(filepath.Join(root, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		for _, line := range lines {
			for _, p := range ignoreGlobs(line) {
				if !seen[p] {
					seen[p] = true
					patterns = append(patterns, p)
				}
			}
		}
	}
	return patterns, nil
}

func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// ignoreGlobs converts one gitignore line. A pattern with a slash other
// than a trailing one is anchored at the root; a trailing slash matches
// directories only. Comments, blank lines and negations yield nothing.
func ignoreGlobs(line string) []string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return nil
	}
	line = strings.TrimPrefix(line, `\`)

	dirOnly := strings.HasSuffix(line, "/")
	line = strings.TrimSuffix(line, "/")
	anchored := strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return nil
	}

	base := line
	if !anchored && !strings.HasPrefix(base, "**/") {
		base = "**/" + base
	}
	if dirOnly {
		return []string{base + "/**"}
	}
	return []string{base, base + "/**"}
}
