package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func openTestWorkspace(t *testing.T, files map[string]string) *Workspace {
	t.Helper()
	root := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, os.MkdirAll(root, 0o755))
	writeFiles(t, root, files)
	ws, err := Open(root)
	require.NoError(t, err)
	return ws
}

func TestOpen_InvalidExclude(t *testing.T) {
	_, err := Open(t.TempDir(), WithAnalysisExcludes([]string{"[unclosed"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid exclude pattern")
}

func TestSourceFiles_SkipsExcluded(t *testing.T) {
	ws := openTestWorkspace(t, map[string]string{
		"main.go":                 "package main\n",
		"lib/util.py":             "x = 1\n",
		"README.md":               "# readme\n",
		".git/config":             "[core]\n",
		"node_modules/pkg/a.js":   "module.exports = 1\n",
		"src/__pycache__/m.py":    "cached\n",
		"src/app/handler.ts":      "export const a = 1\n",
		"vendor/example.com/x.go": "package x\n",
	})

	files, err := ws.SourceFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/util.py", "main.go", "src/app/handler.ts"}, files)
}

func TestText_Limit(t *testing.T) {
	ws := openTestWorkspace(t, map[string]string{
		"a.go": "aaaa",
		"b.go": "bbbb",
	})

	full, err := ws.Text(0)
	require.NoError(t, err)
	assert.Equal(t, "aaaa\nbbbb", full)

	short, err := ws.Text(6)
	require.NoError(t, err)
	assert.Equal(t, "aaaa\nb", short)
}

func TestSummarize(t *testing.T) {
	ws := openTestWorkspace(t, map[string]string{
		"main.go":   "package main\n\nfunc main() {}\n",
		"notes.txt": "hello\n",
		"Makefile":  "all:\n",
	})

	s, err := ws.Summarize()
	require.NoError(t, err)
	assert.Equal(t, 3, s.Files)
	assert.Equal(t, 1, s.SourceFiles)
	assert.Equal(t, 3, s.LinesOfCode)
	assert.Equal(t, map[string]int{".go": 1, ".txt": 1, "no_ext": 1}, s.ByExtension)
	assert.Contains(t, s.String(), "3 files (1 source, 3 lines of code)")
}

func TestSummarize_Empty(t *testing.T) {
	ws := openTestWorkspace(t, nil)
	s, err := ws.Summarize()
	require.NoError(t, err)
	assert.Equal(t, "empty workspace", s.String())
}

func TestReadFile_RejectsEscapes(t *testing.T) {
	ws := openTestWorkspace(t, nil)
	for _, p := range []string{"../secret", "/etc/passwd", ".", "a/../../b"} {
		_, err := ws.ReadFile(p)
		assert.ErrorIs(t, err, ErrUnsafePath, p)
	}
}

func TestSnapshotAndReplaceFrom(t *testing.T) {
	ws := openTestWorkspace(t, map[string]string{
		"main.go":     "package main\n",
		".hidden/cfg": "kept in snapshots\n",
	})
	snap := filepath.Join(t.TempDir(), "snap")
	require.NoError(t, ws.Snapshot(snap))
	want := readTree(t, ws.Root())
	assert.Equal(t, want, readTree(t, snap))

	writeFiles(t, ws.Root(), map[string]string{
		"main.go":  "package broken\n",
		"extra.go": "package extra\n",
	})

	require.NoError(t, ws.ReplaceFrom(snap))
	assert.Equal(t, want, readTree(t, ws.Root()))

	entries, err := os.ReadDir(filepath.Dir(ws.Root()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directories must be cleaned up")
}

func TestReplaceFrom_MissingSnapshotLeavesTree(t *testing.T) {
	ws := openTestWorkspace(t, map[string]string{"main.go": "package main\n"})
	before := readTree(t, ws.Root())

	err := ws.ReplaceFrom(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
	assert.Equal(t, before, readTree(t, ws.Root()))
}

func TestCopyTree_Excludes(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{
		"keep.go":          "k",
		"build/out.bin":    "b",
		"nested/build.txt": "n",
	})
	dst := filepath.Join(t.TempDir(), "dst")

	require.NoError(t, CopyTree(src, dst, []string{"build", "build/**"}))
	assert.Equal(t, map[string]string{"keep.go": "k", "nested/build.txt": "n"}, readTree(t, dst))
}

func TestReplaceFrom_KeepsLiveGitDir(t *testing.T) {
	ws := openTestWorkspace(t, map[string]string{
		"main.go":   "package main\n",
		".git/HEAD": "ref: refs/heads/main\n",
	})
	snap := filepath.Join(t.TempDir(), "snap")
	require.NoError(t, ws.Snapshot(snap))
	assert.NotContains(t, readTree(t, snap), ".git/HEAD")

	writeFiles(t, ws.Root(), map[string]string{
		".git/HEAD": "ref: refs/heads/later\n",
		"main.go":   "package changed\n",
	})
	require.NoError(t, ws.ReplaceFrom(snap))

	assert.Equal(t, map[string]string{
		"main.go":   "package main\n",
		".git/HEAD": "ref: refs/heads/later\n",
	}, readTree(t, ws.Root()))
}
