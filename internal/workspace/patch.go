package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// PatchResult describes an applied patch.
type PatchResult struct {
	FilesCreated  []string `json:"files_created"`
	FilesModified []string `json:"files_modified"`
	FilesDeleted  []string `json:"files_deleted"`
	LinesAdded    int      `json:"lines_added"`
	LinesRemoved  int      `json:"lines_removed"`
}

// Changed reports whether the patch touched any file.
func (r *PatchResult) Changed() bool {
	return r != nil && len(r.FilesCreated)+len(r.FilesModified)+len(r.FilesDeleted) > 0
}

// pendingFile is the computed post-patch state of one file.
type pendingFile struct {
	rel     string
	abs     string
	content []byte
	delete  bool
	created bool
}

// ApplyPatch applies a unified diff to the workspace.
//
// Every file is computed in memory before anything is written. A parse
// failure yields ErrMalformedPatch, a hunk that does not match yields
// ErrPatchConflict; in both cases the tree is unchanged. If a write fails
// part way, already-written files are restored from their prior contents.
func (w *Workspace) ApplyPatch(patch string) (*PatchResult, error) {
	if strings.TrimSpace(patch) == "" {
		return &PatchResult{}, nil
	}

	fds, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPatch, err)
	}
	if len(fds) == 0 {
		return nil, fmt.Errorf("%w: no file diffs found", ErrMalformedPatch)
	}

	result := &PatchResult{}
	pending := make([]pendingFile, 0, len(fds))
	seen := make(map[string]bool, len(fds))

	for _, fd := range fds {
		pf, added, removed, err := w.computeFile(fd)
		if err != nil {
			return nil, err
		}
		if seen[pf.rel] {
			return nil, fmt.Errorf("%w: %s appears twice", ErrPatchConflict, pf.rel)
		}
		seen[pf.rel] = true
		pending = append(pending, pf)
		result.LinesAdded += added
		result.LinesRemoved += removed

		switch {
		case pf.delete:
			result.FilesDeleted = append(result.FilesDeleted, pf.rel)
		case pf.created:
			result.FilesCreated = append(result.FilesCreated, pf.rel)
		default:
			result.FilesModified = append(result.FilesModified, pf.rel)
		}
	}

	if err := w.commit(pending); err != nil {
		return nil, err
	}

	sort.Strings(result.FilesCreated)
	sort.Strings(result.FilesModified)
	sort.Strings(result.FilesDeleted)
	return result, nil
}

func (w *Workspace) computeFile(fd *diff.FileDiff) (pendingFile, int, int, error) {
	origName := stripPrefix(fd.OrigName)
	newName := stripPrefix(fd.NewName)

	var pf pendingFile
	switch {
	case origName == devNull && newName == devNull:
		return pf, 0, 0, fmt.Errorf("%w: both sides are /dev/null", ErrMalformedPatch)
	case origName == devNull:
		pf.rel, pf.created = newName, true
	case newName == devNull:
		pf.rel, pf.delete = origName, true
	default:
		if origName != newName {
			return pf, 0, 0, fmt.Errorf("%w: renames are not supported (%s -> %s)", ErrPatchConflict, origName, newName)
		}
		pf.rel = newName
	}

	abs, err := w.resolve(pf.rel)
	if err != nil {
		return pf, 0, 0, err
	}
	if preserved(pf.rel) {
		return pf, 0, 0, fmt.Errorf("%w: %q is reserved", ErrUnsafePath, pf.rel)
	}
	pf.abs = abs

	var orig []byte
	existing, err := os.ReadFile(abs)
	switch {
	case err == nil:
		if pf.created {
			return pf, 0, 0, fmt.Errorf("%w: %s already exists", ErrPatchConflict, pf.rel)
		}
		orig = existing
	case errors.Is(err, os.ErrNotExist):
		if !pf.created {
			return pf, 0, 0, fmt.Errorf("%w: %s does not exist", ErrPatchConflict, pf.rel)
		}
	default:
		return pf, 0, 0, fmt.Errorf("failed to read %s: %w", pf.rel, err)
	}

	if len(fd.Hunks) == 0 && !pf.delete {
		return pf, 0, 0, fmt.Errorf("%w: %s has no hunks", ErrPatchConflict, pf.rel)
	}

	out, added, removed, err := applyHunks(string(orig), fd.Hunks)
	if err != nil {
		return pf, 0, 0, fmt.Errorf("%w: %s: %v", ErrPatchConflict, pf.rel, err)
	}
	if pf.delete && out != "" && len(fd.Hunks) > 0 {
		return pf, 0, 0, fmt.Errorf("%w: %s: deletion leaves content", ErrPatchConflict, pf.rel)
	}
	pf.content = []byte(out)
	return pf, added, removed, nil
}

func stripPrefix(name string) string {
	if name == devNull {
		return name
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}

// hunkLines splits a hunk body into its old and new sides. Lines keep their
// trailing newline. The parser has already folded "\ No newline at end of
// file" markers into the body, except for removed lines, which it records in
// OrigNoNewlineAt.
func hunkLines(h *diff.Hunk) (oldSide, newSide []string, added, removed int, err error) {
	offset := 0
	for _, line := range strings.SplitAfter(string(h.Body), "\n") {
		if line == "" {
			continue
		}
		offset += len(line)
		if line == "\n" {
			oldSide = append(oldSide, line)
			newSide = append(newSide, line)
			continue
		}
		tag, text := line[0], line[1:]
		switch tag {
		case ' ':
			oldSide = append(oldSide, text)
			newSide = append(newSide, text)
		case '-':
			if h.OrigNoNewlineAt > 0 && offset == int(h.OrigNoNewlineAt) {
				text = strings.TrimSuffix(text, "\n")
			}
			oldSide = append(oldSide, text)
			removed++
		case '+':
			newSide = append(newSide, text)
			added++
		case '\\':
		default:
			return nil, nil, 0, 0, fmt.Errorf("unexpected line prefix %q", tag)
		}
	}
	return oldSide, newSide, added, removed, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// applyHunks applies hunks in order. Each hunk is tried at its declared
// position first, then at increasing distances, never before the end of the
// previous hunk.
func applyHunks(orig string, hunks []*diff.Hunk) (string, int, int, error) {
	lines := splitLines(orig)
	var out []string
	cursor := 0
	totalAdded, totalRemoved := 0, 0

	for i, h := range hunks {
		oldSide, newSide, added, removed, err := hunkLines(h)
		if err != nil {
			return "", 0, 0, fmt.Errorf("hunk %d: %w", i+1, err)
		}

		want := int(h.OrigStartLine) - 1
		if len(oldSide) == 0 {
			want = int(h.OrigStartLine)
		}
		pos, ok := locate(lines, oldSide, want, cursor)
		if !ok {
			return "", 0, 0, fmt.Errorf("hunk %d does not match at line %d", i+1, h.OrigStartLine)
		}

		out = append(out, lines[cursor:pos]...)
		out = append(out, newSide...)
		cursor = pos + len(oldSide)
		totalAdded += added
		totalRemoved += removed
	}
	out = append(out, lines[cursor:]...)
	return strings.Join(out, ""), totalAdded, totalRemoved, nil
}

func locate(lines, block []string, want, min int) (int, bool) {
	fits := func(pos int) bool {
		if pos < min || pos+len(block) > len(lines) {
			return false
		}
		for j, b := range block {
			if lines[pos+j] != b {
				return false
			}
		}
		return true
	}

	if want < min {
		want = min
	}
	for d := 0; d <= len(lines); d++ {
		if fits(want + d) {
			return want + d, true
		}
		if d > 0 && fits(want-d) {
			return want - d, true
		}
	}
	return 0, false
}

// commit writes pending files, restoring prior contents on failure.
func (w *Workspace) commit(pending []pendingFile) error {
	type backup struct {
		abs     string
		content []byte
		existed bool
		mode    os.FileMode
	}
	var done []backup

	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			b := done[i]
			if b.existed {
				_ = writeAtomic(b.abs, b.content, b.mode)
			} else {
				_ = os.Remove(b.abs)
			}
		}
	}

	for _, pf := range pending {
		b := backup{abs: pf.abs, mode: 0o644}
		if info, err := os.Stat(pf.abs); err == nil {
			data, err := os.ReadFile(pf.abs)
			if err != nil {
				rollback()
				return fmt.Errorf("failed to back up %s: %w", pf.rel, err)
			}
			b.content, b.existed, b.mode = data, true, info.Mode().Perm()
		}

		var err error
		if pf.delete {
			err = os.Remove(pf.abs)
		} else {
			err = writeAtomic(pf.abs, pf.content, b.mode)
		}
		if err != nil {
			rollback()
			return fmt.Errorf("failed to write %s: %w", pf.rel, err)
		}
		done = append(done, b)
	}
	return nil
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".patch-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// preserved reports whether rel lies under one of PreservedDirs. Patches
// may not write there.
func preserved(rel string) bool {
	top, _, _ := strings.Cut(filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel))), "/")
	for _, d := range PreservedDirs {
		if strings.EqualFold(top, d) {
			return true
		}
	}
	return false
}
