package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// CopyTree copies the regular files and directories under src into dst.
// Paths matching any of excludes (doublestar syntax, relative to src) are
// skipped. Symlinks are copied as links.
func CopyTree(src, dst string, excludes []string) error {
	for _, p := range excludes {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		slashRel := filepath.ToSlash(rel)
		for _, p := range excludes {
			if ok, _ := doublestar.Match(p, slashRel); ok {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// StateDir holds cogpid's own state (checkpoints, history) inside a
// workspace.
const StateDir = ".cogpid"

// PreservedDirs are top-level directories that belong to the live tree
// rather than to its content. Snapshots leave them out and ReplaceFrom
// carries the live copy over.
var PreservedDirs = []string{".git", StateDir}

// Snapshot copies the live tree into dst. Analysis excludes do not apply;
// only PreservedDirs are left out.
func (w *Workspace) Snapshot(dst string) error {
	if err := CopyTree(w.root, dst, PreservedDirs); err != nil {
		return fmt.Errorf("failed to snapshot workspace: %w", err)
	}
	return nil
}

// ReplaceFrom swaps the live tree for a copy of snapshotDir.
//
// The copy is staged next to the root and moved in with renames, so an
// observer sees either the old tree or the new one. PreservedDirs are moved
// from the live tree into the staged one first. If the swap fails
// everything is moved back.
func (w *Workspace) ReplaceFrom(snapshotDir string) error {
	info, err := os.Stat(snapshotDir)
	if err != nil {
		return fmt.Errorf("failed to stat snapshot: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("snapshot %s is not a directory", snapshotDir)
	}

	parent := filepath.Dir(w.root)
	base := filepath.Base(w.root)

	staging, err := os.MkdirTemp(parent, "."+base+".staging-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	if err := CopyTree(snapshotDir, staging, nil); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("failed to stage snapshot: %w", err)
	}

	moved, err := w.carryPreserved(staging)
	if err != nil {
		os.RemoveAll(staging)
		return err
	}
	restorePreserved := func() {
		for _, d := range moved {
			_ = os.Rename(filepath.Join(staging, d), filepath.Join(w.root, d))
		}
	}

	old := staging + ".old"
	if err := os.Rename(w.root, old); err != nil {
		restorePreserved()
		os.RemoveAll(staging)
		return fmt.Errorf("failed to move live tree aside: %w", err)
	}
	if err := os.Rename(staging, w.root); err != nil {
		if rerr := os.Rename(old, w.root); rerr != nil {
			return fmt.Errorf("failed to install snapshot (%v) and to restore live tree: %w", err, rerr)
		}
		restorePreserved()
		os.RemoveAll(staging)
		return fmt.Errorf("failed to install snapshot: %w", err)
	}

	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("snapshot installed but old tree not removed: %w", err)
	}
	return nil
}

// carryPreserved moves PreservedDirs from the live tree into staging and
// returns the ones it moved. On failure the moves are undone.
func (w *Workspace) carryPreserved(staging string) ([]string, error) {
	var moved []string
	for _, d := range PreservedDirs {
		src := filepath.Join(w.root, d)
		if _, err := os.Lstat(src); err != nil {
			continue
		}
		dst := filepath.Join(staging, d)
		if err := os.RemoveAll(dst); err != nil {
			return nil, w.undoCarry(staging, moved, err)
		}
		if err := os.Rename(src, dst); err != nil {
			return nil, w.undoCarry(staging, moved, err)
		}
		moved = append(moved, d)
	}
	return moved, nil
}

func (w *Workspace) undoCarry(staging string, moved []string, cause error) error {
	for _, d := range moved {
		_ = os.Rename(filepath.Join(staging, d), filepath.Join(w.root, d))
	}
	return fmt.Errorf("failed to carry over preserved directories: %w", cause)
}
