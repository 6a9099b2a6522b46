package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// StateDir is kept out of commits. It matches workspace.StateDir.
const StateDir = ".cogpid"

// TagPrefix prefixes the lightweight tag created for each checkpoint.
const TagPrefix = "cogpid/"

// GitRecorder commits the workspace and tags the commit with the checkpoint
// ID. Workspaces that are not git repositories are skipped silently.
type GitRecorder struct {
	logger *zap.Logger
	author object.Signature
}

// NewGitRecorder returns a recorder committing as "cogpid".
func NewGitRecorder(logger *zap.Logger) *GitRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitRecorder{
		logger: logger,
		author: object.Signature{Name: "cogpid", Email: "cogpid@localhost"},
	}
}

// Record implements Recorder.
func (g *GitRecorder) Record(ctx context.Context, ws Workspace, cp *Checkpoint) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	repo, err := git.PlainOpen(ws.Root())
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	wt.Excludes = append(wt.Excludes, gitignore.ParsePattern(StateDir+"/", nil))
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	author := g.author
	author.When = time.Now()
	msg := fmt.Sprintf("checkpoint %s (iteration %d, pv %.3f)", cp.ID, cp.Iteration, cp.PV)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author:            &author,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	tag := TagPrefix + cp.ID
	if _, err := repo.CreateTag(tag, hash, nil); err != nil {
		if !errors.Is(err, git.ErrTagExists) {
			return "", fmt.Errorf("failed to tag %s: %w", tag, err)
		}
		if err := repo.DeleteTag(tag); err != nil {
			return "", fmt.Errorf("failed to replace tag %s: %w", tag, err)
		}
		if _, err := repo.CreateTag(tag, hash, nil); err != nil {
			return "", fmt.Errorf("failed to tag %s: %w", tag, err)
		}
	}

	g.logger.Debug("checkpoint committed",
		zap.String("checkpoint_id", cp.ID),
		zap.String("commit", hash.String()))
	return hash.String(), nil
}
