package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/schaermu/nbpuller/internal/git"
	"github.com/schaermu/nbpuller/internal/progress"
)

// notFoundMarkers are stderr fragments git and common hosts print when the
// repository or branch does not exist, or is private and unauthenticated
var notFoundMarkers = []string{
	"not found",
	"does not appear to be a git repository",
	"does not exist",
	"could not read username",
}

// cloneRepo creates a sparse-enabled clone of req at dir. A failed attempt
// removes whatever it created so the next sync starts clean.
func (e *Engine) cloneRepo(ctx context.Context, req Request, dir string, reporter *progress.Reporter) error {
	url := e.cfg.RemoteURL(req.Domain, req.Account, req.Repo)
	e.logger.Info("cloning repository", "repo", req.Repo, "branch", req.Branch, "clone_dir", dir)
	reporter.Line(fmt.Sprintf("Cloning %s (%s)", req.Repo, req.Branch))

	if err := e.git.Clone(ctx, url, req.Branch, dir, reporter.Line); err != nil {
		e.removePartialClone(dir)
		return classifyCloneError(err)
	}

	if err := e.git.EnableSparseCheckout(ctx, dir); err != nil {
		e.removePartialClone(dir)
		return fmt.Errorf("%w: failed to enable sparse checkout: %w", ErrRemoteUnavailable, err)
	}
	return nil
}

func (e *Engine) removePartialClone(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		e.logger.Warn("failed to remove partial clone", "clone_dir", dir, "error", err)
	}
}

// classifyCloneError maps a clone failure to RepositoryNotFound when git
// reported a missing repository or branch, and RemoteUnavailable otherwise
func classifyCloneError(err error) error {
	var cmdErr *git.CommandError
	if errors.As(err, &cmdErr) && isNotFound(cmdErr.Stderr) {
		return fmt.Errorf("%w: failed to clone: %w", ErrRepositoryNotFound, err)
	}
	return fmt.Errorf("%w: failed to clone: %w", ErrRemoteUnavailable, err)
}

func isNotFound(stderr string) bool {
	stderr = strings.ToLower(stderr)
	for _, marker := range notFoundMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}
