package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schaermu/nbpuller/internal/git"
	"github.com/schaermu/nbpuller/internal/progress"
)

// RecoveryCommitMessage is the message of the commit that snapshots local
// edits before merging upstream changes
const RecoveryCommitMessage = "WIP"

// Reconciler merges upstream changes into a clone without losing local
// edits. Conflicting hunks always resolve to the local side.
type Reconciler struct {
	git    git.Tool
	logger *slog.Logger
}

// NewReconciler creates a reconciler backed by tool
func NewReconciler(tool git.Tool, logger *slog.Logger) *Reconciler {
	return &Reconciler{git: tool, logger: logger}
}

// Reconcile restores deleted files, snapshots local edits, merges
// origin/<branch> and re-applies the sparse patterns. Fetch failures wrap
// ErrRemoteUnavailable, every other failure wraps ErrMergeFailure.
func (r *Reconciler) Reconcile(ctx context.Context, dir, branch string, reporter *progress.Reporter) error {
	if err := r.restoreDeleted(ctx, dir, reporter); err != nil {
		return fmt.Errorf("%w: %w", ErrMergeFailure, err)
	}

	if err := r.snapshot(ctx, dir, reporter); err != nil {
		return fmt.Errorf("%w: %w", ErrMergeFailure, err)
	}

	reporter.Line(fmt.Sprintf("Fetching origin/%s", branch))
	if err := r.git.Fetch(ctx, dir, branch, reporter.Line); err != nil {
		return fmt.Errorf("%w: failed to fetch: %w", ErrRemoteUnavailable, err)
	}

	reporter.Line(fmt.Sprintf("Merging origin/%s", branch))
	if err := r.git.Merge(ctx, dir, "origin/"+branch); err != nil {
		return fmt.Errorf("%w: failed to merge: %w", ErrMergeFailure, err)
	}

	reporter.Line("Updating working tree")
	if err := r.git.ReadTree(ctx, dir); err != nil {
		return fmt.Errorf("%w: failed to apply sparse checkout: %w", ErrMergeFailure, err)
	}

	r.logger.Debug("reconciled working tree", "clone_dir", dir, "branch", branch)
	return nil
}

// restoreDeleted checks out every tracked file the user deleted. Unstaged
// deletions come back from the index, staged ones from HEAD. Unmerged
// entries are left alone.
func (r *Reconciler) restoreDeleted(ctx context.Context, dir string, reporter *progress.Reporter) error {
	entries, err := r.git.Status(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}

	var fromIndex, fromHead []string
	for _, entry := range entries {
		switch {
		case entry.Unmerged():
		case entry.DeletedInIndex():
			fromHead = append(fromHead, entry.Path)
		case entry.DeletedInWorktree():
			fromIndex = append(fromIndex, entry.Path)
		}
	}

	if n := len(fromIndex) + len(fromHead); n > 0 {
		reporter.Line(fmt.Sprintf("Restoring %d deleted file(s)", n))
	}
	if err := r.git.Checkout(ctx, dir, "", fromIndex); err != nil {
		return fmt.Errorf("failed to restore deleted files: %w", err)
	}
	if err := r.git.Checkout(ctx, dir, "HEAD", fromHead); err != nil {
		return fmt.Errorf("failed to restore staged deletions: %w", err)
	}
	return nil
}

// snapshot records local modifications as a recovery commit so the merge
// has a proper base
func (r *Reconciler) snapshot(ctx context.Context, dir string, reporter *progress.Reporter) error {
	entries, err := r.git.Status(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	reporter.Line(fmt.Sprintf("Saving local changes to %d file(s)", len(entries)))
	if err := r.git.Commit(ctx, dir, RecoveryCommitMessage); err != nil {
		return fmt.Errorf("failed to commit local changes: %w", err)
	}
	return nil
}
