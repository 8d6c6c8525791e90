package sync

import (
	"context"
	"log/slog"

	"github.com/schaermu/nbpuller/internal/git"
	"github.com/schaermu/nbpuller/internal/pathutil"
)

// ExistenceValidator checks requested paths against the remote-tracking
// branch of a clone without materializing anything.
type ExistenceValidator struct {
	git    git.Tool
	logger *slog.Logger
}

// NewExistenceValidator creates a validator backed by tool
func NewExistenceValidator(tool git.Tool, logger *slog.Logger) *ExistenceValidator {
	return &ExistenceValidator{git: tool, logger: logger}
}

// Exists refreshes origin/<branch> and reports whether p exists in it.
// A failed refresh is logged and the lookup uses whatever tracking state is
// already present. Any lookup error counts as absent.
func (v *ExistenceValidator) Exists(ctx context.Context, dir, branch, p string) bool {
	v.refresh(ctx, dir, branch)
	return v.lookup(ctx, dir, branch, p)
}

// FirstMissing refreshes once and returns the first path absent from
// origin/<branch>, or "" when every path exists. Paths with glob characters
// are checked by their literal directory prefix.
func (v *ExistenceValidator) FirstMissing(ctx context.Context, dir, branch string, paths []string) string {
	v.refresh(ctx, dir, branch)
	return v.firstMissingCached(ctx, dir, branch, paths)
}

func (v *ExistenceValidator) refresh(ctx context.Context, dir, branch string) {
	if err := v.git.Fetch(ctx, dir, branch, nil); err != nil {
		v.logger.Warn("failed to refresh remote branch, checking against cached state",
			"clone_dir", dir, "branch", branch, "error", err)
	}
}

func (v *ExistenceValidator) lookup(ctx context.Context, dir, branch, p string) bool {
	target := pathutil.LiteralPrefix(p)
	found, err := v.git.CatFile(ctx, dir, "origin/"+branch, target)
	if err != nil {
		v.logger.Debug("path lookup failed", "clone_dir", dir, "branch", branch, "path", p, "error", err)
		return false
	}
	return found
}

// firstMissingCached is FirstMissing without the refresh
func (v *ExistenceValidator) firstMissingCached(ctx context.Context, dir, branch string, paths []string) string {
	for _, p := range paths {
		if !v.lookup(ctx, dir, branch, p) {
			return p
		}
	}
	return ""
}
