package git

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CatFile reports whether path exists in the tree of rev without touching
// the working tree. rev may be a full ref name, a short branch name such as
// "origin/main", or a commit hash. Lookups run in-process through go-git.
func (c *ShellClient) CatFile(ctx context.Context, dir, rev, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return false, fmt.Errorf("failed to open repository: %w", err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return false, fmt.Errorf("failed to resolve %q: %w", rev, err)
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return false, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return false, fmt.Errorf("failed to read tree of %s: %w", hash, err)
	}

	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return true, nil
	}

	if _, err := tree.FindEntry(p); err != nil {
		if errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up %q: %w", p, err)
	}
	return true, nil
}
