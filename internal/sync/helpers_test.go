package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/nbpuller/internal/config"
	"github.com/schaermu/nbpuller/internal/git"
	"github.com/schaermu/nbpuller/internal/progress"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a config rooted in temporary directories
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Paths: config.PathsConfig{
			NotebookRoot: filepath.Join(t.TempDir(), "{username}"),
			LockDir:      t.TempDir(),
		},
		Remote: config.RemoteConfig{
			URLTemplate: "https://{domain}/{account}/{repo}",
		},
		Redirect: config.RedirectConfig{
			ErrorURL: "/hub/home",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestReporter(lines *[]string) *progress.Reporter {
	return progress.NewReporter("alice", func(s string) {
		if lines != nil {
			parts := strings.Split(s, "\n")
			*lines = append(*lines, parts[len(parts)-1])
		}
	}, nil, 0)
}

// fakeTool is an in-memory git.Tool recording every call
type fakeTool struct {
	calls []string

	cloneErr    error
	enableErr   error
	fetchErr    error
	mergeErr    error
	commitErr   error
	checkoutErr error
	readTreeErr error
	statusErr   error
	catFileErr  error

	// statuses are returned by successive Status calls; the last one repeats
	statuses [][]git.StatusEntry
	// existing lists the paths CatFile finds; nil means every path exists
	existing map[string]bool
	// progress lines emitted by Clone and Fetch
	progress []string
	// panicOn names a method that panics when called
	panicOn string

	statusCalls int
}

func (f *fakeTool) record(format string, args ...any) {
	call := fmt.Sprintf(format, args...)
	f.calls = append(f.calls, call)
	if f.panicOn != "" && strings.HasPrefix(call, f.panicOn) {
		panic("fake panic in " + f.panicOn)
	}
}

func (f *fakeTool) emit(progress git.ProgressFunc) {
	if progress == nil {
		return
	}
	for _, line := range f.progress {
		progress(line)
	}
}

func (f *fakeTool) Clone(_ context.Context, url, branch, dir string, progress git.ProgressFunc) error {
	f.record("clone %s %s", url, branch)
	f.emit(progress)
	if f.cloneErr != nil {
		_ = os.MkdirAll(dir, 0755)
		return f.cloneErr
	}
	return os.MkdirAll(filepath.Join(dir, ".git", "info"), 0755)
}

func (f *fakeTool) EnableSparseCheckout(_ context.Context, _ string) error {
	f.record("sparse")
	return f.enableErr
}

func (f *fakeTool) Fetch(_ context.Context, _, branch string, progress git.ProgressFunc) error {
	f.record("fetch %s", branch)
	f.emit(progress)
	return f.fetchErr
}

func (f *fakeTool) Merge(_ context.Context, _, ref string) error {
	f.record("merge %s", ref)
	return f.mergeErr
}

func (f *fakeTool) Commit(_ context.Context, _, message string) error {
	f.record("commit %s", message)
	return f.commitErr
}

func (f *fakeTool) Checkout(_ context.Context, _, rev string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	f.record("checkout %s %s", rev, strings.Join(paths, ","))
	return f.checkoutErr
}

func (f *fakeTool) ReadTree(_ context.Context, _ string) error {
	f.record("read-tree")
	return f.readTreeErr
}

func (f *fakeTool) CatFile(_ context.Context, _, rev, path string) (bool, error) {
	f.record("cat-file %s:%s", rev, path)
	if f.catFileErr != nil {
		return false, f.catFileErr
	}
	if f.existing == nil {
		return true, nil
	}
	return f.existing[path], nil
}

func (f *fakeTool) Status(_ context.Context, _ string) ([]git.StatusEntry, error) {
	f.record("status")
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if len(f.statuses) == 0 {
		return nil, nil
	}
	i := f.statusCalls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.statusCalls++
	return f.statuses[i], nil
}

// recordingOwner captures Chown calls
type recordingOwner struct {
	dirs  []string
	users []string
	err   error
}

func (o *recordingOwner) Chown(_ context.Context, dir, username string) error {
	o.dirs = append(o.dirs, dir)
	o.users = append(o.users, username)
	return o.err
}

// recordingObserver captures finished outcomes
type recordingObserver struct {
	outcomes []Outcome
}

func (o *recordingObserver) SyncFinished(outcome Outcome, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
}
