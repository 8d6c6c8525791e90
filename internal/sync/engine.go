// Package sync pulls requested paths of a remote repository into a user's
// sparse clone while preserving their local edits.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/schaermu/nbpuller/internal/config"
	"github.com/schaermu/nbpuller/internal/git"
	"github.com/schaermu/nbpuller/internal/owner"
	"github.com/schaermu/nbpuller/internal/pathutil"
	"github.com/schaermu/nbpuller/internal/progress"
	"github.com/schaermu/nbpuller/internal/sparse"
)

// Observer is notified once for every finished sync
type Observer interface {
	SyncFinished(outcome Outcome, elapsed time.Duration)
}

// Engine orchestrates the sync process
type Engine struct {
	cfg        *config.Config
	git        git.Tool
	owner      owner.Owner
	logger     *slog.Logger
	validator  *ExistenceValidator
	reconciler *Reconciler
	observer   Observer
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, tool git.Tool, own owner.Owner, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		git:        tool,
		owner:      own,
		logger:     logger,
		validator:  NewExistenceValidator(tool, logger),
		reconciler: NewReconciler(tool, logger),
	}
}

// WithObserver registers o to be told about every finished sync
func (e *Engine) WithObserver(o Observer) *Engine {
	e.observer = o
	return e
}

// CloneDir returns the directory the clone for req lives in
func (e *Engine) CloneDir(req Request) string {
	return filepath.Join(e.cfg.NotebookRootFor(req.Username), filepath.FromSlash(req.NotebookPath), req.Repo)
}

// Sync pulls req.Paths into the user's clone and reports progress to sink.
// It always returns exactly one outcome; failures never carry raw git
// diagnostics.
func (e *Engine) Sync(ctx context.Context, req Request, sink progress.Sink) (outcome Outcome) {
	start := time.Now()
	req = req.WithDefaults(e.cfg)
	logger := e.logger.With("user", req.Username, "repo", req.Repo, "branch", req.Branch)
	reporter := progress.NewReporter(req.Username, sink, logger, progress.DefaultMaxLines)

	defer func() {
		if e.observer != nil {
			e.observer.SyncFinished(outcome, time.Since(start))
		}
	}()

	if err := req.Validate(); err != nil {
		logger.Warn("rejected sync request", "error", err)
		return Failed(newError(err, e.cfg.Redirect.ErrorURL))
	}

	// Ownership is handed back on every exit once the clone directory is
	// known, before the lock is released.
	dir := e.CloneDir(req)
	var unlock func()
	defer func() {
		e.transferOwnership(ctx, dir, req.Username, logger)
		if unlock != nil {
			unlock()
		}
	}()

	if err := e.checkPolicy(req); err != nil {
		logger.Warn("rejected sync request", "error", err)
		return Failed(newError(err, e.cfg.Redirect.ErrorURL))
	}

	var err error
	if unlock, err = e.lockClone(ctx, dir); err != nil {
		logger.Error("sync failed", "clone_dir", dir, "error", err)
		return Failed(newError(err, e.cfg.Redirect.ErrorURL))
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("sync panicked", "clone_dir", dir, "panic", r, "stack", string(debug.Stack()))
			outcome = Failure(KindInternalError, e.cfg.Redirect.ErrorURL)
		}
	}()

	logger.Info("starting sync", "paths", req.Paths, "clone_dir", dir)
	if err := e.run(ctx, req, dir, reporter); err != nil {
		logger.Error("sync failed", "clone_dir", dir, "kind", Classify(err), "error", err, "progress", reporter.Snapshot())
		return Failed(newError(err, e.cfg.Redirect.ErrorURL))
	}

	outcome = e.success(req)
	logger.Info("sync completed successfully", "outcome", outcome.Kind, "duration", time.Since(start))
	return outcome
}

// checkPolicy rejects remotes outside the allowed domains and accounts
func (e *Engine) checkPolicy(req Request) error {
	if !e.cfg.DomainAllowed(req.Domain) {
		return fmt.Errorf("%w: %s", ErrDomainNotAllowed, req.Domain)
	}
	if !e.cfg.AccountAllowed(req.Domain, req.Account) {
		return fmt.Errorf("%w: account %s on %s", ErrDomainNotAllowed, req.Account, req.Domain)
	}
	return nil
}

// run executes the clone, validate, register and reconcile steps in order
func (e *Engine) run(ctx context.Context, req Request, dir string, reporter *progress.Reporter) error {
	fresh := false
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := e.cloneRepo(ctx, req, dir, reporter); err != nil {
			return err
		}
		fresh = true
	} else if err != nil {
		return fmt.Errorf("failed to stat clone directory: %w", err)
	} else if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return fmt.Errorf("%s exists but is not a git clone: %w", dir, err)
	}

	// A clone made moments ago already has current tracking refs
	var missing string
	if fresh {
		missing = e.validator.firstMissingCached(ctx, dir, req.Branch, req.Paths)
	} else {
		missing = e.validator.FirstMissing(ctx, dir, req.Branch, req.Paths)
	}
	if missing != "" {
		return &missingPathError{path: missing, branch: req.Branch}
	}

	added, err := sparse.ForClone(dir).Register(req.Paths)
	if err != nil {
		return fmt.Errorf("failed to register sparse paths: %w", err)
	}
	if len(added) > 0 {
		e.logger.Debug("registered sparse paths", "clone_dir", dir, "added", added)
	}

	return e.reconciler.Reconcile(ctx, dir, req.Branch, reporter)
}

// success builds the outcome of a completed sync
func (e *Engine) success(req Request) Outcome {
	if e.cfg.Redirect.GitPath == "" {
		return Status("Pulled from repo: " + req.Repo)
	}
	destination := req.Destination()
	location := pathutil.RenderTemplate(e.cfg.Redirect.GitPath, map[string]string{
		"username":    req.Username,
		"destination": pathutil.EscapeURLPath(destination),
	})
	return Redirected(destination, location)
}

// transferOwnership hands the clone over to username. It is skipped with
// mock authentication and when the clone was never created. It still runs
// when ctx is already done.
func (e *Engine) transferOwnership(ctx context.Context, dir, username string, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)
	if e.cfg.Serve.MockAuth {
		return
	}
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if err := e.owner.Chown(ctx, dir, username); err != nil {
		logger.Error("failed to transfer clone ownership", "clone_dir", dir, "error", err)
	}
}
