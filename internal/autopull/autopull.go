// Package autopull periodically re-syncs a fixed list of repositories so
// users see upstream updates without triggering a pull themselves.
package autopull

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	gosync "sync"
	"time"

	"github.com/schaermu/nbpuller/internal/config"
	"github.com/schaermu/nbpuller/internal/sync"
)

// Triggers passed to Run
const (
	TriggerTimer   = "timer"
	TriggerWebhook = "webhook"
)

// Entry is one line of the list file: repo,domain,account,branch. Empty
// trailing fields fall back to the configured defaults.
type Entry struct {
	Repo    string
	Domain  string
	Account string
	Branch  string
}

// ParseList reads entries from r. Blank lines and lines starting with '#'
// are skipped. Malformed lines are reported through bad and skipped.
func ParseList(r io.Reader, bad func(line int, err error)) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) > 4 {
			if bad != nil {
				bad(lineNo, fmt.Errorf("expected at most 4 fields, got %d", len(fields)))
			}
			continue
		}
		for len(fields) < 4 {
			fields = append(fields, "")
		}
		entry := Entry{
			Repo:    strings.TrimSpace(fields[0]),
			Domain:  strings.TrimSpace(fields[1]),
			Account: strings.TrimSpace(fields[2]),
			Branch:  strings.TrimSpace(fields[3]),
		}
		if entry.Repo == "" {
			if bad != nil {
				bad(lineNo, errors.New("missing repository name"))
			}
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read list: %w", err)
	}
	return entries, nil
}

// Runner syncs every listed repository for the configured user
type Runner struct {
	cfg    *config.Config
	syncer sync.Syncer
	logger *slog.Logger
	onRun  func(trigger string)

	mu      gosync.Mutex // guards running and pending
	running bool         // whether a run is in progress
	pending bool         // whether another run is needed after the current one
}

// NewRunner creates a runner
func NewRunner(cfg *config.Config, syncer sync.Syncer, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, syncer: syncer, logger: logger}
}

// OnRun registers fn to be called at the start of every run
func (r *Runner) OnRun(fn func(trigger string)) {
	r.onRun = fn
}

// Loop runs immediately and then every autopull.interval until ctx is done
func (r *Runner) Loop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.AutoPull.Interval)
	defer ticker.Stop()

	r.Run(ctx, TriggerTimer)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Run(ctx, TriggerTimer)
		}
	}
}

// Run syncs all listed repositories with single-flight semantics. If a run
// is already in progress, at most one additional run is queued and Run
// returns immediately.
func (r *Runner) Run(ctx context.Context, trigger string) {
	r.mu.Lock()
	if r.running {
		r.pending = true
		r.mu.Unlock()
		r.logger.Info("auto-pull already in progress, queuing pending re-run", "trigger", trigger)
		return
	}
	r.running = true
	r.mu.Unlock()

	for {
		if r.onRun != nil {
			r.onRun(trigger)
		}
		r.runOnce(ctx)

		r.mu.Lock()
		if !r.pending {
			r.running = false
			r.mu.Unlock()
			break
		}
		r.pending = false
		r.mu.Unlock()

		r.logger.Info("re-running auto-pull due to pending request")
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	f, err := os.Open(r.cfg.AutoPull.ListFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Info("auto-pull list file does not exist", "list_file", r.cfg.AutoPull.ListFile)
		} else {
			r.logger.Error("failed to open auto-pull list file", "list_file", r.cfg.AutoPull.ListFile, "error", err)
		}
		return
	}
	defer func() {
		_ = f.Close()
	}()

	entries, err := ParseList(f, func(line int, err error) {
		r.logger.Warn("skipping malformed auto-pull entry", "list_file", r.cfg.AutoPull.ListFile, "line", line, "error", err)
	})
	if err != nil {
		r.logger.Error("failed to parse auto-pull list file", "error", err)
		return
	}

	r.logger.Info("starting auto-pull run", "entries", len(entries))
	failed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		req := sync.Request{
			Username: r.cfg.AutoPull.Username,
			Repo:     entry.Repo,
			Domain:   entry.Domain,
			Account:  entry.Account,
			Branch:   entry.Branch,
			Paths:    r.cfg.AutoPull.Paths,
		}
		outcome := r.syncer.Sync(ctx, req, nil)
		if outcome.Kind == sync.OutcomeError {
			failed++
			r.logger.Warn("auto-pull failed", "repo", entry.Repo, "kind", outcome.Err.Kind)
		}
	}
	r.logger.Info("finished auto-pull run", "entries", len(entries), "failed", failed)
}
