// Package worker runs blocking jobs on a fixed number of slots.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrPanicked is returned by Run when the job panicked
var ErrPanicked = errors.New("worker panicked")

// Pool bounds how many jobs run at once
type Pool struct {
	sem    *semaphore.Weighted
	active atomic.Int64
	logger *slog.Logger
}

// NewPool creates a pool with size slots
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger,
	}
}

// Active returns the number of jobs currently running
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Run waits for a free slot, then runs fn on a pool goroutine and blocks
// until it returns. fn gets a context that keeps ctx's values but not its
// cancellation: once started, a job always runs to completion. Only the
// wait for a slot honors ctx.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("failed to acquire worker slot: %w", err)
	}
	p.active.Add(1)

	done := make(chan error, 1)
	go func() {
		defer func() {
			p.active.Add(-1)
			p.sem.Release(1)
			if r := recover(); r != nil {
				p.logger.Error("worker panicked", "panic", r, "stack", string(debug.Stack()))
				done <- fmt.Errorf("%w: %v", ErrPanicked, r)
			}
		}()
		fn(context.WithoutCancel(ctx))
		done <- nil
	}()
	return <-done
}
