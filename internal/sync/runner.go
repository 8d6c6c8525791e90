package sync

import (
	"context"
	"log/slog"

	"github.com/schaermu/nbpuller/internal/progress"
	"github.com/schaermu/nbpuller/internal/worker"
)

// Syncer runs one sync and returns its outcome
type Syncer interface {
	Sync(ctx context.Context, req Request, sink progress.Sink) Outcome
}

// PooledSyncer runs syncs on a bounded worker pool. Callers block until
// their sync has finished.
type PooledSyncer struct {
	engine Syncer
	pool   *worker.Pool
	logger *slog.Logger
	errURL string
}

// NewPooledSyncer wraps engine so every sync occupies one pool slot
func NewPooledSyncer(engine Syncer, pool *worker.Pool, errorURL string, logger *slog.Logger) *PooledSyncer {
	return &PooledSyncer{engine: engine, pool: pool, logger: logger, errURL: errorURL}
}

// Sync implements Syncer
func (p *PooledSyncer) Sync(ctx context.Context, req Request, sink progress.Sink) Outcome {
	outcome := Failure(KindInternalError, p.errURL)
	err := p.pool.Run(ctx, func(ctx context.Context) {
		outcome = p.engine.Sync(ctx, req, sink)
	})
	if err != nil {
		p.logger.Error("sync did not run to completion", "user", req.Username, "repo", req.Repo, "error", err)
		return Failure(KindInternalError, p.errURL)
	}
	return outcome
}
