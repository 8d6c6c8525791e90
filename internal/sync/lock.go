package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	// lockTimeout bounds how long a sync waits for another sync of the same
	// clone to finish
	lockTimeout = 10 * time.Minute
	// lockRetryInterval is the polling interval while waiting for the lock
	lockRetryInterval = 100 * time.Millisecond
)

// lockPath returns the lock file guarding the clone at dir
func (e *Engine) lockPath(dir string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(dir)))
	return filepath.Join(e.cfg.Paths.LockDir, hex.EncodeToString(sum[:12])+".lock")
}

// lockClone takes the exclusive lock for the clone at dir. Syncs of the same
// clone are serialized across goroutines and processes. The returned func
// releases the lock.
func (e *Engine) lockClone(ctx context.Context, dir string) (func(), error) {
	if err := os.MkdirAll(e.cfg.Paths.LockDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lockFilePath := e.lockPath(dir)
	fileLock := flock.New(lockFilePath)

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("could not acquire lock for %s: timeout after %v", dir, lockTimeout)
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			e.logger.Warn("failed to release clone lock", "lock_file", lockFilePath, "error", err)
		}
	}, nil
}
