package fscache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
)

// lockState is the outcome of an acquisition attempt.
type lockState int

const (
	lockAcquired lockState = iota // caller is the elected producer
	lockComplete                  // artifact already exists, nothing to produce
	lockBusy                      // another producer holds the marker
)

// acquireLock decides whether the caller becomes the producer for an
// entry. The exclusive create on the lock marker is the only
// arbitration step; everything before it merely clears the way.
func (c *Cache) acquireLock(e entry) (lockState, error) {
	exists, err := afero.Exists(c.fs, e.artifact)
	if err != nil {
		return 0, fmt.Errorf("failed to check artifact %s: %w", e.artifact, err)
	}
	if exists {
		return lockComplete, nil
	}

	if err := c.reclaimStaleLock(e); err != nil {
		return 0, err
	}

	f, err := c.fs.OpenFile(e.lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return lockBusy, nil
		}
		return 0, fmt.Errorf("failed to create lock %s: %w", e.lock, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close lock %s: %w", e.lock, err)
	}
	return lockAcquired, nil
}

// reclaimStaleLock removes a lock marker whose owner is presumed dead.
// Staleness only grants permission to attempt removal; two actors may
// both do so, and the exclusive create that follows still elects a
// single producer. Removal is best-effort.
func (c *Cache) reclaimStaleLock(e entry) error {
	info, err := c.fs.Stat(e.lock)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat lock %s: %w", e.lock, err)
	}

	age := c.nowFunc().Sub(info.ModTime())
	if age <= c.staleTimeout {
		return nil
	}

	c.logger.Warn("reclaiming stale lock", "key", e.key, "path", e.lock, "age", age)
	c.metrics.StaleLockReclaimed()
	if err := c.fs.Remove(e.lock); err != nil && !errors.Is(err, os.ErrNotExist) {
		// Someone else may have reclaimed it first; the exclusive
		// create below settles who proceeds.
		c.logger.Debug("stale lock removal failed", "path", e.lock, "error", err)
	}
	return nil
}

// releaseLock removes the lock marker. Best-effort: the marker may
// already be gone when a stale-lock reclaimer raced us, and a failed
// release must never mask the error that led here.
func (c *Cache) releaseLock(e entry) {
	if err := c.fs.Remove(e.lock); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Debug("lock release failed", "path", e.lock, "error", err)
	}
}

// waitForRelease parks until the entry's lock marker disappears. A
// positive timeout bounds the wait independently of ctx; zero means
// the wait is bounded by ctx alone.
func (c *Cache) waitForRelease(ctx context.Context, e entry, timeout time.Duration) error {
	exists, err := afero.Exists(c.fs, e.lock)
	if err != nil {
		return fmt.Errorf("failed to check lock %s: %w", e.lock, err)
	}
	if !exists {
		return nil
	}

	c.metrics.LockWait()
	c.logger.Debug("waiting for producer", "key", e.key, "lock", e.lock, "timeout", timeout)

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = c.watcher.WaitRemove(waitCtx, e.lock)
	if err == nil {
		return nil
	}
	if timeout > 0 && waitCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("lock %s still held after %s: %w", e.lock, timeout, ErrWaitTimeout)
	}
	return err
}
