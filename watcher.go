package fscache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// Watcher waits for filesystem changes on behalf of the cache. The
// cache needs exactly one kind of notification: a named file being
// removed, which is how a producer signals that an entry is ready.
type Watcher interface {
	// WaitRemove blocks until path no longer exists or ctx is done.
	// A nil return means the file is gone. Implementations must not
	// leak their subscription on either outcome.
	WaitRemove(ctx context.Context, path string) error
}

// defaultPollInterval is the poll cadence used when no watcher is
// configured and OS notifications are unavailable.
const defaultPollInterval = 10 * time.Millisecond

// defaultWatcher picks a Watcher for the filesystem: OS notifications
// for the real filesystem, polling for everything else. In-memory and
// wrapped filesystems are invisible to the OS notifier.
func defaultWatcher(fs afero.Fs) Watcher {
	if _, ok := fs.(*afero.OsFs); ok {
		return NewNotifyWatcher()
	}
	return NewPollWatcher(fs, defaultPollInterval)
}

// notifyWatcher waits for deletions using OS change notification.
type notifyWatcher struct{}

// NewNotifyWatcher returns a Watcher backed by OS filesystem
// notifications. It only observes the real filesystem; caches built on
// other afero filesystems should use NewPollWatcher.
func NewNotifyWatcher() Watcher {
	return notifyWatcher{}
}

func (notifyWatcher) WaitRemove(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Close()

	// Watch the parent directory: the file itself can disappear between
	// the caller's existence check and the Add call, and adding a watch
	// on a removed path fails.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	// The removal may have happened before the watch was in place.
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if ev.Name == path && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return fmt.Errorf("watch failed: %w", err)
		}
	}
}

// pollWatcher waits for deletions by polling the filesystem.
type pollWatcher struct {
	fs       afero.Fs
	interval time.Duration
}

// NewPollWatcher returns a Watcher that re-checks existence on fs
// every interval. It works against any afero filesystem, which makes
// it the default for in-memory filesystems. A non-positive interval
// falls back to the default.
func NewPollWatcher(fs afero.Fs, interval time.Duration) Watcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &pollWatcher{fs: fs, interval: interval}
}

func (w *pollWatcher) WaitRemove(ctx context.Context, path string) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		exists, err := afero.Exists(w.fs, path)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", path, err)
		}
		if !exists {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var (
	_ Watcher = notifyWatcher{}
	_ Watcher = (*pollWatcher)(nil)
)
