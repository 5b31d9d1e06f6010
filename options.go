package fscache

import (
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

// WithFs sets a custom filesystem for the cache.
// This is primarily useful for testing with in-memory filesystems.
//
// Example:
//
//	cache, err := fscache.New(".fscache", fscache.WithFs(afero.NewMemMapFs()))
func WithFs(fs afero.Fs) Option {
	return func(c *Cache) {
		c.fs = fs
	}
}

// WithAlgorithm sets the fingerprint algorithm for the cache.
// The default is SHA1.
//
// Note: entries written under a different algorithm become unreadable
// and will be erased as corrupt on the next load.
func WithAlgorithm(a Algorithm) Option {
	return func(c *Cache) {
		c.algorithm = a
	}
}

// WithFastHash switches the cache to modification-time fingerprints.
// Fast mode never reads artifact content to validate it, which makes
// loads O(1) in artifact size, but accepts any artifact whose mtime is
// unchanged, even if its bytes were altered. Fast and content entries
// use distinct sidecar names and never validate against each other.
func WithFastHash() Option {
	return func(c *Cache) {
		c.fastHash = true
	}
}

// WithSalt sets the fingerprint salt mixed into every key digest.
// It overrides the default taken from the SaltEnv environment
// variable. Caches with different salts address disjoint entries even
// in a shared directory.
func WithSalt(salt string) Option {
	return func(c *Cache) {
		c.salt = salt
	}
}

// WithStaleTimeout sets how old a lock marker must be before it is
// considered abandoned by a crashed producer and reclaimed. The
// default is DefaultStaleTimeout; non-positive values reset to it.
func WithStaleTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.staleTimeout = d
	}
}

// WithWatcher sets the service used to wait for lock release. The
// default watches via OS notifications on the real filesystem and
// falls back to polling elsewhere.
func WithWatcher(w Watcher) Option {
	return func(c *Cache) {
		c.watcher = w
	}
}

// WithLogger sets the structured logger for the cache. The default
// discards everything. The cache logs self-healing and stale-lock
// reclamation at warn level and routine operations at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink for the cache.
// The default is NoopMetrics.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithNowFunc sets a custom time function for the cache.
// This is primarily useful for testing staleness with deterministic
// timestamps.
func WithNowFunc(nowFunc NowFunc) Option {
	return func(c *Cache) {
		c.nowFunc = nowFunc
	}
}
