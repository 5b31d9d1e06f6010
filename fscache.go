package fscache

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Defaults applied by New when no option overrides them.
const (
	// DefaultDir is the cache directory used when none is given.
	DefaultDir = ".fscache"

	// DefaultStaleTimeout is how old a lock marker must be before any
	// actor may assume its owner crashed and reclaim it.
	DefaultStaleTimeout = 5 * time.Minute

	// SaltEnv names the environment variable consulted for the default
	// fingerprint salt.
	SaltEnv = "FSCACHE_SALT"
)

// NowFunc defines a function that returns the current time.
type NowFunc func() time.Time

// Cache is a filesystem-backed artifact cache that multiple
// independent processes can share through a common directory, for
// example on a network volume. Coordination happens purely through
// filesystem primitives; no in-memory locking guards entries, so the
// same correctness argument holds within one process and across hosts.
//
// Every entry is a triad of co-located files: the artifact itself, an
// integrity sidecar holding its fingerprint, and a lock marker that
// exists only while a producer is writing. An artifact is trusted only
// when no lock is present, both pair members exist, and the recomputed
// fingerprint matches the sidecar.
type Cache struct {
	dir          string
	registered   string // resolved path held in the directory registry
	fs           afero.Fs
	algorithm    Algorithm
	newHash      HashFunc
	fastHash     bool
	salt         string
	staleTimeout time.Duration
	watcher      Watcher
	nowFunc      NowFunc
	logger       *slog.Logger
	metrics      Metrics
	closeOnce    sync.Once
}

// Option defines a function that configures a Cache.
type Option func(*Cache)

// New creates a cache rooted at dir, creating the directory if needed.
// An empty dir selects DefaultDir. It uses the OS filesystem, SHA-1
// content fingerprints and the salt from SaltEnv unless options say
// otherwise.
//
// Each directory may be claimed by at most one Cache per process;
// New returns ErrDirInUse for a duplicate. Close releases the claim.
func New(dir string, options ...Option) (*Cache, error) {
	cache := &Cache{
		dir:          dir,
		fs:           afero.NewOsFs(),
		algorithm:    DefaultAlgorithm,
		salt:         os.Getenv(SaltEnv),
		staleTimeout: DefaultStaleTimeout,
		nowFunc:      time.Now,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:      NoopMetrics{},
	}
	if cache.dir == "" {
		cache.dir = DefaultDir
	}

	// Apply options
	for _, option := range options {
		option(cache)
	}

	hashFunc, err := cache.algorithm.HashFunc()
	if err != nil {
		return nil, err
	}
	cache.newHash = hashFunc

	if cache.staleTimeout <= 0 {
		cache.staleTimeout = DefaultStaleTimeout
	}
	if cache.watcher == nil {
		cache.watcher = defaultWatcher(cache.fs)
	}

	registered, err := registerDir(cache.dir)
	if err != nil {
		return nil, err
	}
	cache.registered = registered

	if err := cache.fs.MkdirAll(cache.dir, 0o755); err != nil {
		unregisterDir(registered)
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return cache, nil
}

// Dir returns the cache's root directory as configured.
func (c *Cache) Dir() string {
	return c.dir
}

// Algorithm returns the fingerprint algorithm in use.
func (c *Cache) Algorithm() Algorithm {
	return c.algorithm
}

// Close releases the cache's claim on its directory so a new instance
// may be constructed for it. It never touches cached data, and it does
// not invalidate in-flight operations.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		unregisterDir(c.registered)
	})
	return nil
}
