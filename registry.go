package fscache

import (
	"fmt"
	"path/filepath"
	"sync"
)

// dirRegistry tracks every cache directory claimed in this process.
// Its sole purpose is crash-early misconfiguration detection: two
// instances with different fingerprint settings (algorithm, fast mode,
// salt) sharing a directory would silently treat each other's entries
// as corrupt and erase them. The registry lives for the process
// lifetime; Close releases a claim so tests can rebuild caches.
var dirRegistry = struct {
	mu   sync.Mutex
	dirs map[string]struct{}
}{dirs: make(map[string]struct{})}

// registerDir claims dir for a single Cache instance.
// Directories are compared by absolute path.
func registerDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	dirRegistry.mu.Lock()
	defer dirRegistry.mu.Unlock()

	if _, taken := dirRegistry.dirs[abs]; taken {
		return "", fmt.Errorf("%s: %w", abs, ErrDirInUse)
	}
	dirRegistry.dirs[abs] = struct{}{}
	return abs, nil
}

// unregisterDir releases a claim made by registerDir. abs must be the
// resolved path registerDir returned.
func unregisterDir(abs string) {
	dirRegistry.mu.Lock()
	defer dirRegistry.mu.Unlock()
	delete(dirRegistry.dirs, abs)
}
