package fscache

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// Load reports the artifact path for key if a complete, verified entry
// exists. ok is false on any miss, including entries that are being
// produced right now, and corrupt entries, which Load erases so the
// next save starts clean. Corruption is never an error from the
// caller's point of view; the error return carries only real I/O
// failures.
func (c *Cache) Load(key string) (string, bool, error) {
	e, err := c.entryFor(key)
	if err != nil {
		return "", false, err
	}
	return c.loadEntry(e)
}

// LoadBuffer reads the verified artifact for key into memory.
func (c *Cache) LoadBuffer(key string) ([]byte, bool, error) {
	path, ok, err := c.Load(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	return data, true, nil
}

// LoadStream opens the verified artifact for key. The caller owns the
// returned reader and must close it.
func (c *Cache) LoadStream(key string) (io.ReadCloser, bool, error) {
	path, ok, err := c.Load(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	f, err := c.fs.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open artifact %s: %w", path, err)
	}
	return f, true, nil
}

// Remove deletes the entry for key, if any. It leaves the entry's lock
// marker alone: removal does not arbitrate against a producer that is
// writing the entry right now.
func (c *Cache) Remove(key string) error {
	e, err := c.entryFor(key)
	if err != nil {
		return err
	}
	c.removeEntry(e)
	return nil
}

// Clear removes every entry in the cache directory, lock markers
// included, and recreates the directory. It must not run concurrently
// with saves: producers lose their lock markers and their writes fail.
func (c *Cache) Clear() error {
	if err := c.fs.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate cache directory: %w", err)
	}
	return nil
}

// loadEntry decides whether the entry's artifact can be trusted. The
// proof is threefold: no lock marker, both pair members present, and
// the recomputed fingerprint equal to the stored one.
func (c *Cache) loadEntry(e entry) (string, bool, error) {
	locked, err := afero.Exists(c.fs, e.lock)
	if err != nil {
		return "", false, fmt.Errorf("failed to check lock %s: %w", e.lock, err)
	}
	if locked {
		// A producer is at work; the artifact must not be trusted even
		// if present.
		c.metrics.Miss(MissLocked)
		return "", false, nil
	}

	haveArtifact, err := afero.Exists(c.fs, e.artifact)
	if err != nil {
		return "", false, fmt.Errorf("failed to check artifact %s: %w", e.artifact, err)
	}
	haveSidecar, err := afero.Exists(c.fs, e.sidecar)
	if err != nil {
		return "", false, fmt.Errorf("failed to check sidecar %s: %w", e.sidecar, err)
	}

	switch {
	case !haveArtifact && !haveSidecar:
		c.metrics.Miss(MissAbsent)
		return "", false, nil
	case !haveArtifact || !haveSidecar:
		// Half an entry means its producer died between writes. Erase
		// the survivor so the next save starts clean.
		c.logger.Warn("removing partial entry", "key", e.key, "artifact", haveArtifact, "sidecar", haveSidecar)
		c.metrics.SelfHeal(MissPartial)
		c.removeEntry(e)
		c.metrics.Miss(MissPartial)
		return "", false, nil
	}

	stored, err := afero.ReadFile(c.fs, e.sidecar)
	if err != nil {
		return "", false, fmt.Errorf("failed to read sidecar %s: %w", e.sidecar, err)
	}
	recomputed, err := c.fingerprint(e.artifact)
	if err != nil {
		return "", false, err
	}
	if recomputed != string(stored) {
		c.logger.Warn("fingerprint mismatch, removing entry", "key", e.key, "path", e.artifact)
		c.metrics.SelfHeal(MissMismatch)
		c.removeEntry(e)
		c.metrics.Miss(MissMismatch)
		return "", false, nil
	}

	c.metrics.Hit()
	c.logger.Debug("entry loaded", "key", e.key, "path", e.artifact)
	return e.artifact, true, nil
}

// fingerprint recomputes an artifact's fingerprint with the cache's
// configured strategy.
func (c *Cache) fingerprint(path string) (string, error) {
	if c.fastHash {
		info, err := c.fs.Stat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat artifact %s: %w", path, err)
		}
		return mtimeFingerprint(c.newHash, info.ModTime()), nil
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact %s: %w", path, err)
	}
	defer f.Close()

	h := c.newHash()
	if err := digestContent(f, h); err != nil {
		return "", err
	}
	return hexDigest(h), nil
}

// removeEntry deletes an entry's artifact and sidecar. Errors are
// swallowed: cleanup must never mask the condition that triggered it
// or block progress.
func (c *Cache) removeEntry(e entry) {
	for _, path := range []string{e.artifact, e.sidecar} {
		if err := c.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("cleanup failed", "path", path, "error", err)
		}
	}
}
