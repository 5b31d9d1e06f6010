package fscache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Stats represents cache statistics.
type Stats struct {
	Entries     int           // complete artifact/sidecar pairs
	Partial     int           // files missing their pair member
	Locks       int           // lock markers currently present
	TotalSize   int64         // total size of all artifacts in bytes
	OldestEntry time.Duration // age of the oldest artifact
	NewestEntry time.Duration // age of the newest artifact
}

// Entry describes a single artifact for iteration.
type Entry struct {
	Path     string // artifact path
	Size     int64
	ModTime  time.Time
	Complete bool // sidecar present
	Locked   bool // lock marker present
}

// Stats returns statistics about the cache directory. Files that are
// not part of an entry triad count as partial. Stats takes no lock;
// under concurrent saves it is a best-effort snapshot.
func (c *Cache) Stats() (Stats, error) {
	stats := Stats{}
	var oldest, newest time.Time

	artifacts, sidecars, locks, err := c.scanDir()
	if err != nil {
		return Stats{}, err
	}
	stats.Locks = len(locks)

	for path, info := range artifacts {
		stats.TotalSize += info.Size()
		if sidecars[path] {
			stats.Entries++
			delete(sidecars, path)
		} else {
			stats.Partial++
		}

		mtime := info.ModTime()
		if oldest.IsZero() || mtime.Before(oldest) {
			oldest = mtime
		}
		if newest.IsZero() || mtime.After(newest) {
			newest = mtime
		}
	}
	// Whatever is left has no artifact to pair with.
	stats.Partial += len(sidecars)

	now := c.nowFunc()
	if !oldest.IsZero() {
		stats.OldestEntry = now.Sub(oldest)
	}
	if !newest.IsZero() {
		stats.NewestEntry = now.Sub(newest)
	}

	return stats, nil
}

// Entries returns a snapshot of all artifacts in the cache directory,
// sorted by path.
func (c *Cache) Entries() ([]Entry, error) {
	artifacts, sidecars, locks, err := c.scanDir()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(artifacts))
	for path, info := range artifacts {
		entries = append(entries, Entry{
			Path:     path,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Complete: sidecars[path],
			Locked:   locks[path],
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// scanDir walks the cache directory once and classifies every file by
// its suffix. Sidecar and lock paths are keyed by the artifact they
// belong to.
func (c *Cache) scanDir() (artifacts map[string]os.FileInfo, sidecars, locks map[string]bool, err error) {
	artifacts = make(map[string]os.FileInfo)
	sidecars = make(map[string]bool)
	locks = make(map[string]bool)

	err = afero.Walk(c.fs, c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			// The cache layout is flat; leave nested directories alone.
			if path != c.dir {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case strings.HasSuffix(path, lockSuffix):
			locks[strings.TrimSuffix(path, lockSuffix)] = true
		case strings.HasSuffix(path, integritySuffix):
			sidecars[strings.TrimSuffix(path, integritySuffix)] = true
		case strings.HasSuffix(path, fastIntegritySuffix):
			sidecars[strings.TrimSuffix(path, fastIntegritySuffix)] = true
		default:
			artifacts[path] = info
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return artifacts, sidecars, locks, nil
}
