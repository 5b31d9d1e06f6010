package fscache

import (
	"io"
	"path/filepath"
)

// Suffixes appended to the artifact name to form the entry's companion
// files. The lock suffix is reserved; keys whose extension happens to
// be one of these still work because the digest, not the key, names
// the files.
const (
	integritySuffix     = ".integrity"
	fastIntegritySuffix = ".fast-integrity"
	lockSuffix          = ".fslock"
)

// keySeparator joins salt and key before hashing. A NUL byte cannot
// appear in a key that names a file, so distinct (salt, key) pairs can
// never collide by concatenation.
const keySeparator = "\x00"

// entry holds the three on-disk paths backing one cache key.
type entry struct {
	key      string
	artifact string
	sidecar  string
	lock     string
}

// keyDigest maps a key to the hex digest that names its files on disk.
func (c *Cache) keyDigest(key string) string {
	h := c.newHash()
	io.WriteString(h, c.salt)
	io.WriteString(h, keySeparator)
	io.WriteString(h, key)
	return hexDigest(h)
}

// entryFor derives the on-disk paths for a key. The key itself never
// appears in a path; only its digest and extension do. Pure and
// deterministic for a given cache configuration.
func (c *Cache) entryFor(key string) (entry, error) {
	if key == "" {
		return entry{}, ErrKeyEmpty
	}

	artifact := filepath.Join(c.dir, c.keyDigest(key)+filepath.Ext(key))
	sidecar := artifact + integritySuffix
	if c.fastHash {
		// Fast and content fingerprints are never comparable; a distinct
		// suffix keeps a mode switch from misreading old sidecars.
		sidecar = artifact + fastIntegritySuffix
	}

	return entry{
		key:      key,
		artifact: artifact,
		sidecar:  sidecar,
		lock:     artifact + lockSuffix,
	}, nil
}

// EntryPaths reports the on-disk paths the cache would use for a key.
type EntryPaths struct {
	Artifact string // the cached bytes
	Sidecar  string // the stored fingerprint
	Lock     string // the in-production marker
}

// Paths returns the derived paths for a key without touching the
// filesystem.
func (c *Cache) Paths(key string) (EntryPaths, error) {
	e, err := c.entryFor(key)
	if err != nil {
		return EntryPaths{}, err
	}
	return EntryPaths{
		Artifact: e.artifact,
		Sidecar:  e.sidecar,
		Lock:     e.lock,
	}, nil
}
