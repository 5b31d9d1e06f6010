package fscache

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Algorithm identifies a fingerprint algorithm supported by the cache.
// Entries written under one algorithm are unreadable under another, so
// the choice is fixed at construction time.
type Algorithm string

// Supported fingerprint algorithms.
const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	XXH64  Algorithm = "xxh64"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = SHA1

// HashFunc defines a function that creates a new hash.Hash instance.
type HashFunc func() hash.Hash

// HashFunc returns the hash factory for the algorithm.
// Unknown algorithms are rejected with an error.
func (a Algorithm) HashFunc() (HashFunc, error) {
	switch a {
	case MD5:
		return md5.New, nil
	case SHA1:
		return sha1.New, nil
	case SHA256:
		return sha256.New, nil
	case SHA512:
		return sha512.New, nil
	case XXH64:
		return func() hash.Hash { return xxhash.New() }, nil
	}
	return nil, fmt.Errorf("unknown hash algorithm %q", string(a))
}

// Default size for the buffer used when hashing and copying artifacts
const defaultBufferSize = 32 * 1024 // 32KB

// bufferPool is a pool of byte slices used for file I/O during hashing
var bufferPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, defaultBufferSize)
		return &buffer
	},
}

// digestContent hashes everything the reader yields using the provided hash.
func digestContent(content io.Reader, h hash.Hash) error {
	bufPtr := bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer bufferPool.Put(bufPtr)

	_, err := io.CopyBuffer(h, content, buffer)
	if err != nil {
		return fmt.Errorf("failed to copy content: %w", err)
	}
	return nil
}

// hexDigest finalizes a hash into the lowercase hex form stored in
// sidecar files and compared on load.
func hexDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// mtimeFingerprint digests a file's modification time in milliseconds.
// Fast mode trusts the timestamp instead of the content, so validating
// an artifact never requires re-reading it.
func mtimeFingerprint(newHash HashFunc, mtime time.Time) string {
	h := newHash()
	io.WriteString(h, strconv.FormatInt(mtime.UnixMilli(), 10))
	return hexDigest(h)
}
