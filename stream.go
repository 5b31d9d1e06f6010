package fscache

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// SaveResult tracks a save started with BeginSave. Wait blocks for the
// final artifact path; Stream exposes the artifact's bytes, following
// the write in progress when this save is the producer.
//
// The eventual outcome and the byte stream are deliberately separate
// handles: a caller forwarding bytes somewhere does not care when the
// fingerprint commits, and a caller awaiting the commit does not want
// the bytes.
type SaveResult struct {
	cache *Cache
	entry entry

	mu      sync.Mutex
	cond    *sync.Cond
	writing bool  // producer created the artifact and is streaming into it
	written int64 // artifact bytes visible to followers
	done    bool
	path    string
	err     error
}

func newSaveResult(c *Cache, e entry) *SaveResult {
	res := &SaveResult{cache: c, entry: e}
	res.cond = sync.NewCond(&res.mu)
	return res
}

// markWriting records that the artifact file exists and is being
// written by this save.
func (s *SaveResult) markWriting() {
	s.mu.Lock()
	s.writing = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// advance publishes n more artifact bytes to followers.
func (s *SaveResult) advance(n int64) {
	s.mu.Lock()
	s.written += n
	s.mu.Unlock()
	s.cond.Broadcast()
}

// finish resolves the save exactly once.
func (s *SaveResult) finish(path string, err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.path = path
	s.err = err
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Wait blocks until the save resolves and returns the artifact path.
// The entry's lock is already released when Wait returns, so the path
// is immediately loadable. Wait may be called from multiple goroutines
// and repeatedly; it keeps returning the same outcome.
func (s *SaveResult) Wait() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.done {
		s.cond.Wait()
	}
	return s.path, s.err
}

// Path returns the artifact path once the save has resolved
// successfully, and "" before that or after a failure. Use Wait to
// block for the outcome.
func (s *SaveResult) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done || s.err != nil {
		return ""
	}
	return s.path
}

// Stream returns a reader over the artifact's bytes. If this save is
// the producer and still writing, the reader follows the write as it
// progresses, without buffering the artifact in memory; reads block
// until more bytes land and see io.EOF once the write completes.
// Otherwise Stream waits for the save to resolve and opens a fresh
// read of the committed artifact.
//
// The caller owns the returned reader and must close it.
func (s *SaveResult) Stream() (io.ReadCloser, error) {
	s.mu.Lock()
	for !s.done && !s.writing {
		s.cond.Wait()
	}
	done, path, err := s.done, s.path, s.err
	s.mu.Unlock()

	if done {
		if err != nil {
			return nil, err
		}
		f, err := s.cache.fs.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact %s: %w", path, err)
		}
		return f, nil
	}

	f, err := s.cache.fs.Open(s.entry.artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact %s: %w", s.entry.artifact, err)
	}
	return &followReader{res: s, f: f}, nil
}

// waitReadable blocks until bytes past off exist or the save resolved.
func (s *SaveResult) waitReadable(off int64) (avail int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.written <= off && !s.done {
		s.cond.Wait()
	}
	return s.written, s.err
}

// progressWriter feeds copied byte counts into a SaveResult. It sits
// last in the write fan-out so followers never observe bytes before
// the artifact file has them.
type progressWriter struct {
	res *SaveResult
}

func (w progressWriter) Write(p []byte) (int, error) {
	w.res.advance(int64(len(p)))
	return len(p), nil
}

// followReader reads an artifact while its producer is still writing
// it, using the file itself as the buffer between the two.
type followReader struct {
	res    *SaveResult
	f      afero.File
	off    int64
	closed bool
}

func (r *followReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	avail, err := r.res.waitReadable(r.off)
	if avail <= r.off {
		// Fully drained; the save has resolved.
		if err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	n := avail - r.off
	if int64(len(p)) < n {
		n = int64(len(p))
	}
	read, readErr := r.f.ReadAt(p[:n], r.off)
	r.off += int64(read)
	if readErr != nil && readErr != io.EOF {
		return read, readErr
	}
	return read, nil
}

func (r *followReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}
