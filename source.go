package fscache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

type sourceKind int

const (
	sourceBytes sourceKind = iota
	sourceReader
	sourceLazy
)

// Source supplies the bytes for a save. Construct one with Bytes,
// String, Reader, or Lazy; the zero value behaves like Bytes(nil),
// which is a valid empty artifact.
//
// A Source is consumed at most once. When a save loses the producer
// race the source is never consumed at all: the winning producer's
// bytes are what ends up in the cache.
type Source struct {
	kind   sourceKind
	data   []byte
	reader io.Reader
	lazy   func() (Source, error)
}

// Bytes returns a Source backed by a byte slice.
// The slice must not be mutated until the save resolves.
func Bytes(b []byte) Source {
	return Source{kind: sourceBytes, data: b}
}

// String returns a Source backed by a string.
func String(s string) Source {
	return Source{kind: sourceBytes, data: []byte(s)}
}

// Reader returns a Source that streams from r. The cache never buffers
// the whole stream in memory; bytes flow straight into the artifact
// file.
func Reader(r io.Reader) Source {
	return Source{kind: sourceReader, reader: r}
}

// Lazy returns a Source produced on demand. The function runs only if
// this save wins the producer race, before any file is touched, so an
// expensive computation is skipped entirely when another producer got
// there first. An error from the function aborts the save and is
// returned to the caller.
func Lazy(fn func() (Source, error)) Source {
	return Source{kind: sourceLazy, lazy: fn}
}

// resolve unwraps lazy layers until a concrete bytes or reader source
// remains.
func (s Source) resolve() (Source, error) {
	for s.kind == sourceLazy {
		if s.lazy == nil {
			return Source{}, errors.New("nil lazy source")
		}
		next, err := s.lazy()
		if err != nil {
			return Source{}, fmt.Errorf("source producer failed: %w", err)
		}
		s = next
	}
	if s.kind == sourceReader && s.reader == nil {
		return Source{}, errors.New("nil reader source")
	}
	return s, nil
}

// stream returns the resolved source's bytes as a reader.
// Only valid after resolve.
func (s Source) stream() io.Reader {
	if s.kind == sourceReader {
		return s.reader
	}
	return bytes.NewReader(s.data)
}
