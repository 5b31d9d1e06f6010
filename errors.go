package fscache

import (
	"errors"
)

// Sentinel errors
var (
	// ErrKeyEmpty is returned when an operation is given an empty key.
	ErrKeyEmpty = errors.New("cache key is empty")

	// ErrDirInUse is returned by New when another Cache in this process
	// already owns the requested directory. Two differently configured
	// instances writing the same directory would produce entries the
	// other cannot verify, so construction fails instead.
	ErrDirInUse = errors.New("cache directory already in use")

	// ErrWaitTimeout is returned when waiting for a concurrent producer
	// to release an entry's lock exceeds the caller's timeout. The
	// returned error names the elapsed bound; unwrap with errors.Is.
	ErrWaitTimeout = errors.New("wait timeout")

	// ErrNotProduced is returned when a save lost the race to a
	// concurrent producer and no valid entry existed once that producer
	// finished.
	ErrNotProduced = errors.New("failed to produce cache entry")
)
