package fscache

import "time"

// MissReason classifies why a load did not yield a valid entry.
type MissReason int

const (
	// MissAbsent means no entry files exist for the key.
	MissAbsent MissReason = iota
	// MissLocked means a producer currently holds the entry's lock.
	MissLocked
	// MissPartial means only one of the artifact/sidecar pair was found.
	MissPartial
	// MissMismatch means the stored fingerprint did not match the artifact.
	MissMismatch
)

// String returns a stable label value for the reason.
func (r MissReason) String() string {
	switch r {
	case MissAbsent:
		return "absent"
	case MissLocked:
		return "locked"
	case MissPartial:
		return "partial"
	case MissMismatch:
		return "mismatch"
	}
	return "unknown"
}

// Metrics exposes cache-level observability hooks. Implementations
// must be safe for concurrent use. A NoopMetrics implementation is
// provided and used by default.
type Metrics interface {
	Hit()
	Miss(reason MissReason)
	SaveStarted()
	SaveCompleted(bytes int64, elapsed time.Duration)
	SaveFailed()
	LockWait()
	StaleLockReclaimed()
	SelfHeal(reason MissReason)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is safe for concurrent use and intended as the default when no
// observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                               {}
func (NoopMetrics) Miss(MissReason)                    {}
func (NoopMetrics) SaveStarted()                       {}
func (NoopMetrics) SaveCompleted(int64, time.Duration) {}
func (NoopMetrics) SaveFailed()                        {}
func (NoopMetrics) LockWait()                          {}
func (NoopMetrics) StaleLockReclaimed()                {}
func (NoopMetrics) SelfHeal(MissReason)                {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
