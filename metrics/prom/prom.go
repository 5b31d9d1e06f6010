// Package prom adapts fscache metrics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gophersatwork/fscache"
)

// Adapter implements fscache.Metrics and exports Prometheus counters.
// Safe for concurrent use; all Prometheus metric types are
// goroutine-safe.
type Adapter struct {
	hits        prometheus.Counter
	misses      *prometheus.CounterVec
	saves       prometheus.Counter
	saveBytes   prometheus.Counter
	saveSeconds prometheus.Counter
	saveFails   prometheus.Counter
	lockWaits   prometheus.Counter
	staleLocks  prometheus.Counter
	selfHeals   *prometheus.CounterVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Verified cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "misses_total",
				Help:        "Cache misses by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		saves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "saves_total",
			Help:        "Write pipelines started as the elected producer",
			ConstLabels: constLabels,
		}),
		saveBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "save_bytes_total",
			Help:        "Artifact bytes written by completed saves",
			ConstLabels: constLabels,
		}),
		saveSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "save_seconds_total",
			Help:        "Time spent in completed write pipelines",
			ConstLabels: constLabels,
		}),
		saveFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "save_failures_total",
			Help:        "Write pipelines that failed",
			ConstLabels: constLabels,
		}),
		lockWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "lock_waits_total",
			Help:        "Saves that waited on another producer's lock",
			ConstLabels: constLabels,
		}),
		staleLocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "stale_locks_reclaimed_total",
			Help:        "Lock markers reclaimed from presumed-dead producers",
			ConstLabels: constLabels,
		}),
		selfHeals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "self_heals_total",
				Help:        "Corrupt or partial entries erased by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
	}
	reg.MustRegister(
		a.hits, a.misses,
		a.saves, a.saveBytes, a.saveSeconds, a.saveFails,
		a.lockWaits, a.staleLocks, a.selfHeals,
	)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter with a reason label.
func (a *Adapter) Miss(r fscache.MissReason) {
	a.misses.WithLabelValues(r.String()).Inc()
}

// SaveStarted counts an elected producer entering the write pipeline.
func (a *Adapter) SaveStarted() { a.saves.Inc() }

// SaveCompleted accumulates bytes written and time spent.
func (a *Adapter) SaveCompleted(bytes int64, elapsed time.Duration) {
	a.saveBytes.Add(float64(bytes))
	a.saveSeconds.Add(elapsed.Seconds())
}

// SaveFailed increments the failure counter.
func (a *Adapter) SaveFailed() { a.saveFails.Inc() }

// LockWait counts a save parking behind another producer.
func (a *Adapter) LockWait() { a.lockWaits.Inc() }

// StaleLockReclaimed counts a reclaimed lock marker.
func (a *Adapter) StaleLockReclaimed() { a.staleLocks.Inc() }

// SelfHeal increments the self-heal counter with a reason label.
func (a *Adapter) SelfHeal(r fscache.MissReason) {
	a.selfHeals.WithLabelValues(r.String()).Inc()
}

// Compile-time check: ensure Adapter implements fscache.Metrics.
var _ fscache.Metrics = (*Adapter)(nil)
