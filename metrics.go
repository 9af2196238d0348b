package fhirquality

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks validation performance metrics using lock-free atomic
// operations. All methods are safe for concurrent use.
type Metrics struct {
	// Validation counts
	validationsTotal atomic.Uint64
	validationsValid atomic.Uint64

	// Timing (stored as nanoseconds)
	validationTimeTotal atomic.Uint64
	validationTimeMin   atomic.Uint64
	validationTimeMax   atomic.Uint64

	// Cache metrics
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	// Bulk metrics
	resourcesSkipped atomic.Uint64

	// Issue counts by severity
	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64
	infosTotal    atomic.Uint64

	// Per-aspect timing
	aspectTiming sync.Map // map[Aspect]*aspectMetrics
}

// aspectMetrics tracks metrics for a single validation aspect.
type aspectMetrics struct {
	invocations atomic.Uint64
	totalTime   atomic.Uint64 // nanoseconds
	issuesFound atomic.Uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	// Initialize min to max uint64 so first value becomes the minimum
	m.validationTimeMin.Store(^uint64(0))
	return m
}

// RecordValidation records a completed validation.
func (m *Metrics) RecordValidation(duration time.Duration, valid bool) {
	m.validationsTotal.Add(1)
	if valid {
		m.validationsValid.Add(1)
	}

	ns := uint64(duration.Nanoseconds()) //nolint:gosec // durations here are non-negative
	m.validationTimeTotal.Add(ns)

	for {
		old := m.validationTimeMin.Load()
		if ns >= old {
			break
		}
		if m.validationTimeMin.CompareAndSwap(old, ns) {
			break
		}
	}

	for {
		old := m.validationTimeMax.Load()
		if ns <= old {
			break
		}
		if m.validationTimeMax.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordAspect records timing and issue count for one aspect execution.
func (m *Metrics) RecordAspect(aspect Aspect, duration time.Duration, issues int) {
	v, _ := m.aspectTiming.LoadOrStore(aspect, &aspectMetrics{})
	am := v.(*aspectMetrics)
	am.invocations.Add(1)
	am.totalTime.Add(uint64(duration.Nanoseconds())) //nolint:gosec
	am.issuesFound.Add(uint64(issues))               //nolint:gosec
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordSkipped records a resource skipped by change detection.
func (m *Metrics) RecordSkipped() {
	m.resourcesSkipped.Add(1)
}

// RecordIssues records issue counts by severity.
func (m *Metrics) RecordIssues(issues []Issue) {
	for _, issue := range issues {
		switch {
		case issue.IsError():
			m.errorsTotal.Add(1)
		case issue.IsWarning():
			m.warningsTotal.Add(1)
		default:
			m.infosTotal.Add(1)
		}
	}
}

// Snapshot is a point-in-time copy of all metric values.
type Snapshot struct {
	ValidationsTotal uint64
	ValidationsValid uint64
	AvgDuration      time.Duration
	MinDuration      time.Duration
	MaxDuration      time.Duration
	CacheHits        uint64
	CacheMisses      uint64
	ResourcesSkipped uint64
	ErrorsTotal      uint64
	WarningsTotal    uint64
	InfosTotal       uint64
	Aspects          map[Aspect]AspectSnapshot
}

// AspectSnapshot is a point-in-time copy of one aspect's metrics.
type AspectSnapshot struct {
	Invocations uint64
	AvgDuration time.Duration
	IssuesFound uint64
}

// Snapshot returns a consistent-enough copy of the current metrics.
func (m *Metrics) Snapshot() Snapshot {
	total := m.validationsTotal.Load()
	s := Snapshot{
		ValidationsTotal: total,
		ValidationsValid: m.validationsValid.Load(),
		CacheHits:        m.cacheHits.Load(),
		CacheMisses:      m.cacheMisses.Load(),
		ResourcesSkipped: m.resourcesSkipped.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		WarningsTotal:    m.warningsTotal.Load(),
		InfosTotal:       m.infosTotal.Load(),
		Aspects:          make(map[Aspect]AspectSnapshot),
	}

	if total > 0 {
		s.AvgDuration = time.Duration(m.validationTimeTotal.Load() / total) //nolint:gosec
	}
	if min := m.validationTimeMin.Load(); min != ^uint64(0) {
		s.MinDuration = time.Duration(min) //nolint:gosec
	}
	s.MaxDuration = time.Duration(m.validationTimeMax.Load()) //nolint:gosec

	m.aspectTiming.Range(func(key, value any) bool {
		am := value.(*aspectMetrics)
		snap := AspectSnapshot{
			Invocations: am.invocations.Load(),
			IssuesFound: am.issuesFound.Load(),
		}
		if snap.Invocations > 0 {
			snap.AvgDuration = time.Duration(am.totalTime.Load() / snap.Invocations) //nolint:gosec
		}
		s.Aspects[key.(Aspect)] = snap
		return true
	})

	return s
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.validationsTotal.Store(0)
	m.validationsValid.Store(0)
	m.validationTimeTotal.Store(0)
	m.validationTimeMin.Store(^uint64(0))
	m.validationTimeMax.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.resourcesSkipped.Store(0)
	m.errorsTotal.Store(0)
	m.warningsTotal.Store(0)
	m.infosTotal.Store(0)
	m.aspectTiming.Range(func(key, _ any) bool {
		m.aspectTiming.Delete(key)
		return true
	})
}
