package fsh

import (
	"sync/atomic"
	"time"
)

// Metrics tracks compiler performance counters using lock-free atomic
// operations. All methods are safe for concurrent use.
type Metrics struct {
	entitiesImported   atomic.Uint64
	entitiesExported   atomic.Uint64
	entitiesSkipped    atomic.Uint64
	rulesApplied       atomic.Uint64

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	errorsTotal   atomic.Uint64
	warningsTotal atomic.Uint64

	compileTimeTotal atomic.Uint64 // nanoseconds
}

// RecordImport increments the imported-entity counter.
func (m *Metrics) RecordImport() { m.entitiesImported.Add(1) }

// RecordExport increments the exported-entity counter.
func (m *Metrics) RecordExport() { m.entitiesExported.Add(1) }

// RecordSkip increments the skipped-entity counter (an entity that failed
// to export but did not abort the compilation).
func (m *Metrics) RecordSkip() { m.entitiesSkipped.Add(1) }

// RecordRule increments the applied-rule counter.
func (m *Metrics) RecordRule() { m.rulesApplied.Add(1) }

// RecordCacheHit increments the Fisher cache hit counter.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Add(1) }

// RecordCacheMiss increments the Fisher cache miss counter.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Add(1) }

// RecordDiagnostic increments the error or warning counter.
func (m *Metrics) RecordDiagnostic(isError bool) {
	if isError {
		m.errorsTotal.Add(1)
		return
	}
	m.warningsTotal.Add(1)
}

// RecordDuration adds d to the total compile time.
func (m *Metrics) RecordDuration(d time.Duration) {
	m.compileTimeTotal.Add(uint64(d.Nanoseconds()))
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	EntitiesImported uint64
	EntitiesExported uint64
	EntitiesSkipped  uint64
	RulesApplied     uint64
	CacheHits        uint64
	CacheMisses      uint64
	Errors           uint64
	Warnings         uint64
	CompileTime      time.Duration
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		EntitiesImported: m.entitiesImported.Load(),
		EntitiesExported: m.entitiesExported.Load(),
		EntitiesSkipped:  m.entitiesSkipped.Load(),
		RulesApplied:     m.rulesApplied.Load(),
		CacheHits:        m.cacheHits.Load(),
		CacheMisses:      m.cacheMisses.Load(),
		Errors:           m.errorsTotal.Load(),
		Warnings:         m.warningsTotal.Load(),
		CompileTime:      time.Duration(m.compileTimeTotal.Load()),
	}
}

// CacheHitRatio returns the Fisher cache hit ratio in [0,1], or 0 if no
// lookups have been recorded.
func (s Snapshot) CacheHitRatio() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}
