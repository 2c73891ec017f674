package ingest

import (
	"sync"
	"time"
)

const DefaultSampleInterval = 2 * time.Second

// SampledWriter admits at most one durable write per aligned window of
// length interval. Windows start at now.Truncate(interval), so every window
// that sees at least one ingestion yields exactly one write. This is not a
// minimum spacing: two admitted writes may land milliseconds apart on either
// side of a window boundary.
type SampledWriter struct {
	mu         sync.Mutex
	interval   time.Duration
	lastWindow time.Time
	recorded   bool
}

func NewSampledWriter(interval time.Duration) *SampledWriter {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &SampledWriter{interval: interval}
}

func (w *SampledWriter) Interval() time.Duration {
	return w.interval
}

func (w *SampledWriter) window(now time.Time) time.Time {
	return now.Truncate(w.interval)
}

// ShouldPersist reports whether now falls in a window that has not yet been
// written. The first call always returns true.
func (w *SampledWriter) ShouldPersist(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open(now)
}

// RecordPersisted closes the window containing now.
func (w *SampledWriter) RecordPersisted(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(now)
}

// Admit is ShouldPersist followed by RecordPersisted under one lock. When
// several callers race in the same window exactly one of them gets true.
func (w *SampledWriter) Admit(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open(now) {
		return false
	}
	w.record(now)
	return true
}

func (w *SampledWriter) open(now time.Time) bool {
	return !w.recorded || w.window(now).After(w.lastWindow)
}

func (w *SampledWriter) record(now time.Time) {
	win := w.window(now)
	if !w.recorded || win.After(w.lastWindow) {
		w.lastWindow = win
	}
	w.recorded = true
}
