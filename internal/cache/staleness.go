// Package cache holds the single, process-wide copy of the most recent sample.
package cache

import (
	"sync"
	"time"

	"sysmetrics-app/internal/domain"
)

type Entry struct {
	Sample     domain.MetricSample
	ObservedAt time.Time
}

// StalenessCache keeps one unified entry covering every metric family. It is
// created at process start and lives until exit. Reads and writes replace or
// copy the whole entry under the lock, so readers never see a torn sample.
type StalenessCache struct {
	mu    sync.RWMutex
	entry Entry
	now   func() time.Time
}

func New() *StalenessCache {
	return &StalenessCache{now: time.Now}
}

// NewWithClock is used by tests that need to move time by hand.
func NewWithClock(now func() time.Time) *StalenessCache {
	return &StalenessCache{now: now}
}

// Update overwrites the entry and stamps it with the current wall clock.
func (c *StalenessCache) Update(sample domain.MetricSample) error {
	c.mu.Lock()
	c.entry = Entry{Sample: sample.Clone(), ObservedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Read returns a copy of the entry; ok is false until the first write.
func (c *StalenessCache) Read() (Entry, bool) {
	c.mu.RLock()
	e := c.entry
	c.mu.RUnlock()
	if e.ObservedAt.IsZero() {
		return Entry{}, false
	}
	e.Sample = e.Sample.Clone()
	return e, true
}

// Repair writes a backfilled sample only if nothing was written since the
// caller read observedAt. A concurrent ingestion always wins over a repair.
func (c *StalenessCache) Repair(observedAt time.Time, sample domain.MetricSample) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.entry.ObservedAt.Equal(observedAt) {
		return false
	}
	c.entry = Entry{Sample: sample.Clone(), ObservedAt: c.now()}
	return true
}

func (c *StalenessCache) IsFresh(e Entry, window time.Duration) bool {
	if e.ObservedAt.IsZero() {
		return false
	}
	return c.now().Sub(e.ObservedAt) < window
}
