package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"sysmetrics-app/internal/domain"
)

// MemoryStore keeps rows in a slice in insertion order. It satisfies the same
// ordering rules as SQLiteStore and is used for storage.driver=memory.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   []domain.PersistedSample
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextID == 0 {
		m.nextID = 1
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (m *MemoryStore) Append(ctx context.Context, sample domain.MetricSample) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable("inserting sample", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextID == 0 {
		m.nextID = 1
	}
	id := m.nextID
	m.nextID++
	m.rows = append(m.rows, domain.PersistedSample{ID: id, ReceivedAt: time.Now(), Sample: sample.Clone()})
	return id, nil
}

// sorted returns copies ordered by collected_at then id, ascending.
func (m *MemoryStore) sorted() []domain.PersistedSample {
	m.mu.RLock()
	out := make([]domain.PersistedSample, len(m.rows))
	for i, r := range m.rows {
		out[i] = domain.PersistedSample{ID: r.ID, ReceivedAt: r.ReceivedAt, Sample: r.Sample.Clone()}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sample.CollectedAt != out[j].Sample.CollectedAt {
			return out[i].Sample.CollectedAt < out[j].Sample.CollectedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) Latest(ctx context.Context) (domain.MetricSample, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.MetricSample{}, false, unavailable("querying latest sample", err)
	}
	rows := m.sorted()
	if len(rows) == 0 {
		return domain.MetricSample{}, false, nil
	}
	return rows[len(rows)-1].Sample, true, nil
}

func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]domain.PersistedSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("querying recent samples", err)
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows := m.sorted()
	out := make([]domain.PersistedSample, 0, limit)
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func (m *MemoryStore) Range(ctx context.Context, since int64) ([]domain.PersistedSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("querying sample range", err)
	}
	out := make([]domain.PersistedSample, 0)
	for _, r := range m.sorted() {
		if r.Sample.CollectedAt >= since {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) Stats(ctx context.Context, since int64) (domain.Stats, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stats{}, unavailable("aggregating samples", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := domain.Stats{Since: since, TotalRecords: int64(len(m.rows))}
	var cpuSum, ramSum float64
	for _, r := range m.rows {
		if r.Sample.CollectedAt < since {
			continue
		}
		cpu, ram := r.Sample.CPU.UsagePercent, r.Sample.Memory.UsagePercent
		if stats.Samples == 0 {
			stats.CPU = domain.WindowStats{Max: cpu, Min: cpu}
			stats.RAM = domain.WindowStats{Max: ram, Min: ram}
		}
		stats.Samples++
		cpuSum += cpu
		ramSum += ram
		stats.CPU.Max, stats.CPU.Min = max(stats.CPU.Max, cpu), min(stats.CPU.Min, cpu)
		stats.RAM.Max, stats.RAM.Min = max(stats.RAM.Max, ram), min(stats.RAM.Min, ram)
	}
	if stats.Samples > 0 {
		stats.CPU.Average = cpuSum / float64(stats.Samples)
		stats.RAM.Average = ramSum / float64(stats.Samples)
	}
	return stats, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
