package domain

import (
	"fmt"
	"time"
)

type SnapshotSource string

const (
	SourceCache      SnapshotSource = "cache"
	SourceStore      SnapshotSource = "store"
	SourceStaleCache SnapshotSource = "stale_cache"
	SourceDefault    SnapshotSource = "default"
)

type SnapshotCPU struct {
	UsagePercent float64 `json:"usage_percent"`
	FreePercent  float64 `json:"free_percent"`
}

// MetricSnapshot is the merged view handed to readers and subscribers.
type MetricSnapshot struct {
	CollectedAt int64          `json:"collected_at"`
	CPU         SnapshotCPU    `json:"cpu"`
	Memory      Memory         `json:"memory"`
	Processes   ProcessCounts  `json:"processes"`
	ObservedAt  *time.Time     `json:"observed_at,omitempty"`
	Source      SnapshotSource `json:"source"`
}

// NewSnapshot builds a snapshot from a validated sample. observedAt is the
// cache write time and is dropped when zero.
func NewSnapshot(s MetricSample, observedAt time.Time, source SnapshotSource) MetricSnapshot {
	snap := MetricSnapshot{
		CollectedAt: s.CollectedAt,
		Source:      source,
	}
	if s.CPU != nil {
		snap.CPU = SnapshotCPU{UsagePercent: s.CPU.UsagePercent, FreePercent: 100 - s.CPU.UsagePercent}
	}
	if s.Memory != nil {
		snap.Memory = *s.Memory
	}
	if s.Processes != nil {
		snap.Processes = *s.Processes
	}
	if !observedAt.IsZero() {
		t := observedAt
		snap.ObservedAt = &t
	}
	return snap
}

// DefaultSnapshot is returned before any sample has been ingested or stored.
// Every numeric field is zero, including CPU free percent.
func DefaultSnapshot() MetricSnapshot {
	return MetricSnapshot{Source: SourceDefault}
}

type Family string

const (
	FamilyCPU       Family = "cpu"
	FamilyRAM       Family = "ram"
	FamilyProcesses Family = "processes"
)

func ParseFamily(v string) (Family, error) {
	switch Family(v) {
	case FamilyCPU, FamilyRAM, FamilyProcesses:
		return Family(v), nil
	case "":
		return FamilyCPU, nil
	}
	return "", fmt.Errorf("unknown metric family %q", v)
}

type CPUPoint struct {
	ID           int64   `json:"id"`
	CollectedAt  int64   `json:"collected_at"`
	UsagePercent float64 `json:"usage_percent"`
}

type RAMPoint struct {
	ID          int64 `json:"id"`
	CollectedAt int64 `json:"collected_at"`
	Memory
}

type ProcessPoint struct {
	ID          int64 `json:"id"`
	CollectedAt int64 `json:"collected_at"`
	ProcessCounts
}

// Project narrows persisted rows to one family. Rows stored without process
// counts are skipped for the processes family.
func (f Family) Project(rows []PersistedSample) []any {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		s := row.Sample
		switch f {
		case FamilyCPU:
			if s.CPU != nil {
				out = append(out, CPUPoint{ID: row.ID, CollectedAt: s.CollectedAt, UsagePercent: s.CPU.UsagePercent})
			}
		case FamilyRAM:
			if s.Memory != nil {
				out = append(out, RAMPoint{ID: row.ID, CollectedAt: s.CollectedAt, Memory: *s.Memory})
			}
		case FamilyProcesses:
			if s.Processes != nil {
				out = append(out, ProcessPoint{ID: row.ID, CollectedAt: s.CollectedAt, ProcessCounts: *s.Processes})
			}
		}
	}
	return out
}
