package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSample      = errors.New("invalid metric sample")
	ErrStorageUnavailable = errors.New("metric storage unavailable")
	ErrBackendUnavailable = errors.New("metric cache and storage unavailable")
)

type CPU struct {
	UsagePercent float64 `json:"usage_percent"`
}

type Memory struct {
	TotalKB      uint64  `json:"total_kb"`
	FreeKB       uint64  `json:"free_kb"`
	UsedKB       uint64  `json:"used_kb"`
	UsagePercent float64 `json:"usage_percent"`
}

type ProcessCounts struct {
	Running  uint64 `json:"running"`
	Sleeping uint64 `json:"sleeping"`
	Zombie   uint64 `json:"zombie"`
	Stopped  uint64 `json:"stopped"`
	Total    uint64 `json:"total"`
}

// MetricSample is one collection event as posted by an agent. CPU and Memory
// are pointers so a missing family can be told apart from a zero reading;
// Validate must succeed before a sample enters the pipeline.
type MetricSample struct {
	CollectedAt int64          `json:"collected_at"`
	CPU         *CPU           `json:"cpu"`
	Memory      *Memory        `json:"memory"`
	Processes   *ProcessCounts `json:"processes,omitempty"`
}

func (s MetricSample) Validate() error {
	if s.CollectedAt <= 0 {
		return fmt.Errorf("%w: collected_at is required", ErrInvalidSample)
	}
	if s.CPU == nil {
		return fmt.Errorf("%w: cpu is required", ErrInvalidSample)
	}
	if s.Memory == nil {
		return fmt.Errorf("%w: memory is required", ErrInvalidSample)
	}
	if !validPercent(s.CPU.UsagePercent) {
		return fmt.Errorf("%w: cpu.usage_percent %v out of range", ErrInvalidSample, s.CPU.UsagePercent)
	}
	if !validPercent(s.Memory.UsagePercent) {
		return fmt.Errorf("%w: memory.usage_percent %v out of range", ErrInvalidSample, s.Memory.UsagePercent)
	}
	return nil
}

func validPercent(v float64) bool {
	return v >= 0 && v <= 100
}

// Clone returns a deep copy so cached values never alias caller memory.
func (s MetricSample) Clone() MetricSample {
	out := MetricSample{CollectedAt: s.CollectedAt}
	if s.CPU != nil {
		cpu := *s.CPU
		out.CPU = &cpu
	}
	if s.Memory != nil {
		mem := *s.Memory
		out.Memory = &mem
	}
	if s.Processes != nil {
		procs := *s.Processes
		out.Processes = &procs
	}
	return out
}

type PersistedSample struct {
	ID         int64        `json:"id"`
	ReceivedAt time.Time    `json:"received_at"`
	Sample     MetricSample `json:"sample"`
}

type WindowStats struct {
	Average float64 `json:"avg"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
}

type Stats struct {
	Since        int64       `json:"since"`
	Samples      int64       `json:"samples"`
	CPU          WindowStats `json:"cpu"`
	RAM          WindowStats `json:"ram"`
	TotalRecords int64       `json:"total_records"`
}

type MetricStore interface {
	Init() error
	Ping(ctx context.Context) error
	Append(ctx context.Context, sample MetricSample) (int64, error)
	Latest(ctx context.Context) (MetricSample, bool, error)
	Recent(ctx context.Context, limit int) ([]PersistedSample, error)
	Range(ctx context.Context, since int64) ([]PersistedSample, error)
	Stats(ctx context.Context, since int64) (Stats, error)
	Close() error
}
