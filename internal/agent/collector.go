// Package agent collects host metrics with gopsutil and posts them to the
// ingestion endpoint.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"sysmetrics-app/internal/domain"
)

const defaultCPUWindow = 500 * time.Millisecond

// Collector gathers one MetricSample per call. The sampling functions default to
// gopsutil and are swapped out in tests.
type Collector struct {
	cpuWindow     time.Duration
	now           func() time.Time
	cpuPercent    func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	statuses      func(ctx context.Context) ([]string, error)
}

func NewCollector() *Collector {
	return &Collector{
		cpuWindow:     defaultCPUWindow,
		now:           time.Now,
		cpuPercent:    cpu.PercentWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
		statuses:      processStatuses,
	}
}

func (c *Collector) Collect(ctx context.Context) (domain.MetricSample, error) {
	sample := domain.MetricSample{CollectedAt: c.now().Unix()}

	pcts, err := c.cpuPercent(ctx, c.cpuWindow, false)
	if err != nil {
		return sample, fmt.Errorf("cpu: %w", err)
	}
	if len(pcts) == 0 {
		return sample, fmt.Errorf("cpu: no reading")
	}
	sample.CPU = &domain.CPU{UsagePercent: clampPercent(pcts[0])}

	vm, err := c.virtualMemory(ctx)
	if err != nil {
		return sample, fmt.Errorf("memory: %w", err)
	}
	total, free := vm.Total/1024, vm.Available/1024
	sample.Memory = &domain.Memory{
		TotalKB:      total,
		FreeKB:       free,
		UsedKB:       total - min(free, total),
		UsagePercent: clampPercent(vm.UsedPercent),
	}

	// process counts are optional; a sample without them is still valid
	if states, err := c.statuses(ctx); err == nil {
		counts := countStates(states)
		sample.Processes = &counts
	}
	return sample, nil
}

func processStatuses(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]string, 0, len(procs))
	for _, p := range procs {
		st, err := p.StatusWithContext(ctx)
		if err != nil || len(st) == 0 {
			// process exited between listing and inspection
			continue
		}
		states = append(states, st[0])
	}
	return states, nil
}

func countStates(states []string) domain.ProcessCounts {
	var counts domain.ProcessCounts
	for _, st := range states {
		switch st {
		case process.Running:
			counts.Running++
		case process.Sleep, process.Idle, process.Wait, process.Blocked, process.Lock:
			counts.Sleeping++
		case process.Zombie:
			counts.Zombie++
		case process.Stop:
			counts.Stopped++
		}
		counts.Total++
	}
	return counts
}

func clampPercent(v float64) float64 {
	return max(0, min(100, v))
}
