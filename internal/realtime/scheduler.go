package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sysmetrics-app/internal/telemetry"
	"sysmetrics-app/internal/util"
)

const DefaultBroadcastInterval = 3 * time.Second

type Broadcaster interface {
	SubscriberCount() int
	Broadcast(eventType string, data any) (int, error)
}

// Scheduler pushes the latest snapshot to every subscriber once per interval.
// Ticks with no subscribers do nothing; a tick that finds the previous one
// still running is skipped.
type Scheduler struct {
	source   LatestReader
	hub      Broadcaster
	logger   *util.MetricsLogger
	interval time.Duration
	timeout  time.Duration
	metrics  *telemetry.Pipeline

	inFlight atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type SchedulerOptions struct {
	Interval  time.Duration
	Timeout   time.Duration
	Telemetry *telemetry.Pipeline
}

func NewScheduler(source LatestReader, hub Broadcaster, logger *util.MetricsLogger, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultBroadcastInterval
	}
	if opts.Timeout <= 0 || opts.Timeout > opts.Interval {
		opts.Timeout = opts.Interval
	}
	return &Scheduler{
		source:   source,
		hub:      hub,
		logger:   logger,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		metrics:  opts.Telemetry,
	}
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.LogEvent(util.LOG_LEVEL_INFO, "Broadcast scheduler started, interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.LogEvent(util.LOG_LEVEL_INFO, "Broadcast scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Start runs the scheduler in the background. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Stop cancels a started scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick performs one broadcast cycle and reports whether a snapshot was sent.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.BroadcastTick("overlap")
		return false
	}
	defer s.inFlight.Store(false)

	if s.hub.SubscriberCount() == 0 {
		s.metrics.BroadcastTick("idle")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	snap, err := s.source.GetLatest(ctx)
	if err != nil {
		s.logger.LogEvent(util.LOG_LEVEL_WARN, "Broadcast skipped, latest snapshot unavailable. Err -", err)
		s.metrics.BroadcastTick("unavailable")
		return false
	}

	n, err := s.hub.Broadcast(EventMetricsUpdate, snap)
	if err != nil {
		s.logger.LogEvent(util.LOG_LEVEL_ERROR, "Broadcast failed. Err -", err)
		s.metrics.BroadcastTick("failed")
		return false
	}
	s.logger.LogEvent(util.LOG_LEVEL_DEBUG, "Metrics sent to", n, "subscriber(s)")
	s.metrics.BroadcastTick("sent")
	return true
}
