package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/util"
)

type fakeSource struct {
	calls atomic.Int32
	snap  domain.MetricSnapshot
	err   error
	block chan struct{}
}

func (f *fakeSource) GetLatest(ctx context.Context) (domain.MetricSnapshot, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.snap, f.err
}

type fakeBroadcaster struct {
	mu          sync.Mutex
	subscribers int
	events      []any
}

func (f *fakeBroadcaster) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribers
}

func (f *fakeBroadcaster) Broadcast(eventType string, data any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, data)
	return f.subscribers, nil
}

func (f *fakeBroadcaster) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestScheduler_IdleTickDoesNotQuery(t *testing.T) {
	src := &fakeSource{}
	hub := &fakeBroadcaster{}
	s := NewScheduler(src, hub, &util.MetricsLogger{}, SchedulerOptions{Interval: time.Second})

	for i := 0; i < 5; i++ {
		assert.False(t, s.Tick(context.Background()))
	}
	assert.Equal(t, int32(0), src.calls.Load())
	assert.Equal(t, 0, hub.sent())
}

func TestScheduler_OneQueryPerTick(t *testing.T) {
	snap := domain.MetricSnapshot{CollectedAt: 1000, Source: domain.SourceCache}
	src := &fakeSource{snap: snap}
	hub := &fakeBroadcaster{subscribers: 25}
	s := NewScheduler(src, hub, &util.MetricsLogger{}, SchedulerOptions{Interval: time.Second})

	require.True(t, s.Tick(context.Background()))
	require.True(t, s.Tick(context.Background()))

	assert.Equal(t, int32(2), src.calls.Load(), "query count does not scale with subscribers")
	assert.Equal(t, 2, hub.sent())
	assert.Equal(t, snap, hub.events[0])
}

func TestScheduler_SourceErrorSkipsBroadcast(t *testing.T) {
	src := &fakeSource{err: domain.ErrBackendUnavailable}
	hub := &fakeBroadcaster{subscribers: 1}
	s := NewScheduler(src, hub, &util.MetricsLogger{}, SchedulerOptions{})

	assert.False(t, s.Tick(context.Background()))
	assert.Equal(t, 0, hub.sent())
	assert.Equal(t, DefaultBroadcastInterval, s.Interval())
}

func TestScheduler_OverlappingTickIsSkipped(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	hub := &fakeBroadcaster{subscribers: 1}
	s := NewScheduler(src, hub, &util.MetricsLogger{}, SchedulerOptions{Interval: time.Second})

	first := make(chan bool)
	go func() { first <- s.Tick(context.Background()) }()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, s.Tick(context.Background()), "tick while one is in flight")
	close(src.block)
	assert.True(t, <-first)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestScheduler_StartStop(t *testing.T) {
	src := &fakeSource{}
	hub := &fakeBroadcaster{subscribers: 1}
	s := NewScheduler(src, hub, &util.MetricsLogger{}, SchedulerOptions{Interval: 10 * time.Millisecond})

	s.Start(context.Background())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return hub.sent() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := hub.sent()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, hub.sent(), "no ticks after Stop")
	s.Stop()
}

func TestScheduler_RunReturnsOnCancel(t *testing.T) {
	s := NewScheduler(&fakeSource{err: errors.New("unused")}, &fakeBroadcaster{}, &util.MetricsLogger{},
		SchedulerOptions{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
