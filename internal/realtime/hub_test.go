package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/util"
)

type fakeHistory struct {
	rows  []domain.PersistedSample
	stats domain.Stats
	err   error

	mu   sync.Mutex
	from int64
}

func (f *fakeHistory) Range(ctx context.Context, since int64) ([]domain.PersistedSample, error) {
	f.mu.Lock()
	f.from = since
	f.mu.Unlock()
	return f.rows, f.err
}

func (f *fakeHistory) lastFrom() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.from
}

func (f *fakeHistory) Stats(ctx context.Context, since int64) (domain.Stats, error) {
	return f.stats, f.err
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T, hub *Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r); errors.Is(err, ErrSubscriberLimit) || errors.Is(err, ErrHubClosed) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHub_WelcomeThenImmediateSnapshot(t *testing.T) {
	snap := domain.NewSnapshot(domain.MetricSample{
		CollectedAt: 1000,
		CPU:         &domain.CPU{UsagePercent: 42.5},
		Memory:      &domain.Memory{TotalKB: 16000000, FreeKB: 8000000, UsedKB: 8000000, UsagePercent: 50},
	}, time.Time{}, domain.SourceCache)
	hub := NewHub(&fakeSource{snap: snap}, &fakeHistory{}, &util.MetricsLogger{}, Options{})
	conn := dial(t, startHub(t, hub))

	welcome := readFrame(t, conn)
	assert.Equal(t, EventWelcome, welcome.Type)
	var w Welcome
	require.NoError(t, json.Unmarshal(welcome.Data, &w))
	assert.NotEmpty(t, w.ClientID)

	update := readFrame(t, conn)
	assert.Equal(t, EventMetricsUpdate, update.Type)
	var got domain.MetricSnapshot
	require.NoError(t, json.Unmarshal(update.Data, &got))
	assert.Equal(t, 42.5, got.CPU.UsagePercent)
	assert.Equal(t, 50.0, got.Memory.UsagePercent)

	assert.Equal(t, 1, hub.SubscriberCount())
}

func TestHub_ClientRequests(t *testing.T) {
	history := &fakeHistory{
		rows:  []domain.PersistedSample{{ID: 1, Sample: domain.MetricSample{CollectedAt: 10}}},
		stats: domain.Stats{Samples: 7, TotalRecords: 9},
	}
	hub := NewHub(&fakeSource{}, history, &util.MetricsLogger{}, Options{})
	conn := dial(t, startHub(t, hub))
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(Request{Type: RequestHistorical, Minutes: 5}))
	hist := readFrame(t, conn)
	assert.Equal(t, EventHistorical, hist.Type)
	var h Historical
	require.NoError(t, json.Unmarshal(hist.Data, &h))
	assert.Equal(t, 5, h.Minutes)
	assert.Len(t, h.Samples, 1)
	assert.InDelta(t, time.Now().Add(-5*time.Minute).Unix(), history.lastFrom(), 2)

	require.NoError(t, conn.WriteJSON(Request{Type: RequestStats}))
	stats := readFrame(t, conn)
	assert.Equal(t, EventStats, stats.Type)
	var st domain.Stats
	require.NoError(t, json.Unmarshal(stats.Data, &st))
	assert.Equal(t, int64(7), st.Samples)

	require.NoError(t, conn.WriteJSON(Request{Type: RequestMetrics}))
	assert.Equal(t, EventMetricsUpdate, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Request{Type: "bogus"}))
	assert.Equal(t, EventError, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, EventError, readFrame(t, conn).Type, "malformed frames do not drop the connection")
}

func TestHub_HistoricalDefaultsAndStoreErrors(t *testing.T) {
	history := &fakeHistory{err: domain.ErrStorageUnavailable}
	hub := NewHub(&fakeSource{}, history, &util.MetricsLogger{}, Options{HistoryMinutes: 30})
	conn := dial(t, startHub(t, hub))
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(Request{Type: RequestHistorical}))
	assert.Equal(t, EventError, readFrame(t, conn).Type)
	assert.InDelta(t, time.Now().Add(-30*time.Minute).Unix(), history.lastFrom(), 2)
}

func TestHub_HistoricalClampsHugeWindows(t *testing.T) {
	history := &fakeHistory{}
	hub := NewHub(&fakeSource{}, history, &util.MetricsLogger{}, Options{})
	conn := dial(t, startHub(t, hub))
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(Request{Type: RequestHistorical, Minutes: 1 << 40}))
	hist := readFrame(t, conn)
	assert.Equal(t, EventHistorical, hist.Type)
	var h Historical
	require.NoError(t, json.Unmarshal(hist.Data, &h))
	assert.Equal(t, MaxHistoryMinutes, h.Minutes)
	assert.Less(t, history.lastFrom(), time.Now().Unix(), "window starts in the past")
	assert.InDelta(t, time.Now().Add(-MaxHistoryMinutes*time.Minute).Unix(), history.lastFrom(), 2)
}

func TestHub_BroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub(&fakeSource{}, &fakeHistory{}, &util.MetricsLogger{}, Options{})
	url := startHub(t, hub)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, url)
		readFrame(t, conns[i])
		readFrame(t, conns[i])
	}
	require.Equal(t, 3, hub.SubscriberCount())

	n, err := hub.Broadcast(EventMetricsUpdate, domain.MetricSnapshot{CollectedAt: 77})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, c := range conns {
		f := readFrame(t, c)
		assert.Equal(t, EventMetricsUpdate, f.Type)
		var snap domain.MetricSnapshot
		require.NoError(t, json.Unmarshal(f.Data, &snap))
		assert.Equal(t, int64(77), snap.CollectedAt)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub := NewHub(&fakeSource{}, &fakeHistory{}, &util.MetricsLogger{}, Options{})
	conn := dial(t, startHub(t, hub))
	readFrame(t, conn)
	require.Equal(t, 1, hub.SubscriberCount())

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	assert.Eventually(t, func() bool { return hub.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_SubscriberLimit(t *testing.T) {
	hub := NewHub(&fakeSource{}, &fakeHistory{}, &util.MetricsLogger{}, Options{MaxSubscribers: 1})
	url := startHub(t, hub)
	first := dial(t, url)
	readFrame(t, first)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(&fakeSource{}, &fakeHistory{}, &util.MetricsLogger{}, Options{})
	slow := &subscriber{id: "slow", send: make(chan []byte, 1)}
	require.NoError(t, hub.register(slow))

	n, err := hub.Broadcast(EventMetricsUpdate, domain.DefaultSnapshot())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = hub.Broadcast(EventMetricsUpdate, domain.DefaultSnapshot())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, hub.SubscriberCount())

	_, open := <-slow.send
	assert.True(t, open, "queued frame is still drained")
	_, open = <-slow.send
	assert.False(t, open, "send channel closed on removal")
}

func TestHub_CloseRejectsNewSubscribers(t *testing.T) {
	hub := NewHub(&fakeSource{}, &fakeHistory{}, &util.MetricsLogger{}, Options{})
	url := startHub(t, hub)
	conn := dial(t, url)
	readFrame(t, conn)

	hub.Close()
	assert.Equal(t, 0, hub.SubscriberCount())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
