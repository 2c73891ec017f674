package endpoints

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/realtime"
	"sysmetrics-app/internal/util"
)

type fakeHub struct {
	count    int
	serveErr error
}

func (f *fakeHub) SubscriberCount() int { return f.count }

func (f *fakeHub) Serve(w http.ResponseWriter, r *http.Request) error { return f.serveErr }

func TestHealthHandler(t *testing.T) {
	h := &System{}
	h.Init(&MockMetricStore{}, &fakeHub{count: 4}, &util.MetricsLogger{})

	rr := httptest.NewRecorder()
	h.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	var health Health
	res := decode(t, rr, &health)
	assert.True(t, res.Status)
	assert.True(t, health.Database)
	assert.Equal(t, 4, health.Subscribers)

	h.Init(&MockMetricStore{Err: domain.ErrStorageUnavailable}, &fakeHub{count: 1}, &util.MetricsLogger{})
	rr = httptest.NewRecorder()
	h.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	res = decode(t, rr, &health)
	assert.False(t, res.Status)
	assert.False(t, health.Database)
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, STORAGE_UNAVAILABLE, res.ErrorCode)
}

func TestClientsHandler(t *testing.T) {
	h := &System{}
	h.Init(&MockMetricStore{}, &fakeHub{count: 2}, &util.MetricsLogger{})

	rr := httptest.NewRecorder()
	h.ClientsHandler(rr, httptest.NewRequest(http.MethodGet, "/clients", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	var clients map[string]int
	decode(t, rr, &clients)
	assert.Equal(t, 2, clients["subscribers"])
}

func TestWebSocketHandler_HubFull(t *testing.T) {
	h := &System{}
	h.Init(&MockMetricStore{}, &fakeHub{serveErr: realtime.ErrSubscriberLimit}, &util.MetricsLogger{})

	rr := httptest.NewRecorder()
	h.WebSocketHandler(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, SUBSCRIBER_LIMIT, decode(t, rr, nil).ErrorCode)
}
