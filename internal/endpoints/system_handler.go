package endpoints

import (
	"context"
	"errors"
	"net/http"
	"time"

	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/realtime"
	"sysmetrics-app/internal/util"
)

const healthTimeout = 2 * time.Second

type Subscribers interface {
	SubscriberCount() int
	Serve(w http.ResponseWriter, r *http.Request) error
}

type System struct {
	Response APIResponse
	logger   *util.MetricsLogger
	store    domain.MetricStore
	hub      Subscribers
}

func (s *System) Init(store domain.MetricStore, hub Subscribers, webSlogger *util.MetricsLogger) {
	s.store = store
	s.hub = hub
	s.logger = webSlogger
}

type Health struct {
	Status      string `json:"status"`
	Database    bool   `json:"database"`
	Subscribers int    `json:"subscribers"`
}

func (s *System) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	health := Health{Status: "healthy", Database: true, Subscribers: s.hub.SubscriberCount()}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.LogEvent(util.LOG_LEVEL_ERROR, "Health check failed. Err -", err)
		health.Status, health.Database = "unhealthy", false
		APIResponse{Value: health}.WriteErrorResponseWithStatusCode(w, err, http.StatusServiceUnavailable)
		return
	}
	s.Response.WriteResultResponse(w, health)
}

func (s *System) ClientsHandler(w http.ResponseWriter, r *http.Request) {
	s.Response.WriteResultResponse(w, map[string]int{"subscribers": s.hub.SubscriberCount()})
}

func (s *System) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	err := s.hub.Serve(w, r)
	if errors.Is(err, realtime.ErrSubscriberLimit) || errors.Is(err, realtime.ErrHubClosed) {
		s.logger.LogEvent(util.LOG_LEVEL_WARN, "Rejected subscriber. Err -", err)
		s.Response.WriteErrorResponseWithStatusCode(w, err, http.StatusServiceUnavailable)
	}
}
