package realtime

import (
	"encoding/json"
	"time"
)

const (
	EventWelcome       = "welcome"
	EventMetricsUpdate = "metrics_update"
	EventHistorical    = "historical_data"
	EventStats         = "system_stats"
	EventError         = "error"

	RequestMetrics    = "request_metrics"
	RequestHistorical = "request_historical"
	RequestStats      = "request_stats"
)

// Event is the server-to-client frame.
type Event struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Request is a client-to-server frame. Minutes applies to request_historical.
type Request struct {
	Type    string `json:"type"`
	Minutes int    `json:"minutes,omitempty"`
}

type Welcome struct {
	Message  string `json:"message"`
	ClientID string `json:"client_id"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func encode(eventType string, data any) ([]byte, error) {
	return json.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
}
