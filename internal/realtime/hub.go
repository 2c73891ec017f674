// Package realtime pushes metric snapshots to WebSocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/telemetry"
	"sysmetrics-app/internal/util"
)

var (
	ErrSubscriberLimit = errors.New("subscriber limit reached")
	ErrHubClosed       = errors.New("realtime hub closed")
)

type LatestReader interface {
	GetLatest(ctx context.Context) (domain.MetricSnapshot, error)
}

type HistoryReader interface {
	Range(ctx context.Context, since int64) ([]domain.PersistedSample, error)
	Stats(ctx context.Context, since int64) (domain.Stats, error)
}

// MaxHistoryMinutes bounds request_historical; larger requests are clamped.
const MaxHistoryMinutes = 30 * 24 * 60

type Options struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	MaxSubscribers int
	HistoryMinutes int
	StatsWindow    time.Duration
	RequestTimeout time.Duration
	Telemetry      *telemetry.Pipeline
}

func (o *Options) applyDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.HistoryMinutes <= 0 {
		o.HistoryMinutes = 30
	}
	if o.StatsWindow <= 0 {
		o.StatsWindow = 24 * time.Hour
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected subscribers. Each subscriber owns a buffered send
// channel drained by its writer goroutine; the channel is closed exactly once,
// under the hub lock, when the subscriber is removed.
type Hub struct {
	latest   LatestReader
	history  HistoryReader
	logger   *util.MetricsLogger
	opts     Options
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(latest LatestReader, history HistoryReader, logger *util.MetricsLogger, opts Options) *Hub {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		latest:  latest,
		history: history,
		logger:  logger,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin policy is enforced by the CORS layer
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subscribers: make(map[string]*subscriber),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Serve upgrades the request and runs the subscriber until it disconnects.
// ErrSubscriberLimit and ErrHubClosed are returned before anything is written
// to w; an upgrade failure has already been answered by the upgrader.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) error {
	h.mu.RLock()
	closed, full := h.closed, h.opts.MaxSubscribers > 0 && len(h.subscribers) >= h.opts.MaxSubscribers
	h.mu.RUnlock()
	if closed {
		return ErrHubClosed
	}
	if full {
		return ErrSubscriberLimit
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.LogEvent(util.LOG_LEVEL_WARN, "WebSocket upgrade failed. Err -", err)
		return err
	}

	sub := &subscriber{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
	}
	if err := h.register(sub); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(h.opts.WriteTimeout))
		conn.Close()
		return nil
	}

	h.logger.LogEvent(util.LOG_LEVEL_INFO, "Subscriber connected", sub.id, "total", h.SubscriberCount())

	h.reply(sub, EventWelcome, Welcome{Message: "connected to system metrics stream", ClientID: sub.id})
	// new subscribers get the current snapshot without waiting for a tick
	h.sendLatest(sub)

	go h.writer(sub)
	h.reader(sub)
	return nil
}

func (h *Hub) register(sub *subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if h.opts.MaxSubscribers > 0 && len(h.subscribers) >= h.opts.MaxSubscribers {
		return ErrSubscriberLimit
	}
	h.subscribers[sub.id] = sub
	h.opts.Telemetry.SetSubscribers(len(h.subscribers))
	return nil
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	close(sub.send)
	delete(h.subscribers, id)
	h.opts.Telemetry.SetSubscribers(len(h.subscribers))
}

func (h *Hub) reader(sub *subscriber) {
	defer func() {
		h.remove(sub.id)
		sub.conn.Close()
		h.logger.LogEvent(util.LOG_LEVEL_INFO, "Subscriber disconnected", sub.id)
	}()

	sub.conn.SetReadLimit(4096)
	sub.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.LogEvent(util.LOG_LEVEL_WARN, "WebSocket read error", sub.id, "Err -", err)
			}
			return
		}
		sub.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			h.reply(sub, EventError, ErrorData{Message: "malformed request"})
			continue
		}
		h.handle(sub, req)
	}
}

func (h *Hub) writer(sub *subscriber) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.LogEvent(util.LOG_LEVEL_WARN, "WebSocket write error", sub.id, "Err -", err)
				h.remove(sub.id)
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(sub.id)
				return
			}
		}
	}
}

func (h *Hub) handle(sub *subscriber, req Request) {
	switch req.Type {
	case RequestMetrics:
		h.sendLatest(sub)
	case RequestHistorical:
		minutes := req.Minutes
		if minutes <= 0 {
			minutes = h.opts.HistoryMinutes
		}
		if minutes > MaxHistoryMinutes {
			minutes = MaxHistoryMinutes
		}
		ctx, cancel := h.requestContext()
		defer cancel()
		since := time.Now().Add(-time.Duration(minutes) * time.Minute).Unix()
		rows, err := h.history.Range(ctx, since)
		if err != nil {
			h.logger.LogEvent(util.LOG_LEVEL_ERROR, "Historical read failed. Err -", err)
			h.reply(sub, EventError, ErrorData{Message: "historical data unavailable"})
			return
		}
		if rows == nil {
			rows = []domain.PersistedSample{}
		}
		h.reply(sub, EventHistorical, Historical{Minutes: minutes, Samples: rows})
	case RequestStats:
		ctx, cancel := h.requestContext()
		defer cancel()
		stats, err := h.history.Stats(ctx, time.Now().Add(-h.opts.StatsWindow).Unix())
		if err != nil {
			h.logger.LogEvent(util.LOG_LEVEL_ERROR, "Stats read failed. Err -", err)
			h.reply(sub, EventError, ErrorData{Message: "stats unavailable"})
			return
		}
		h.reply(sub, EventStats, stats)
	default:
		h.reply(sub, EventError, ErrorData{Message: "unknown request type " + req.Type})
	}
}

type Historical struct {
	Minutes int                      `json:"minutes"`
	Samples []domain.PersistedSample `json:"samples"`
}

func (h *Hub) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, h.opts.RequestTimeout)
}

func (h *Hub) sendLatest(sub *subscriber) {
	ctx, cancel := h.requestContext()
	defer cancel()
	snap, err := h.latest.GetLatest(ctx)
	if err != nil {
		h.reply(sub, EventError, ErrorData{Message: "no metrics available"})
		return
	}
	h.reply(sub, EventMetricsUpdate, snap)
}

// reply queues one event for a single subscriber. A full buffer drops the
// subscriber, same as a broadcast.
func (h *Hub) reply(sub *subscriber, eventType string, data any) {
	msg, err := encode(eventType, data)
	if err != nil {
		h.logger.LogEvent(util.LOG_LEVEL_ERROR, "Failed to encode event", eventType, "Err -", err)
		return
	}

	h.mu.RLock()
	current, ok := h.subscribers[sub.id]
	delivered := false
	if ok && current == sub {
		select {
		case sub.send <- msg:
			delivered = true
		default:
		}
	}
	h.mu.RUnlock()

	if ok && !delivered {
		h.logger.LogEvent(util.LOG_LEVEL_WARN, "Subscriber buffer full, disconnecting", sub.id)
		h.remove(sub.id)
	}
}

// Broadcast encodes the event once and queues it for every subscriber without
// blocking. Subscribers with a full buffer are disconnected. It returns how
// many subscribers the event was queued for.
func (h *Hub) Broadcast(eventType string, data any) (int, error) {
	msg, err := encode(eventType, data)
	if err != nil {
		return 0, err
	}

	var slow []string
	delivered := 0
	h.mu.RLock()
	for id, sub := range h.subscribers {
		select {
		case sub.send <- msg:
			delivered++
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.logger.LogEvent(util.LOG_LEVEL_WARN, "Subscriber buffer full, disconnecting", id)
		h.remove(id)
	}
	h.opts.Telemetry.Delivered(delivered)
	return delivered, nil
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	h.cancel()
	for _, id := range ids {
		h.remove(id)
	}
}
