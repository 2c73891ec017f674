package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/ingest"
	"sysmetrics-app/internal/util"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	defaultRangeMinutes = 30
	maxRangeMinutes     = 30 * 24 * 60
	defaultStatsHours   = 24
	maxStatsHours       = 30 * 24
	maxBodyBytes        = 1 << 20
)

type Ingestor interface {
	Ingest(ctx context.Context, sample domain.MetricSample) (ingest.AcceptedResult, error)
}

type LatestReader interface {
	GetLatest(ctx context.Context) (domain.MetricSnapshot, error)
}

type Metrics struct {
	Response APIResponse
	logger   *util.MetricsLogger
	ingestor Ingestor
	latest   LatestReader
	store    domain.MetricStore
}

func (m *Metrics) Init(ingestor Ingestor, latest LatestReader, store domain.MetricStore, webSlogger *util.MetricsLogger) {
	m.ingestor = ingestor
	m.latest = latest
	m.store = store
	m.logger = webSlogger
}

func (m *Metrics) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "Method Not Allowed. Only POST requests are supported", http.StatusMethodNotAllowed)
		m.Response.WriteErrorResponseWithStatusCode(w, errors.New("method Not Allowed. Only POST requests are supported"), http.StatusMethodNotAllowed)
		return
	}

	var sample domain.MetricSample
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sample); err != nil {
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "Occured while unmarshalling JSON Body. Err -", err)
		m.Response.WriteErrorResponseWithStatusCode(w, fmt.Errorf("%w: %v", ErrInvalidRequestBody, err), http.StatusBadRequest)
		return
	}

	result, err := m.ingestor.Ingest(r.Context(), sample)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSample) {
			m.logger.LogEvent(util.LOG_LEVEL_WARN, "Rejected sample. Err -", err)
			m.Response.WriteErrorResponseWithStatusCode(w, err, http.StatusBadRequest)
			return
		}
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "Occured while Ingest(). Err -", err)
		m.Response.WriteErrorResponse(w, err)
		return
	}

	m.Response.WriteResultResponseWithStatusCode(w, result, http.StatusCreated)
}

func (m *Metrics) LatestHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := m.latest.GetLatest(r.Context())
	if errors.Is(err, context.Canceled) {
		m.logger.LogEvent(util.LOG_LEVEL_WARN, "Context cancelled during GetLatest")
		m.Response.WriteErrorResponseWithStatusCode(w, ErrRequestCancelled, http.StatusRequestTimeout)
		return
	}
	if err != nil {
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "Latest snapshot unavailable. Err -", err)
		APIResponse{Value: snap}.WriteErrorResponseWithStatusCode(w, err, http.StatusServiceUnavailable)
		return
	}
	m.Response.WriteResultResponse(w, snap)
}

type History struct {
	Family domain.Family `json:"family"`
	Limit  int           `json:"limit"`
	Points []any         `json:"points"`
}

// HistoryHandler returns the most recent persisted rows, newest first,
// narrowed to one metric family.
func (m *Metrics) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	family, err := domain.ParseFamily(query.Get("family"))
	if err != nil {
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "While getting family from URL. Err - ", err)
		m.Response.WriteErrorResponseWithStatusCode(w, fmt.Errorf("%w: %v", ErrInvalidParameters, err), http.StatusBadRequest)
		return
	}

	limit, err := intParam(query.Get("limit"), defaultHistoryLimit)
	if err != nil {
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "While getting limit from URL. Err - ", err)
		m.Response.WriteErrorResponseWithStatusCode(w, ErrInvalidParameters, http.StatusBadRequest)
		return
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := m.store.Recent(r.Context(), limit)
	if err != nil {
		m.writeStoreError(w, "Recent", err)
		return
	}

	m.Response.WriteResultResponse(w, History{Family: family, Limit: limit, Points: family.Project(rows)})
}

func (m *Metrics) RangeHandler(w http.ResponseWriter, r *http.Request) {
	minutes, err := intParam(r.URL.Query().Get("minutes"), defaultRangeMinutes)
	if err != nil || minutes <= 0 || minutes > maxRangeMinutes {
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "Invalid minutes parameter", r.URL.Query().Get("minutes"))
		m.Response.WriteErrorResponseWithStatusCode(w, ErrInvalidTimeRange, http.StatusBadRequest)
		return
	}

	since := time.Now().Add(-time.Duration(minutes) * time.Minute).Unix()
	rows, err := m.store.Range(r.Context(), since)
	if err != nil {
		m.writeStoreError(w, "Range", err)
		return
	}
	if rows == nil {
		rows = []domain.PersistedSample{}
	}
	m.Response.WriteResultResponse(w, rows)
}

func (m *Metrics) StatsHandler(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r.URL.Query().Get("hours"), defaultStatsHours)
	if err != nil || hours <= 0 || hours > maxStatsHours {
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "Invalid hours parameter", r.URL.Query().Get("hours"))
		m.Response.WriteErrorResponseWithStatusCode(w, ErrInvalidTimeRange, http.StatusBadRequest)
		return
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
	stats, err := m.store.Stats(r.Context(), since)
	if err != nil {
		m.writeStoreError(w, "Stats", err)
		return
	}
	m.Response.WriteResultResponse(w, stats)
}

// CompleteView is the flattened dashboard payload. Memory is in MB here and
// only here.
type CompleteView struct {
	TotalRAMMB      uint64                `json:"total_ram_mb"`
	FreeRAMMB       uint64                `json:"free_ram_mb"`
	UsedRAMMB       uint64                `json:"used_ram_mb"`
	RAMPercent      float64               `json:"ram_percent"`
	CPUUsagePercent float64               `json:"cpu_usage_percent"`
	CPUFreePercent  float64               `json:"cpu_free_percent"`
	Running         uint64                `json:"processes_running"`
	Total           uint64                `json:"processes_total"`
	Sleeping        uint64                `json:"processes_sleeping"`
	Zombie          uint64                `json:"processes_zombie"`
	Stopped         uint64                `json:"processes_stopped"`
	Time            string                `json:"time"`
	Source          domain.SnapshotSource `json:"source"`
}

func NewCompleteView(snap domain.MetricSnapshot, now time.Time) CompleteView {
	return CompleteView{
		TotalRAMMB:      snap.Memory.TotalKB / 1024,
		FreeRAMMB:       snap.Memory.FreeKB / 1024,
		UsedRAMMB:       snap.Memory.UsedKB / 1024,
		RAMPercent:      snap.Memory.UsagePercent,
		CPUUsagePercent: snap.CPU.UsagePercent,
		CPUFreePercent:  snap.CPU.FreePercent,
		Running:         snap.Processes.Running,
		Total:           snap.Processes.Total,
		Sleeping:        snap.Processes.Sleeping,
		Zombie:          snap.Processes.Zombie,
		Stopped:         snap.Processes.Stopped,
		Time:            now.Format(time.DateTime),
		Source:          snap.Source,
	}
}

func (m *Metrics) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := m.latest.GetLatest(r.Context())
	if errors.Is(err, context.Canceled) {
		m.logger.LogEvent(util.LOG_LEVEL_WARN, "Context cancelled during GetLatest")
		m.Response.WriteErrorResponseWithStatusCode(w, ErrRequestCancelled, http.StatusRequestTimeout)
		return
	}
	view := NewCompleteView(snap, time.Now())
	if err != nil {
		m.logger.LogEvent(util.LOG_LEVEL_ERROR, "Complete view unavailable. Err -", err)
		APIResponse{Value: view}.WriteErrorResponseWithStatusCode(w, err, http.StatusServiceUnavailable)
		return
	}
	m.Response.WriteResultResponse(w, view)
}

func (m *Metrics) writeStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, context.Canceled) {
		m.logger.LogEvent(util.LOG_LEVEL_WARN, "Context cancelled during", op)
		m.Response.WriteErrorResponseWithStatusCode(w, ErrRequestCancelled, http.StatusRequestTimeout)
		return
	}
	m.logger.LogEvent(util.LOG_LEVEL_ERROR, "Occured while "+op+"(). Err - ", err)
	if errors.Is(err, domain.ErrStorageUnavailable) {
		m.Response.WriteErrorResponseWithStatusCode(w, err, http.StatusServiceUnavailable)
		return
	}
	m.Response.WriteErrorResponse(w, err)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
