// Package ingest accepts agent samples: it refreshes the cache on every call
// and forwards at most one sample per sampling window to durable storage.
package ingest

import (
	"context"
	"fmt"
	"time"

	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/telemetry"
	"sysmetrics-app/internal/util"
)

// Cache is the write side of the staleness cache.
type Cache interface {
	Update(sample domain.MetricSample) error
}

type Options struct {
	SampleInterval time.Duration
	StoreTimeout   time.Duration
	Now            func() time.Time
	Telemetry      *telemetry.Pipeline
}

type AcceptedResult struct {
	Cached       bool   `json:"cached"`
	Persisted    bool   `json:"persisted"`
	RowID        int64  `json:"row_id,omitempty"`
	PersistError string `json:"persist_error,omitempty"`
}

type Service struct {
	cache   Cache
	store   domain.MetricStore
	sampler *SampledWriter
	logger  *util.MetricsLogger
	timeout time.Duration
	now     func() time.Time
	metrics *telemetry.Pipeline
}

func NewService(cache Cache, store domain.MetricStore, logger *util.MetricsLogger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		cache:   cache,
		store:   store,
		sampler: NewSampledWriter(opts.SampleInterval),
		logger:  logger,
		timeout: opts.StoreTimeout,
		now:     opts.Now,
		metrics: opts.Telemetry,
	}
}

// Ingest runs one sample through validation, the cache and the sampled
// write. Only validation failures are returned as errors; a failed append is
// reported in the result because the cache already holds the sample.
func (s *Service) Ingest(ctx context.Context, sample domain.MetricSample) (AcceptedResult, error) {
	var result AcceptedResult

	if err := sample.Validate(); err != nil {
		s.metrics.Ingested("invalid")
		return result, err
	}

	if err := s.cache.Update(sample); err != nil {
		s.logger.LogEvent(util.LOG_LEVEL_WARN, "Cache update failed, continuing with persistence. Err -", err)
	} else {
		result.Cached = true
	}

	now := s.now()
	if !s.sampler.Admit(now) {
		s.logger.LogEvent(util.LOG_LEVEL_DEBUG, "Cache only update for collected_at", sample.CollectedAt)
		s.metrics.Ingested("cached")
		return result, nil
	}

	id, err := s.append(ctx, sample)
	s.metrics.PersistAttempt(err == nil)
	if err != nil {
		s.logger.LogEvent(util.LOG_LEVEL_ERROR, "Sampled write failed for collected_at", sample.CollectedAt, "Err -", err)
		result.PersistError = err.Error()
		s.metrics.Ingested("persist_failed")
		return result, nil
	}

	result.Persisted = true
	result.RowID = id
	s.logger.LogEvent(util.LOG_LEVEL_DEBUG, "Sample persisted with id", id)
	s.metrics.Ingested("persisted")
	return result, nil
}

func (s *Service) append(ctx context.Context, sample domain.MetricSample) (int64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	id, err := s.store.Append(ctx, sample)
	if err != nil {
		return 0, fmt.Errorf("appending sample: %w", err)
	}
	return id, nil
}
