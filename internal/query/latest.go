// Package query serves the "current metrics" view: cache first, store on a
// cold or stale cache, and a zero snapshot when neither has data.
package query

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"sysmetrics-app/internal/cache"
	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/telemetry"
	"sysmetrics-app/internal/util"
)

const (
	DefaultFreshnessWindow = 2 * time.Second
	DefaultStoreTimeout    = 5 * time.Second
)

type Options struct {
	FreshnessWindow time.Duration
	StoreTimeout    time.Duration
	Telemetry       *telemetry.Pipeline
}

type LatestQueryService struct {
	cache   *cache.StalenessCache
	store   domain.MetricStore
	logger  *util.MetricsLogger
	window  time.Duration
	timeout time.Duration
	metrics *telemetry.Pipeline
	group   singleflight.Group
}

func NewLatestQueryService(c *cache.StalenessCache, store domain.MetricStore, logger *util.MetricsLogger, opts Options) *LatestQueryService {
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = DefaultFreshnessWindow
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	return &LatestQueryService{
		cache:   c,
		store:   store,
		logger:  logger,
		window:  opts.FreshnessWindow,
		timeout: opts.StoreTimeout,
		metrics: opts.Telemetry,
	}
}

type fallbackResult struct {
	sample domain.MetricSample
	found  bool
}

// GetLatest never blocks longer than the store timeout. It returns
// ErrBackendUnavailable only when the store fails and the cache has never held
// a sample; the snapshot is then the zero default. If ctx ends first the
// caller gets ctx.Err() while the shared store read carries on for others.
func (s *LatestQueryService) GetLatest(ctx context.Context) (domain.MetricSnapshot, error) {
	entry, cached := s.cache.Read()
	if cached && s.cache.IsFresh(entry, s.window) {
		s.metrics.LatestRead(string(domain.SourceCache))
		return domain.NewSnapshot(entry.Sample, entry.ObservedAt, domain.SourceCache), nil
	}

	// concurrent stale reads share one store round-trip, detached from any
	// single caller's cancellation
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan("latest", func() (interface{}, error) {
		return s.fallback(shared, entry.ObservedAt)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		if cached {
			s.metrics.LatestRead(string(domain.SourceStaleCache))
			return domain.NewSnapshot(entry.Sample, entry.ObservedAt, domain.SourceStaleCache), nil
		}
		return domain.DefaultSnapshot(), ctx.Err()
	}

	v, err := res.Val, res.Err
	if err != nil {
		if cached {
			s.logger.LogEvent(util.LOG_LEVEL_WARN, "Store fallback failed, serving stale cache. Err -", err)
			s.metrics.LatestRead(string(domain.SourceStaleCache))
			return domain.NewSnapshot(entry.Sample, entry.ObservedAt, domain.SourceStaleCache), nil
		}
		s.logger.LogEvent(util.LOG_LEVEL_ERROR, "No cached sample and store unavailable. Err -", err)
		s.metrics.LatestRead("unavailable")
		return domain.DefaultSnapshot(), fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}

	fr := v.(fallbackResult)
	if !fr.found {
		s.metrics.LatestRead(string(domain.SourceDefault))
		return domain.DefaultSnapshot(), nil
	}

	s.metrics.LatestRead(string(domain.SourceStore))
	observed := time.Time{}
	if current, ok := s.cache.Read(); ok {
		observed = current.ObservedAt
	}
	return domain.NewSnapshot(fr.sample, observed, domain.SourceStore), nil
}

func (s *LatestQueryService) fallback(ctx context.Context, seen time.Time) (fallbackResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sample, found, err := s.store.Latest(ctx)
	if err != nil {
		return fallbackResult{}, err
	}
	if !found {
		return fallbackResult{}, nil
	}
	if !s.cache.Repair(seen, sample) {
		s.logger.LogEvent(util.LOG_LEVEL_DEBUG, "Cache changed during store fallback, repair skipped")
	}
	return fallbackResult{sample: sample, found: true}, nil
}
