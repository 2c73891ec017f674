package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sysmetrics-app/internal/domain"
	"sysmetrics-app/internal/util"
)

type Source interface {
	Collect(ctx context.Context) (domain.MetricSample, error)
}

type ReporterOptions struct {
	Target   string
	Interval time.Duration
	Timeout  time.Duration
}

// Reporter posts one sample per interval. Failed cycles are logged and the
// loop carries on.
type Reporter struct {
	source   Source
	logger   *util.MetricsLogger
	client   *http.Client
	target   string
	interval time.Duration
}

func NewReporter(source Source, logger *util.MetricsLogger, opts ReporterOptions) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Reporter{
		source:   source,
		logger:   logger,
		client:   &http.Client{Timeout: opts.Timeout},
		target:   opts.Target,
		interval: opts.Interval,
	}
}

func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.LogEvent(util.LOG_LEVEL_INFO, "Reporting to", r.target, "every", r.interval)
	for {
		if err := r.ReportOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.LogEvent(util.LOG_LEVEL_WARN, "Report failed. Err -", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Reporter) ReportOnce(ctx context.Context) error {
	sample, err := r.source.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	return postJSON(ctx, r.client, r.target, sample)
}

func postJSON(ctx context.Context, client *http.Client, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}
