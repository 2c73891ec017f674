// Package telemetry exposes pipeline counters in Prometheus format. A nil
// *Pipeline is valid and records nothing, which keeps unit tests free of
// registry setup.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sysmetrics"

type Pipeline struct {
	registry *prometheus.Registry

	ingested        *prometheus.CounterVec
	persisted       *prometheus.CounterVec
	latestReads     *prometheus.CounterVec
	subscribers     prometheus.Gauge
	broadcastTicks  *prometheus.CounterVec
	broadcastEvents prometheus.Counter
}

func NewPipeline() *Pipeline {
	p := &Pipeline{
		registry: prometheus.NewRegistry(),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_samples_total",
			Help:      "Samples received on the ingestion endpoint, by outcome.",
		}, []string{"outcome"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_attempts_total",
			Help:      "Sampled writes admitted to durable storage, by result.",
		}, []string{"result"}),
		latestReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latest_reads_total",
			Help:      "Latest-snapshot reads, by the source that served them.",
		}, []string{"source"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_subscribers",
			Help:      "Currently connected realtime subscribers.",
		}),
		broadcastTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_ticks_total",
			Help:      "Broadcast scheduler ticks, by what the tick did.",
		}, []string{"result"}),
		broadcastEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Events queued to subscribers.",
		}),
	}
	p.registry.MustRegister(
		p.ingested, p.persisted, p.latestReads, p.subscribers, p.broadcastTicks, p.broadcastEvents,
		collectors.NewGoCollector(),
	)
	return p
}

func (p *Pipeline) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

func (p *Pipeline) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Pipeline) Ingested(outcome string) {
	if p != nil {
		p.ingested.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) PersistAttempt(ok bool) {
	if p == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	p.persisted.WithLabelValues(result).Inc()
}

func (p *Pipeline) LatestRead(source string) {
	if p != nil {
		p.latestReads.WithLabelValues(source).Inc()
	}
}

func (p *Pipeline) SetSubscribers(n int) {
	if p != nil {
		p.subscribers.Set(float64(n))
	}
}

func (p *Pipeline) BroadcastTick(result string) {
	if p != nil {
		p.broadcastTicks.WithLabelValues(result).Inc()
	}
}

func (p *Pipeline) Delivered(n int) {
	if p != nil {
		p.broadcastEvents.Add(float64(n))
	}
}
