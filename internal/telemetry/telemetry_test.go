package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPipeline_NilIsNoop(t *testing.T) {
	var p *Pipeline
	p.Ingested("accepted")
	p.PersistAttempt(true)
	p.LatestRead("cache")
	p.SetSubscribers(3)
	p.BroadcastTick("sent")
	p.Delivered(2)
	assert.Nil(t, p.Registry())

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPipeline_Counters(t *testing.T) {
	p := NewPipeline()
	p.Ingested("accepted")
	p.Ingested("accepted")
	p.Ingested("invalid")
	p.PersistAttempt(false)
	p.SetSubscribers(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.ingested.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ingested.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.persisted.WithLabelValues("failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.subscribers))

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "sysmetrics_ingested_samples_total")
}
