package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpFetch, 100*time.Millisecond)
	c.RecordTiming(OpFetch, 300*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.Fetch)
	assert.EqualValues(t, 2, snap.Fetch.Count)
	assert.EqualValues(t, 100, snap.Fetch.MinTimeMs)
	assert.EqualValues(t, 300, snap.Fetch.MaxTimeMs)
	assert.InDelta(t, 200, snap.Fetch.AvgTimeMs, 0.001)
	assert.Nil(t, snap.Fetch.TotalInputTokens)
	assert.Nil(t, snap.Extract)
}

func TestCollectorNilSafe(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpFetch, time.Second)
	c.RecordLLMUsage(OpLLMGenerate, time.Second, 1, 1)
	assert.Nil(t, c.Op(OpFetch))

	err := c.Time(OpExtract, func() error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")
}

func TestExporterCollect(t *testing.T) {
	c := NewCollector()
	c.RecordLLMUsage(OpLLMGenerate, time.Second, 40, 10)
	c.RecordTiming(OpJobSuccess, 2*time.Second)

	// uptime + (count, duration) for two ops + two token series
	assert.Equal(t, 7, testutil.CollectAndCount(NewExporter(c)))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpJobFailed, time.Second)

	handler, err := Handler(c, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(string(body), `pricewatch_operations_total{op="job_failed"} 1`))

	unhealthy, err := Handler(c, func() error { return errors.New("store down") })
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	unhealthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
