package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	err error
}

func (s stubChecker) HealthCheck(context.Context) error { return s.err }

func newTestCollector() *MetricsCollector {
	return NewMetricsCollector(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecordMetrics(t *testing.T) {
	mc := newTestCollector()
	tf := map[string]string{"timeframe": "1h"}

	mc.RecordCounter("runs_total", "Runs started", nil)
	mc.RecordCounter("runs_total", "Runs started", nil)
	mc.AddCounter("klines_fetched_total", 40, "Klines fetched", tf)
	mc.AddCounter("klines_fetched_total", 2, "Klines fetched", tf)
	mc.AddCounter("klines_fetched_total", 7, "Klines fetched", map[string]string{"timeframe": "4h"})
	mc.RecordGauge("dataset_records", 100, "Records", tf)
	mc.RecordGauge("dataset_records", 90, "Records", tf)
	mc.RecordDuration("run_duration_ms", 1500*time.Millisecond, "Run duration", nil)

	m, ok := mc.Get("runs_total", nil)
	require.True(t, ok)
	assert.Equal(t, float64(2), m.Value)
	assert.Equal(t, MetricTypeCounter, m.Type)
	assert.Len(t, m.History, 2)

	m, ok = mc.Get("klines_fetched_total", tf)
	require.True(t, ok)
	assert.Equal(t, float64(42), m.Value)
	assert.Equal(t, tf, m.Labels)

	m, _ = mc.Get("klines_fetched_total", map[string]string{"timeframe": "4h"})
	assert.Equal(t, float64(7), m.Value)

	m, _ = mc.Get("dataset_records", tf)
	assert.Equal(t, float64(90), m.Value)

	m, _ = mc.Get("run_duration_ms", nil)
	assert.Equal(t, float64(1500), m.Value)
	assert.Equal(t, MetricTypeHistogram, m.Type)

	_, ok = mc.Get("missing", nil)
	assert.False(t, ok)
}

func TestHistoryIsBounded(t *testing.T) {
	mc := newTestCollector()
	for i := 0; i < historySize+20; i++ {
		mc.RecordGauge("g", float64(i), "", nil)
	}
	m, _ := mc.Get("g", nil)
	require.Len(t, m.History, historySize)
	assert.Equal(t, float64(historySize+19), m.History[historySize-1].Value)
	assert.Equal(t, float64(20), m.History[0].Value)
}

func TestMetricKey(t *testing.T) {
	assert.Equal(t, "a", metricKey("a", nil))
	assert.Equal(t, "a{op=publish,tf=1h}", metricKey("a", map[string]string{"tf": "1h", "op": "publish"}))
}

func TestHTTPHandlers(t *testing.T) {
	mc := newTestCollector()
	mc.AddCounter("klines_added_total", 3, "Klines added", map[string]string{"timeframe": "1h"})
	server := httptest.NewServer(mc.Handler(""))
	defer server.Close()

	get := func(path string) (int, map[string]interface{}) {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp.StatusCode, body
	}

	t.Run("metrics", func(t *testing.T) {
		code, body := get("/metrics")
		assert.Equal(t, http.StatusOK, code)
		entry, ok := body["klines_added_total{timeframe=1h}"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(3), entry["value"])
		assert.Equal(t, "counter", entry["type"])
	})

	t.Run("health", func(t *testing.T) {
		code, body := get("/health")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", body["status"])

		mc.RegisterHealthChecker(stubChecker{err: errors.New("database connection is closed")})
		code, body = get("/health")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", body["status"])
		assert.Equal(t, "database connection is closed", body["error"])
	})

	t.Run("ready", func(t *testing.T) {
		code, body := get("/ready")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ready", body["status"])

		mc.SetLastRun(RunStatus{RunID: "r1", Succeeded: false, Error: "global pipeline failure"})
		code, body = get("/ready")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "last run failed", body["reason"])

		mc.SetLastRun(RunStatus{RunID: "r2", Succeeded: true})
		code, _ = get("/ready")
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("debug", func(t *testing.T) {
		code, body := get("/debug/metrics")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "metrics")
		assert.Contains(t, body, "system_metrics")
		lastRun, ok := body["last_run"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "r2", lastRun["run_id"])
	})
}

func TestServeStopsOnCancel(t *testing.T) {
	mc := newTestCollector()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mc.Serve(ctx, "127.0.0.1:0", "/metrics") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Error(t, mc.Serve(context.Background(), "256.0.0.1:bad", ""))
}
