// Package metrics records run metrics of the dataset sync and serves them,
// together with health and readiness probes, as JSON over HTTP.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// historySize is the number of data points kept per metric.
const historySize = 100

// MetricsCollector stores metrics in memory. It is safe for concurrent use.
type MetricsCollector struct {
	logger    *slog.Logger
	startTime time.Time
	now       func() time.Time

	mu          sync.RWMutex
	metrics     map[string]Metric
	healthCheck HealthChecker
	lastRun     *RunStatus
}

// Metric represents a single metric with metadata
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description"`
	UpdatedAt   time.Time         `json:"updated_at"`
	History     []MetricDataPoint `json:"history,omitempty"`
}

// MetricType represents different types of metrics
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDataPoint represents a time-series data point
type MetricDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HealthChecker is implemented by dependencies probed by /health, such as
// the DuckDB mirror.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RunStatus is the outcome of the latest sync run.
type RunStatus struct {
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Succeeded  bool      `json:"succeeded"`
	Error      string    `json:"error,omitempty"`
}

// MetricsSnapshot represents a snapshot of all metrics at a point in time
type MetricsSnapshot struct {
	Timestamp     time.Time         `json:"timestamp"`
	Uptime        time.Duration     `json:"uptime"`
	Metrics       map[string]Metric `json:"metrics"`
	LastRun       *RunStatus        `json:"last_run,omitempty"`
	SystemMetrics SystemMetrics     `json:"system_metrics"`
}

// SystemMetrics represents system-level metrics
type SystemMetrics struct {
	GoroutineCount int    `json:"goroutine_count"`
	NumGC          uint32 `json:"num_gc"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	HeapInuse      uint64 `json:"heap_inuse"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsCollector{
		logger:    logger.With("component", "metrics"),
		startTime: time.Now(),
		now:       time.Now,
		metrics:   make(map[string]Metric),
	}
}

// RegisterHealthChecker sets the dependency probed by /health.
func (mc *MetricsCollector) RegisterHealthChecker(checker HealthChecker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.healthCheck = checker
}

// RecordCounter increments a counter metric by one
func (mc *MetricsCollector) RecordCounter(name, description string, labels map[string]string) {
	mc.AddCounter(name, 1, description, labels)
}

// AddCounter increments a counter metric by delta
func (mc *MetricsCollector) AddCounter(name string, delta float64, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeCounter, delta, description, labels)
}

// RecordGauge sets a gauge metric value
func (mc *MetricsCollector) RecordGauge(name string, value float64, description string, labels map[string]string) {
	mc.recordMetric(name, MetricTypeGauge, value, description, labels)
}

// RecordDuration records a duration metric in milliseconds
func (mc *MetricsCollector) RecordDuration(name string, duration time.Duration, description string, labels map[string]string) {
	ms := float64(duration.Nanoseconds()) / float64(time.Millisecond)
	mc.recordMetric(name, MetricTypeHistogram, ms, description, labels)
}

// SetLastRun stores the outcome of a finished run.
func (mc *MetricsCollector) SetLastRun(status RunStatus) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.lastRun = &status
}

// recordMetric is the internal method for recording metrics. Metrics with
// the same name and different labels are stored separately.
func (mc *MetricsCollector) recordMetric(name string, metricType MetricType, value float64, description string, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	key := metricKey(name, labels)

	existing, exists := mc.metrics[key]
	if !exists {
		mc.metrics[key] = Metric{
			Name:        name,
			Type:        metricType,
			Value:       value,
			Labels:      copyLabels(labels),
			Description: description,
			UpdatedAt:   now,
			History:     []MetricDataPoint{{Timestamp: now, Value: value}},
		}
		return
	}

	if metricType == MetricTypeCounter {
		existing.Value += value
	} else {
		existing.Value = value
	}
	existing.UpdatedAt = now
	existing.History = append(existing.History, MetricDataPoint{Timestamp: now, Value: existing.Value})
	if len(existing.History) > historySize {
		existing.History = existing.History[len(existing.History)-historySize:]
	}
	mc.metrics[key] = existing
}

// metricKey renders name{k1=v1,k2=v2} with sorted label names.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Get returns the metric stored under name and labels.
func (mc *MetricsCollector) Get(name string, labels map[string]string) (Metric, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	m, ok := mc.metrics[metricKey(name, labels)]
	return m, ok
}

// GetSnapshot returns a snapshot of all current metrics
func (mc *MetricsCollector) GetSnapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	metricsCopy := make(map[string]Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		v.History = append([]MetricDataPoint(nil), v.History...)
		metricsCopy[k] = v
	}

	var lastRun *RunStatus
	if mc.lastRun != nil {
		run := *mc.lastRun
		lastRun = &run
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MetricsSnapshot{
		Timestamp: mc.now(),
		Uptime:    time.Since(mc.startTime),
		Metrics:   metricsCopy,
		LastRun:   lastRun,
		SystemMetrics: SystemMetrics{
			GoroutineCount: runtime.NumGoroutine(),
			NumGC:          m.NumGC,
			HeapAlloc:      m.HeapAlloc,
			HeapInuse:      m.HeapInuse,
		},
	}
}

// Handler returns the HTTP handler serving path, /health, /ready and
// /debug/metrics.
func (mc *MetricsCollector) Handler(path string) http.Handler {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, mc.handleMetrics)
	mux.HandleFunc("/health", mc.handleHealth)
	mux.HandleFunc("/ready", mc.handleReadiness)
	mux.HandleFunc("/debug/metrics", mc.handleDebugMetrics)
	return mux
}

// Serve listens on addr until ctx is done, then shuts the server down.
func (mc *MetricsCollector) Serve(ctx context.Context, addr, path string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           mc.Handler(path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		mc.logger.Info("metrics HTTP server starting", "addr", listener.Addr().String())
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics HTTP server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down metrics server: %w", err)
		}
		mc.logger.Info("metrics HTTP server stopped")
		return nil
	}
}

// handleMetrics handles the metrics endpoint
func (mc *MetricsCollector) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := mc.GetSnapshot()

	output := make(map[string]interface{}, len(snapshot.Metrics))
	for key, metric := range snapshot.Metrics {
		output[key] = map[string]interface{}{
			"value":       metric.Value,
			"type":        metric.Type,
			"description": metric.Description,
			"labels":      metric.Labels,
			"updated_at":  metric.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, output)
}

// handleHealth handles the health check endpoint
func (mc *MetricsCollector) handleHealth(w http.ResponseWriter, r *http.Request) {
	mc.mu.RLock()
	checker := mc.healthCheck
	mc.mu.RUnlock()

	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": mc.now(),
		"uptime":    time.Since(mc.startTime).String(),
	}
	code := http.StatusOK
	if checker != nil {
		if err := checker.HealthCheck(r.Context()); err != nil {
			status["status"] = "unhealthy"
			status["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

// handleReadiness reports not ready while the latest run failed.
func (mc *MetricsCollector) handleReadiness(w http.ResponseWriter, r *http.Request) {
	snapshot := mc.GetSnapshot()
	if snapshot.LastRun != nil && !snapshot.LastRun.Succeeded {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "not ready",
			"reason":   "last run failed",
			"last_run": snapshot.LastRun,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": snapshot.Timestamp,
		"last_run":  snapshot.LastRun,
	})
}

// handleDebugMetrics provides detailed metrics for debugging
func (mc *MetricsCollector) handleDebugMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mc.GetSnapshot())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
