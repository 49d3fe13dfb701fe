package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Script execution outcomes used as label values
const (
	OutcomeSuccess   = "success"
	OutcomeLoad      = "load_error"
	OutcomeExecution = "execution_error"
	OutcomeTimeout   = "timeout"
	OutcomeRejected  = "rejected"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Script host metrics
	ScriptRuns       *prometheus.CounterVec
	ScriptDuration   *prometheus.HistogramVec
	ScriptOutputSize prometheus.Histogram
	ConsoleEntries   *prometheus.CounterVec

	// Sandbox metrics
	SandboxesActive  prometheus.Gauge
	SandboxesCreated prometheus.Counter
	SandboxWait      prometheus.Histogram

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	gatherer prometheus.Gatherer
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health view
type Snapshot struct {
	ScriptRuns     int64   `json:"script_runs"`
	ScriptFailures int64   `json:"script_failures"`
	ActiveSandbox  int64   `json:"active_sandboxes"`
	TotalDuration  float64 `json:"-"`
	AvgDurationMS  float64 `json:"avg_duration_ms"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics registers all collectors on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		gatherer:  reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scripthost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scripthost_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		ScriptRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_script_runs_total",
				Help: "Total number of script invocations by outcome",
			},
			[]string{"outcome"},
		),
		ScriptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scripthost_script_duration_seconds",
				Help:    "Script invocation duration in seconds, load through release",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"outcome"},
		),
		ScriptOutputSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scripthost_script_output_bytes",
				Help:    "Size of successful script results in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
		),
		ConsoleEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_console_entries_total",
				Help: "Console entries emitted by scripts",
			},
			[]string{"level"},
		),

		SandboxesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scripthost_sandboxes_active",
				Help: "Number of live script sandboxes",
			},
		),
		SandboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scripthost_sandboxes_created_total",
				Help: "Total number of script sandboxes created",
			},
		),
		SandboxWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scripthost_sandbox_wait_seconds",
				Help:    "Time spent waiting for a free sandbox slot",
				Buckets: []float64{.0001, .001, .01, .05, .1, .5, 1, 5},
			},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "scripthost_uptime_seconds",
			Help: "Service uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordScriptRun records one script invocation
func (m *Metrics) RecordScriptRun(outcome string, duration time.Duration, outputBytes int) {
	m.ScriptRuns.WithLabelValues(outcome).Inc()
	m.ScriptDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == OutcomeSuccess {
		m.ScriptOutputSize.Observe(float64(outputBytes))
	}

	m.mu.Lock()
	m.snapshot.ScriptRuns++
	if outcome != OutcomeSuccess {
		m.snapshot.ScriptFailures++
	}
	m.snapshot.TotalDuration += duration.Seconds()
	m.mu.Unlock()
}

// RecordConsole counts console entries by level
func (m *Metrics) RecordConsole(level string) {
	m.ConsoleEntries.WithLabelValues(level).Inc()
}

// SandboxOpened tracks a newly created sandbox
func (m *Metrics) SandboxOpened(wait time.Duration) {
	m.SandboxesCreated.Inc()
	m.SandboxesActive.Inc()
	m.SandboxWait.Observe(wait.Seconds())

	m.mu.Lock()
	m.snapshot.ActiveSandbox++
	m.mu.Unlock()
}

// SandboxClosed tracks a released sandbox
func (m *Metrics) SandboxClosed() {
	m.SandboxesActive.Dec()

	m.mu.Lock()
	m.snapshot.ActiveSandbox--
	m.mu.Unlock()
}

// GetSnapshot returns a copy of the current snapshot
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	if snap.ScriptRuns > 0 {
		snap.AvgDurationMS = snap.TotalDuration / float64(snap.ScriptRuns) * 1000
	}
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
