package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type MethodSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type ReconcileSnapshot struct {
	Outcomes    map[string]int64 `json:"outcomes"`
	BackendSync map[string]int64 `json:"backend_sync"`
	Duplicates  int64            `json:"duplicates"`
	Discarded   int64            `json:"discarded"`
}

type Snapshot struct {
	UptimeSec       int64                     `json:"uptime_sec"`
	TotalRequests   int64                     `json:"total_requests"`
	TotalErrors     int64                     `json:"total_errors"`
	InFlight        int64                     `json:"in_flight"`
	RateLimitWaits  int64                     `json:"rate_limit_waits"`
	RateLimitWaitMs int64                     `json:"rate_limit_wait_ms"`
	Lifecycle       *LifecycleSnapshot        `json:"lifecycle,omitempty"`
	Methods         map[string]MethodSnapshot `json:"methods"`
	Reconcile       ReconcileSnapshot         `json:"reconcile"`
}

type methodStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type reconcileStats struct {
	outcomes    map[string]int64
	backendSync map[string]int64
	duplicates  int64
	discarded   int64
}

// Metrics aggregates request and reconciliation counters in process and
// mirrors them to Prometheus once RegisterPrometheus is called.
type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	methods        map[string]*methodStats
	rateLimitWaits int64
	rateLimitWait  time.Duration
	lifecycle      lifecycleStats
	reconcile      reconcileStats
	prom           *promCollectors
}

type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:   time.Now(),
		methods: make(map[string]*methodStats),
		reconcile: reconcileStats{
			outcomes:    make(map[string]int64),
			backendSync: make(map[string]int64),
		},
	}
}

// RegisterPrometheus creates the Prometheus collectors on reg.
func (m *Metrics) RegisterPrometheus(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	prom := newPromCollectors()
	if err := prom.register(reg); err != nil {
		return err
	}
	m.mu.Lock()
	m.prom = prom
	m.mu.Unlock()
	return nil
}

func (m *Metrics) Start(method string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		method:  method,
		start:   time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.method, dur, err != nil)
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	prom := m.prom
	m.mu.Unlock()
	if prom != nil {
		prom.rateLimitWait.Observe(d.Seconds())
	}
}

// RecordOutcome counts a completed reconciliation by outcome status.
func (m *Metrics) RecordOutcome(status string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.reconcile.outcomes[status]++
	prom := m.prom
	m.mu.Unlock()
	if prom != nil {
		prom.outcomes.WithLabelValues(status).Inc()
	}
}

// RecordBackendSync counts a finalize call by result.
func (m *Metrics) RecordBackendSync(result string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.reconcile.backendSync[result]++
	prom := m.prom
	m.mu.Unlock()
	if prom != nil {
		prom.backendSync.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.reconcile.duplicates++
	prom := m.prom
	m.mu.Unlock()
	if prom != nil {
		prom.duplicates.Inc()
	}
}

func (m *Metrics) RecordDiscarded() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.reconcile.discarded++
	prom := m.prom
	m.mu.Unlock()
	if prom != nil {
		prom.discarded.Inc()
	}
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:       int64(now.Sub(m.start).Seconds()),
		Methods:         make(map[string]MethodSnapshot),
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
		Reconcile: ReconcileSnapshot{
			Outcomes:    copyCounts(m.reconcile.outcomes),
			BackendSync: copyCounts(m.reconcile.backendSync),
			Duplicates:  m.reconcile.duplicates,
			Discarded:   m.reconcile.discarded,
		},
	}

	for method, stats := range m.methods {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Methods[method] = MethodSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

// InFlight returns the number of requests currently being served.
func (m *Metrics) InFlight() int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, stats := range m.methods {
		n += stats.inFlight
	}
	return n
}

func (m *Metrics) ensureMethod(method string) *methodStats {
	stats, ok := m.methods[method]
	if !ok {
		stats = &methodStats{}
		m.methods[method] = stats
	}
	return stats
}

func (m *Metrics) finish(method string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	prom := m.prom
	m.mu.Unlock()

	if prom != nil {
		status := "ok"
		if failed {
			status = "error"
		}
		prom.requests.WithLabelValues(method, status).Inc()
		prom.latency.WithLabelValues(method).Observe(dur.Seconds())
	}
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
