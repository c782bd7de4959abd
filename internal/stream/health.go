package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/clipforge/streamhub/internal/resilience"
)

// HealthStatus classifies the subsystem's overall condition.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// Trend holds deltas against the previous snapshot.
type Trend struct {
	Connections    int     `json:"connections"`
	CPUPct         float64 `json:"cpu_pct"`
	MemoryPct      float64 `json:"memory_pct"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	SuccessRatePct float64 `json:"success_rate_pct"`
}

// Snapshot is an immutable point-in-time health aggregate. Averages are
// moving averages over the monitor's sample window.
type Snapshot struct {
	Time           time.Time      `json:"time"`
	Status         HealthStatus   `json:"status"`
	Connections    int            `json:"connections"`
	UtilizationPct float64        `json:"utilization_pct"`
	AvgLatencyMs   float64        `json:"avg_latency_ms"`
	SuccessRatePct float64        `json:"success_rate_pct"`
	AvgQueueSize   float64        `json:"avg_queue_size"`
	CPUPct         float64        `json:"cpu_pct"`
	MemoryPct      float64        `json:"memory_pct"`
	Trend          *Trend         `json:"trend,omitempty"`
	Errors         map[string]int `json:"errors,omitempty"`
}

// Alert flags a single metric past a warning or critical threshold. Multiple
// alerts may coexist regardless of the overall status.
type Alert struct {
	Severity HealthStatus `json:"severity"`
	Metric   string       `json:"metric"`
	Message  string       `json:"message"`
	Value    float64      `json:"value"`
}

// limit is one row of the two-tier threshold table. below inverts the
// comparison for metrics where low values are bad.
type limit struct {
	metric string
	warn   float64
	crit   float64
	below  bool
}

var limits = []limit{
	{metric: "cpu_pct", warn: 70, crit: 90},
	{metric: "memory_pct", warn: 80, crit: 90},
	{metric: "avg_latency_ms", warn: 1000, crit: 5000},
	{metric: "success_rate_pct", warn: 80, crit: 50, below: true},
	{metric: "avg_queue_size", warn: 500, crit: 800},
}

func (l limit) severity(v float64) HealthStatus {
	if l.below {
		switch {
		case v <= l.crit:
			return StatusCritical
		case v <= l.warn:
			return StatusWarning
		}
		return StatusHealthy
	}
	switch {
	case v >= l.crit:
		return StatusCritical
	case v >= l.warn:
		return StatusWarning
	}
	return StatusHealthy
}

// movingAverage is a fixed-window mean.
type movingAverage struct {
	window []float64
	idx    int
	count  int
	sum    float64
}

func newMovingAverage(size int) *movingAverage {
	return &movingAverage{window: make([]float64, size)}
}

func (m *movingAverage) add(v float64) {
	if m.count == len(m.window) {
		m.sum -= m.window[m.idx]
	} else {
		m.count++
	}
	m.window[m.idx] = v
	m.sum += v
	m.idx = (m.idx + 1) % len(m.window)
}

func (m *movingAverage) value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Monitor samples pool and system metrics on an interval, maintains moving
// averages, classifies overall health, and keeps a bounded snapshot history.
type Monitor struct {
	pool     *Pool
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// OS sampling runs behind a breaker so a broken proc interface is not
	// hammered on every tick. Failed samples retain the previous average.
	breaker   *resilience.Breaker
	sampleCPU func(context.Context) (float64, error)
	sampleMem func(context.Context) (float64, error)

	mu          sync.Mutex
	latency     *movingAverage
	successRate *movingAverage
	queueSize   *movingAverage
	cpuAvg      *movingAverage
	memAvg      *movingAverage
	history     []Snapshot
	historyCap  int
	errorCounts map[string]int
}

// NewMonitor creates a health monitor over the given pool.
func NewMonitor(pool *Pool, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Monitor{
		pool:        pool,
		interval:    cfg.HealthSampleInterval,
		logger:      logger,
		now:         time.Now,
		breaker:     resilience.NewBreaker(3, time.Minute),
		sampleCPU:   sampleCPUPercent,
		sampleMem:   sampleMemPercent,
		latency:     newMovingAverage(cfg.HealthWindowSize),
		successRate: newMovingAverage(cfg.HealthWindowSize),
		queueSize:   newMovingAverage(cfg.HealthWindowSize),
		cpuAvg:      newMovingAverage(cfg.HealthWindowSize),
		memAvg:      newMovingAverage(cfg.HealthWindowSize),
		historyCap:  cfg.HealthHistorySize,
		errorCounts: make(map[string]int),
	}
}

func sampleCPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("cpu sample returned no values")
	}
	return pcts[0], nil
}

func sampleMemPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// run drives the sampling loop until ctx is cancelled.
func (m *Monitor) run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sample(ctx)
		}
	}
}

// Sample takes one measurement, updates the moving averages, classifies the
// result, and appends it to the history ring. A failed OS sample is counted
// and logged; the previous average carries through for that tick.
func (m *Monitor) Sample(ctx context.Context) Snapshot {
	poolStats := m.pool.Stats()
	sent, failed, avgQueue, avgIdleMs := m.pool.aggregateCounters()

	success := 100.0
	if sent+failed > 0 {
		success = float64(sent) / float64(sent+failed) * 100
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.latency.add(avgIdleMs)
	m.successRate.add(success)
	m.queueSize.add(avgQueue)
	m.addSystemSample(ctx, "cpu", m.cpuAvg, m.sampleCPU)
	m.addSystemSample(ctx, "memory", m.memAvg, m.sampleMem)

	snap := Snapshot{
		Time:           m.now(),
		Connections:    poolStats.Total,
		UtilizationPct: poolStats.UtilizationPct,
		AvgLatencyMs:   m.latency.value(),
		SuccessRatePct: m.successRate.value(),
		AvgQueueSize:   m.queueSize.value(),
		CPUPct:         m.cpuAvg.value(),
		MemoryPct:      m.memAvg.value(),
	}
	snap.Status = classify(snap)

	if len(m.history) > 0 {
		prev := m.history[len(m.history)-1]
		snap.Trend = &Trend{
			Connections:    snap.Connections - prev.Connections,
			CPUPct:         snap.CPUPct - prev.CPUPct,
			MemoryPct:      snap.MemoryPct - prev.MemoryPct,
			AvgLatencyMs:   snap.AvgLatencyMs - prev.AvgLatencyMs,
			SuccessRatePct: snap.SuccessRatePct - prev.SuccessRatePct,
		}
	}
	if len(m.errorCounts) > 0 {
		snap.Errors = make(map[string]int, len(m.errorCounts))
		for k, v := range m.errorCounts {
			snap.Errors[k] = v
		}
	}

	m.history = append(m.history, snap)
	if len(m.history) > m.historyCap {
		m.history = m.history[1:]
	}
	return snap
}

// addSystemSample must be called with m.mu held.
func (m *Monitor) addSystemSample(ctx context.Context, name string, avg *movingAverage, sample func(context.Context) (float64, error)) {
	err := m.breaker.Execute(func() error {
		v, err := sample(ctx)
		if err != nil {
			return err
		}
		avg.add(v)
		return nil
	})
	if err != nil {
		m.errorCounts[name+"_sample"]++
		m.logger.Warn("system sample failed", "metric", name, "error", err)
	}
}

// classify applies the threshold table, most severe wins.
func classify(s Snapshot) HealthStatus {
	status := StatusHealthy
	for _, l := range limits {
		switch l.severity(metricValue(s, l.metric)) {
		case StatusCritical:
			return StatusCritical
		case StatusWarning:
			status = StatusWarning
		}
	}
	return status
}

func metricValue(s Snapshot, metric string) float64 {
	switch metric {
	case "cpu_pct":
		return s.CPUPct
	case "memory_pct":
		return s.MemoryPct
	case "avg_latency_ms":
		return s.AvgLatencyMs
	case "success_rate_pct":
		return s.SuccessRatePct
	case "avg_queue_size":
		return s.AvgQueueSize
	}
	return 0
}

// Latest returns the most recent snapshot, if any has been taken.
func (m *Monitor) Latest() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Snapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// History returns a copy of the snapshot ring, oldest first.
func (m *Monitor) History() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Alerts derives one alert per crossed threshold from the latest snapshot,
// independent of the overall classification.
func (m *Monitor) Alerts() []Alert {
	latest, ok := m.Latest()
	if !ok {
		return nil
	}

	var alerts []Alert
	for _, l := range limits {
		v := metricValue(latest, l.metric)
		sev := l.severity(v)
		if sev == StatusHealthy {
			continue
		}
		alerts = append(alerts, Alert{
			Severity: sev,
			Metric:   l.metric,
			Message:  fmt.Sprintf("%s at %.1f crossed %s threshold", l.metric, v, sev),
			Value:    v,
		})
	}
	return alerts
}
