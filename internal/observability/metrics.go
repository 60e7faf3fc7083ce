package observability

import (
	"strconv"
	"sync"
	"time"
)

// Engine counter names.
const (
	CounterEscalationsFired = "escalations_fired"
	CounterItemsDiverted    = "items_diverted"
	CounterItemsReverted    = "items_reverted"
	CounterItemFailures     = "item_failures"
	CounterSweepsRun        = "sweeps_run"
	CounterSweepsFailed     = "sweeps_failed"
	CounterSweepsSkipped    = "sweeps_skipped"
	CounterConsistencyError = "consistency_errors"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	counters     map[string]int64
	lastSweep    time.Time
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Requests  map[string]int64 `json:"requests"`
	Errors    map[string]int64 `json:"errors"`
	Engine    map[string]int64 `json:"engine"`
	LastSweep *time.Time       `json:"last_sweep,omitempty"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		counters:     make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// Add increments an engine counter by delta.
func (m *Metrics) Add(name string, delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += int64(delta)
}

// Inc increments an engine counter by one.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// MarkSweep records the completion time of the latest sweep.
func (m *Metrics) MarkSweep(at time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSweep = at
}

// Counter returns the current value of an engine counter.
func (m *Metrics) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Snapshot copies all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Requests: map[string]int64{},
		Errors:   map[string]int64{},
		Engine:   map[string]int64{},
	}
	if m == nil {
		return snap
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.requestCount {
		snap.Requests[k] = v
	}
	for k, v := range m.errorCount {
		snap.Errors[k] = v
	}
	for k, v := range m.counters {
		snap.Engine[k] = v
	}
	if !m.lastSweep.IsZero() {
		last := m.lastSweep
		snap.LastSweep = &last
	}
	return snap
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
