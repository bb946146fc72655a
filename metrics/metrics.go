package metrics

import (
	"sync"
	"time"
)

// Collector defines the interface for collecting clock metrics. Every method
// is keyed by clock name so one collector can serve several clocks.
type Collector interface {
	// Gauges - current state
	SetListeners(clock string, count int)
	SetState(clock string, state string)

	// Counters - event tracking
	IncTicks(clock string)
	IncOverruns(clock string)
	IncListenerFaults(clock, listener string)
	IncRestorations(clock, outcome string)
	AddCoalescedFaults(clock string, n int)

	// Histograms - duration tracking
	ObserveCycleDuration(clock string, duration time.Duration)
	ObserveListenerDuration(clock, listener string, duration time.Duration)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (m *NoOpMetrics) SetListeners(clock string, count int)                        {}
func (m *NoOpMetrics) SetState(clock string, state string)                         {}
func (m *NoOpMetrics) IncTicks(clock string)                                       {}
func (m *NoOpMetrics) IncOverruns(clock string)                                    {}
func (m *NoOpMetrics) IncListenerFaults(clock, listener string)                    {}
func (m *NoOpMetrics) IncRestorations(clock, outcome string)                       {}
func (m *NoOpMetrics) AddCoalescedFaults(clock string, n int)                      {}
func (m *NoOpMetrics) ObserveCycleDuration(clock string, duration time.Duration)   {}
func (m *NoOpMetrics) ObserveListenerDuration(clock, listener string, duration time.Duration) {
}

// InMemoryMetrics is a simple in-memory metrics collector for testing and basic monitoring
type InMemoryMetrics struct {
	mu sync.RWMutex

	// Gauges
	listeners map[string]int    // key: "clock"
	states    map[string]string // key: "clock"

	// Counters - using map with composite key
	ticks          map[string]int64 // key: "clock"
	overruns       map[string]int64 // key: "clock"
	listenerFaults map[string]int64 // key: "clock:listener"
	restorations   map[string]int64 // key: "clock:outcome"
	coalesced      map[string]int64 // key: "clock"

	// Histograms - storing observations
	cycleDurations    map[string][]time.Duration // key: "clock"
	listenerDurations map[string][]time.Duration // key: "clock:listener"
}

func NewInMemoryMetrics() *InMemoryMetrics {
	m := &InMemoryMetrics{}
	m.reset()
	return m
}

// Gauges
func (m *InMemoryMetrics) SetListeners(clock string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[clock] = count
}

func (m *InMemoryMetrics) SetState(clock string, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[clock] = state
}

func (m *InMemoryMetrics) GetListeners(clock string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listeners[clock]
}

func (m *InMemoryMetrics) GetState(clock string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[clock]
}

// Counters
func (m *InMemoryMetrics) IncTicks(clock string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[clock]++
}

func (m *InMemoryMetrics) IncOverruns(clock string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overruns[clock]++
}

func (m *InMemoryMetrics) IncListenerFaults(clock, listener string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenerFaults[clock+":"+listener]++
}

func (m *InMemoryMetrics) IncRestorations(clock, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restorations[clock+":"+outcome]++
}

func (m *InMemoryMetrics) AddCoalescedFaults(clock string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coalesced[clock] += int64(n)
}

func (m *InMemoryMetrics) GetTicks(clock string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ticks[clock]
}

func (m *InMemoryMetrics) GetOverruns(clock string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overruns[clock]
}

func (m *InMemoryMetrics) GetListenerFaults(clock, listener string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listenerFaults[clock+":"+listener]
}

func (m *InMemoryMetrics) GetRestorations(clock, outcome string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restorations[clock+":"+outcome]
}

func (m *InMemoryMetrics) GetCoalescedFaults(clock string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coalesced[clock]
}

// Histograms
func (m *InMemoryMetrics) ObserveCycleDuration(clock string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycleDurations[clock] = append(m.cycleDurations[clock], duration)
}

func (m *InMemoryMetrics) ObserveListenerDuration(clock, listener string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := clock + ":" + listener
	m.listenerDurations[key] = append(m.listenerDurations[key], duration)
}

// Helper methods for getting histogram statistics
func (m *InMemoryMetrics) GetCycleDurations(clock string) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyDurations(m.cycleDurations[clock])
}

func (m *InMemoryMetrics) GetListenerDurations(clock, listener string) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyDurations(m.listenerDurations[clock+":"+listener])
}

func copyDurations(durations []time.Duration) []time.Duration {
	result := make([]time.Duration, len(durations))
	copy(result, durations)
	return result
}

// Reset clears all metrics (useful for testing)
func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

func (m *InMemoryMetrics) reset() {
	m.listeners = make(map[string]int)
	m.states = make(map[string]string)
	m.ticks = make(map[string]int64)
	m.overruns = make(map[string]int64)
	m.listenerFaults = make(map[string]int64)
	m.restorations = make(map[string]int64)
	m.coalesced = make(map[string]int64)
	m.cycleDurations = make(map[string][]time.Duration)
	m.listenerDurations = make(map[string][]time.Duration)
}
