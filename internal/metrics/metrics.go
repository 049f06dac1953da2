package metrics

import (
	"maps"
	"sort"
	"sync"
	"time"
)

const maxResponseSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	connections   int64
	unavailable   int64
	selections    map[string]int64
	responseTimes map[string][]time.Duration
	responseTotal map[string]time.Duration
	outcomes      map[string]map[Outcome]int64
	healthStatus  map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalConnections int64                     `json:"total_connections"`
	Unavailable      int64                     `json:"unavailable"`
	Uptime           time.Duration             `json:"uptime"`
	Backends         map[string]BackendMetrics `json:"backends"`
	Algorithm        string                    `json:"algorithm"`
}

type BackendMetrics struct {
	Selections    int64             `json:"selections"`
	Exchanges     int64             `json:"exchanges"`
	Healthy       bool              `json:"healthy"`
	AvgResponse   time.Duration     `json:"avg_response"`
	P50Response   time.Duration     `json:"p50_response"`
	P95Response   time.Duration     `json:"p95_response"`
	P99Response   time.Duration     `json:"p99_response"`
	TotalResponse time.Duration     `json:"total_response"`
	Outcomes      map[Outcome]int64 `json:"outcomes"`
}

func (m *Metrics) IncrementConnections() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.connections++
}

func (m *Metrics) IncrementUnavailable() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.unavailable++
}

func (m *Metrics) RecordBackendSelection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[backend]++
}

// RecordExchange counts the outcome of one exchange. Only successful
// exchanges contribute a response time sample.
func (m *Metrics) RecordExchange(backend string, duration time.Duration, outcome Outcome) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if outcome == OutcomeOK {
		m.responseTimes[backend] = append(m.responseTimes[backend], duration)
		m.responseTotal[backend] += duration

		if len(m.responseTimes[backend]) > maxResponseSamples {
			m.responseTimes[backend] = m.responseTimes[backend][1:]
		}
	}

	if m.outcomes[backend] == nil {
		m.outcomes[backend] = make(map[Outcome]int64)
	}
	m.outcomes[backend][outcome]++
}

func (m *Metrics) UpdateHealthStatus(backend string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[backend] = healthy
}

func (m *Metrics) Snapshot(algorithm string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TotalConnections: m.connections,
		Unavailable:      m.unavailable,
		Uptime:           time.Since(m.startTime),
		Backends:         make(map[string]BackendMetrics),
		Algorithm:        algorithm,
	}

	// Collect all unique backend addresses
	allBackends := make(map[string]bool)
	for backend := range m.selections {
		allBackends[backend] = true
	}
	for backend := range m.outcomes {
		allBackends[backend] = true
	}
	for backend := range m.healthStatus {
		allBackends[backend] = true
	}

	for backend := range allBackends {
		bm := BackendMetrics{
			Selections:    m.selections[backend],
			Healthy:       m.healthStatus[backend],
			TotalResponse: m.responseTotal[backend],
			Outcomes:      maps.Clone(m.outcomes[backend]),
		}
		for _, n := range m.outcomes[backend] {
			bm.Exchanges += n
		}

		durations := m.responseTimes[backend]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func NewMetrics() *Metrics {
	return &Metrics{
		selections:    make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		responseTotal: make(map[string]time.Duration),
		outcomes:      make(map[string]map[Outcome]int64),
		healthStatus:  make(map[string]bool),
		startTime:     time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
