package monitor

import (
	"sort"
	"sync"
	"time"
)

// perfRingSize bounds retained request durations.
const perfRingSize = 1000

type (
	// Performance records request latencies and per-endpoint outcomes.
	Performance struct {
		mu        sync.Mutex
		durations []time.Duration
		next      int
		full      bool
		requests  map[string]int
		errors    map[string]int
	}

	// PerfStats is the aggregate latency view served by /stats.
	PerfStats struct {
		TotalRequests int                      `json:"total_requests"`
		AvgSeconds    float64                  `json:"avg_response_time"`
		P95Seconds    float64                  `json:"p95_response_time"`
		P99Seconds    float64                  `json:"p99_response_time"`
		Endpoints     map[string]EndpointStats `json:"endpoint_stats"`
	}

	// EndpointStats is the per-endpoint request and error accounting.
	EndpointStats struct {
		RequestCount int     `json:"request_count"`
		ErrorCount   int     `json:"error_count"`
		ErrorRate    float64 `json:"error_rate"`
	}
)

// NewPerformance constructs the performance recorder.
func NewPerformance() *Performance {
	return &Performance{
		durations: make([]time.Duration, perfRingSize),
		requests:  make(map[string]int),
		errors:    make(map[string]int),
	}
}

// Record notes one request against endpoint.
func (p *Performance) Record(endpoint string, duration time.Duration, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.durations[p.next] = duration
	p.next = (p.next + 1) % len(p.durations)
	if p.next == 0 {
		p.full = true
	}
	p.requests[endpoint]++
	if !success {
		p.errors[endpoint]++
	}
}

// Stats computes average and tail latencies over the retained window.
func (p *Performance) Stats() PerfStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.next
	if p.full {
		size = len(p.durations)
	}
	out := PerfStats{Endpoints: make(map[string]EndpointStats, len(p.requests))}
	for endpoint, count := range p.requests {
		es := EndpointStats{RequestCount: count, ErrorCount: p.errors[endpoint]}
		if count > 0 {
			es.ErrorRate = float64(es.ErrorCount) / float64(count) * 100
		}
		out.Endpoints[endpoint] = es
	}
	if size == 0 {
		return out
	}

	window := make([]time.Duration, size)
	copy(window, p.durations[:size])
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	var sum time.Duration
	for _, d := range window {
		sum += d
	}
	out.TotalRequests = size
	out.AvgSeconds = (sum / time.Duration(size)).Seconds()
	out.P95Seconds = percentile(window, 0.95).Seconds()
	out.P99Seconds = percentile(window, 0.99).Seconds()
	return out
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
