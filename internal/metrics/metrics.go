// Package metrics aggregates daemon counters for the status RPC and the
// Prometheus exposition endpoint.
package metrics

import (
	"encoding/json"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates request counts, latencies, and gauge values for
// the daemon. It backs both the JSON status output and the Prometheus
// mirror in this package.
type Collector struct {
	mu            sync.RWMutex
	requestCounts map[string]uint64
	latencies     map[string]*latencyHistogram

	activeConnections int64
	peerCount         int64
	networkCount      int64
	goroutineCount    int64

	startTime time.Time
}

// latencyHistogram tracks request latencies in fixed millisecond buckets.
type latencyHistogram struct {
	mu      sync.Mutex
	buckets [10]uint64
	sum     uint64 // nanoseconds
	count   uint64
}

// bucket upper bounds in milliseconds; the tenth bucket is overflow.
var bucketBoundaries = []int64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

var bucketLabels = []string{
	"0-1ms", "1-5ms", "5-10ms", "10-25ms", "25-50ms",
	"50-100ms", "100-250ms", "250-500ms", "500-1000ms", "1000ms+",
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		requestCounts: make(map[string]uint64),
		latencies:     make(map[string]*latencyHistogram),
		startTime:     time.Now(),
	}
}

// RecordRequest counts one request for the given RPC method.
func (c *Collector) RecordRequest(method string) {
	c.mu.Lock()
	c.requestCounts[method]++
	c.mu.Unlock()
}

// RecordLatency records how long a request for the given method took.
func (c *Collector) RecordLatency(method string, duration time.Duration) {
	c.mu.Lock()
	hist, ok := c.latencies[method]
	if !ok {
		hist = &latencyHistogram{}
		c.latencies[method] = hist
	}
	c.mu.Unlock()

	hist.record(duration)
}

func (h *latencyHistogram) record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ms := d.Milliseconds()
	idx := len(bucketBoundaries)
	for i, boundary := range bucketBoundaries {
		if ms < boundary {
			idx = i
			break
		}
	}

	h.buckets[idx]++
	h.sum += uint64(d.Nanoseconds())
	h.count++
}

// IncrementConnections counts a new client connection.
func (c *Collector) IncrementConnections() {
	atomic.AddInt64(&c.activeConnections, 1)
}

// DecrementConnections counts a closed client connection.
func (c *Collector) DecrementConnections() {
	atomic.AddInt64(&c.activeConnections, -1)
}

// SetPeerCount records the number of connected peers.
func (c *Collector) SetPeerCount(count int) {
	atomic.StoreInt64(&c.peerCount, int64(count))
}

// SetNetworkCount records the number of joined community networks.
func (c *Collector) SetNetworkCount(count int) {
	atomic.StoreInt64(&c.networkCount, int64(count))
}

// UpdateGoroutineCount samples the current goroutine count.
func (c *Collector) UpdateGoroutineCount() {
	atomic.StoreInt64(&c.goroutineCount, int64(runtime.NumGoroutine()))
}

// Metrics is the JSON snapshot served by the daemon's status surface.
type Metrics struct {
	Uptime            string                  `json:"uptime"`
	UptimeSeconds     float64                 `json:"uptime_seconds"`
	RequestCounts     map[string]uint64       `json:"request_counts"`
	RequestLatencies  map[string]LatencyStats `json:"request_latencies"`
	ActiveConnections int64                   `json:"active_connections"`
	PeerCount         int64                   `json:"peer_count"`
	NetworkCount      int64                   `json:"network_count"`
	GoroutineCount    int64                   `json:"goroutine_count"`
	CollectedAt       time.Time               `json:"collected_at"`
}

// LatencyStats summarizes one method's latency histogram.
type LatencyStats struct {
	Count   uint64            `json:"count"`
	SumMs   float64           `json:"sum_ms"`
	AvgMs   float64           `json:"avg_ms"`
	Buckets map[string]uint64 `json:"buckets"`
}

// GetMetrics returns a snapshot of all metrics.
func (c *Collector) GetMetrics() *Metrics {
	uptime := time.Since(c.startTime)

	c.mu.RLock()
	requestCounts := make(map[string]uint64, len(c.requestCounts))
	for method, count := range c.requestCounts {
		requestCounts[method] = count
	}

	latencies := make(map[string]LatencyStats, len(c.latencies))
	for method, hist := range c.latencies {
		hist.mu.Lock()
		stats := LatencyStats{
			Count:   hist.count,
			SumMs:   float64(hist.sum) / float64(time.Millisecond),
			Buckets: make(map[string]uint64),
		}
		if hist.count > 0 {
			stats.AvgMs = float64(hist.sum) / float64(hist.count) / float64(time.Millisecond)
		}
		for i, count := range hist.buckets {
			if count > 0 {
				stats.Buckets[bucketLabels[i]] = count
			}
		}
		hist.mu.Unlock()
		latencies[method] = stats
	}
	c.mu.RUnlock()

	return &Metrics{
		Uptime:            uptime.Round(time.Second).String(),
		UptimeSeconds:     uptime.Seconds(),
		RequestCounts:     requestCounts,
		RequestLatencies:  latencies,
		ActiveConnections: atomic.LoadInt64(&c.activeConnections),
		PeerCount:         atomic.LoadInt64(&c.peerCount),
		NetworkCount:      atomic.LoadInt64(&c.networkCount),
		GoroutineCount:    atomic.LoadInt64(&c.goroutineCount),
		CollectedAt:       time.Now(),
	}
}

// GetMetricsJSON returns the snapshot as JSON.
func (c *Collector) GetMetricsJSON() ([]byte, error) {
	return json.Marshal(c.GetMetrics())
}

// Reset clears all metrics. Used in tests.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.requestCounts = make(map[string]uint64)
	c.latencies = make(map[string]*latencyHistogram)
	c.mu.Unlock()

	atomic.StoreInt64(&c.activeConnections, 0)
	atomic.StoreInt64(&c.peerCount, 0)
	atomic.StoreInt64(&c.networkCount, 0)
	atomic.StoreInt64(&c.goroutineCount, 0)
	c.startTime = time.Now()
}
