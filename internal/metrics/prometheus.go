package metrics

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector mirrors the Collector's metrics into the Prometheus
// exposition format. The JSON snapshot and the Prometheus endpoint stay
// available side by side.
type PrometheusCollector struct {
	collector *Collector
	registry  *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	activeConnections prometheus.Gauge
	peerCount         prometheus.Gauge
	networkCount      prometheus.Gauge
	goroutineCount    prometheus.Gauge
	uptimeSeconds     prometheus.Gauge

	// Cumulative counts already pushed into the Prometheus counters,
	// so Sync can add only the delta.
	lastCounts   map[string]uint64
	lastCountsMu sync.Mutex
}

// NewPrometheusCollector wraps an existing Collector. Metrics register in
// a dedicated registry so tests and embedders never collide with the
// global default registry.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	reg := prometheus.NewRegistry()

	requestCount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "samizdat",
		Name:      "request_count",
		Help:      "Total number of daemon requests by method.",
	}, []string{"method"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "samizdat",
		Name:      "request_duration_seconds",
		Help:      "Daemon request latency histogram by method.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method"})

	activeConns := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "samizdat",
		Name:      "active_connections",
		Help:      "Number of active client connections to the daemon.",
	})

	peerCnt := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "samizdat",
		Name:      "peer_count",
		Help:      "Number of connected peers.",
	})

	networkCnt := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "samizdat",
		Name:      "network_count",
		Help:      "Number of joined community networks.",
	})

	goroutineCnt := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "samizdat",
		Name:      "goroutine_count",
		Help:      "Number of goroutines.",
	})

	uptimeSec := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "samizdat",
		Name:      "uptime_seconds",
		Help:      "Time since the daemon started in seconds.",
	})

	reg.MustRegister(requestCount)
	reg.MustRegister(requestDuration)
	reg.MustRegister(activeConns)
	reg.MustRegister(peerCnt)
	reg.MustRegister(networkCnt)
	reg.MustRegister(goroutineCnt)
	reg.MustRegister(uptimeSec)

	return &PrometheusCollector{
		collector:         c,
		registry:          reg,
		requestCount:      requestCount,
		requestDuration:   requestDuration,
		activeConnections: activeConns,
		peerCount:         peerCnt,
		networkCount:      networkCnt,
		goroutineCount:    goroutineCnt,
		uptimeSeconds:     uptimeSec,
		lastCounts:        make(map[string]uint64),
	}
}

// Registry returns the dedicated Prometheus registry.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// RecordRequest records a request in both representations.
func (p *PrometheusCollector) RecordRequest(method string) {
	p.collector.RecordRequest(method)
	p.requestCount.WithLabelValues(method).Inc()

	// Advance the sync watermark too, or the next Sync would re-add
	// this request as a delta from the base collector.
	p.lastCountsMu.Lock()
	p.lastCounts[method]++
	p.lastCountsMu.Unlock()
}

// RecordLatency records latency in both representations.
func (p *PrometheusCollector) RecordLatency(method string, duration time.Duration) {
	p.collector.RecordLatency(method, duration)
	p.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// IncrementConnections increments the connection gauge in both.
func (p *PrometheusCollector) IncrementConnections() {
	p.collector.IncrementConnections()
	p.activeConnections.Inc()
}

// DecrementConnections decrements the connection gauge in both.
func (p *PrometheusCollector) DecrementConnections() {
	p.collector.DecrementConnections()
	p.activeConnections.Dec()
}

// SetPeerCount sets the peer gauge in both.
func (p *PrometheusCollector) SetPeerCount(count int) {
	p.collector.SetPeerCount(count)
	p.peerCount.Set(float64(count))
}

// SetNetworkCount sets the joined-network gauge in both.
func (p *PrometheusCollector) SetNetworkCount(count int) {
	p.collector.SetNetworkCount(count)
	p.networkCount.Set(float64(count))
}

// UpdateGoroutineCount samples the goroutine count into both.
func (p *PrometheusCollector) UpdateGoroutineCount() {
	p.collector.UpdateGoroutineCount()
	p.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Sync pushes the Collector's current state into the Prometheus gauges.
// Counter deltas are added so direct Collector writes are not lost.
func (p *PrometheusCollector) Sync() {
	p.collector.UpdateGoroutineCount()
	m := p.collector.GetMetrics()

	p.activeConnections.Set(float64(m.ActiveConnections))
	p.peerCount.Set(float64(m.PeerCount))
	p.networkCount.Set(float64(m.NetworkCount))
	p.goroutineCount.Set(float64(m.GoroutineCount))
	p.uptimeSeconds.Set(m.UptimeSeconds)

	p.lastCountsMu.Lock()
	for method, total := range m.RequestCounts {
		prev := p.lastCounts[method]
		if total > prev {
			p.requestCount.WithLabelValues(method).Add(float64(total - prev))
		}
		p.lastCounts[method] = total
	}
	p.lastCountsMu.Unlock()
}

// GetMetrics returns the JSON snapshot from the underlying Collector.
func (p *PrometheusCollector) GetMetrics() *Metrics {
	return p.collector.GetMetrics()
}

// GetMetricsJSON returns the JSON-encoded snapshot.
func (p *PrometheusCollector) GetMetricsJSON() ([]byte, error) {
	return p.collector.GetMetricsJSON()
}

// Collector returns the underlying Collector.
func (p *PrometheusCollector) Collector() *Collector {
	return p.collector
}

// PrometheusHandler serves the registry in the text exposition format,
// syncing gauges from the Collector before each scrape.
func (p *PrometheusCollector) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Sync()
		promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
