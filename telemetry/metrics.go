package telemetry

import (
	"math"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nuran-nahadi/Networking-Project/adapt"
	"github.com/nuran-nahadi/Networking-Project/quality"
)

// Metrics holds all stream metrics, exposed over Prometheus.
//
// Counters are updated from the session hot paths with atomics; the
// Prometheus collectors read them lazily on scrape.
type Metrics struct {
	// Frame pipeline counters
	FramesSent      atomic.Uint64
	FramesCompleted atomic.Uint64
	FramesDropped   atomic.Uint64
	FragmentsSent   atomic.Uint64
	BytesSent       atomic.Uint64

	// Adaptation counters
	TierChanges    atomic.Uint64
	TierUpgrades   atomic.Uint64
	TierDowngrades atomic.Uint64

	// Session tracking
	ActiveSessions atomic.Uint64
	TotalSessions  atomic.Uint64

	// Quality gauges, stored as float64 bits
	latencyMs     atomic.Uint64
	jitterMs      atomic.Uint64
	lossRatio     atomic.Uint64
	throughputBps atomic.Uint64

	// Current tier index
	currentTier atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its Prometheus collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerCollectors()
	return m
}

func (m *Metrics) registerCollectors() {
	counters := []struct {
		name string
		help string
		src  *atomic.Uint64
	}{
		{"stream_frames_sent_total", "Total frames fragmented and sent", &m.FramesSent},
		{"stream_frames_completed_total", "Total frames fully reassembled", &m.FramesCompleted},
		{"stream_frames_dropped_total", "Total frames dropped before completion", &m.FramesDropped},
		{"stream_fragments_sent_total", "Total fragments sent", &m.FragmentsSent},
		{"stream_bytes_sent_total", "Total payload bytes sent", &m.BytesSent},
		{"stream_tier_changes_total", "Total acknowledged tier transitions", &m.TierChanges},
		{"stream_tier_upgrades_total", "Total upward tier transitions", &m.TierUpgrades},
		{"stream_tier_downgrades_total", "Total downward tier transitions", &m.TierDowngrades},
		{"stream_active_sessions", "Number of live sessions", &m.ActiveSessions},
		{"stream_total_sessions", "Total sessions accepted", &m.TotalSessions},
	}
	for _, c := range counters {
		src := c.src
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(src.Load()) },
		))
	}

	gauges := []struct {
		name string
		help string
		src  *atomic.Uint64
	}{
		{"stream_latency_ms", "Mean round-trip latency in milliseconds", &m.latencyMs},
		{"stream_jitter_ms", "Mean inter-arrival jitter in milliseconds", &m.jitterMs},
		{"stream_loss_ratio", "Fraction of frames dropped in the sample window", &m.lossRatio},
		{"stream_throughput_bps", "Received throughput in bytes per second", &m.throughputBps},
	}
	for _, g := range gauges {
		src := g.src
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return math.Float64frombits(src.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "stream_current_tier",
			Help: "Current tier index on the ladder",
		},
		func() float64 { return float64(m.currentTier.Load()) },
	))
}

// RecordSample publishes one quality sample to the gauges.
func (m *Metrics) RecordSample(s quality.Sample) {
	m.latencyMs.Store(math.Float64bits(s.LatencyMs))
	m.jitterMs.Store(math.Float64bits(s.JitterMs))
	m.lossRatio.Store(math.Float64bits(s.LossRatio))
	m.throughputBps.Store(math.Float64bits(s.ThroughputBps))
}

// RecordTierChange counts an acknowledged transition and updates the
// current tier gauge.
func (m *Metrics) RecordTierChange(from, to adapt.Tier) {
	m.TierChanges.Add(1)
	if to > from {
		m.TierUpgrades.Add(1)
	} else if to < from {
		m.TierDowngrades.Add(1)
	}
	m.currentTier.Store(uint64(to))
}

// SetCurrentTier updates the tier gauge without counting a transition.
func (m *Metrics) SetCurrentTier(t adapt.Tier) {
	m.currentTier.Store(uint64(t))
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves the /metrics endpoint on addr, blocking.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
