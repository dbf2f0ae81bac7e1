package quality

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sample is one point-in-time measurement of path quality.
type Sample struct {
	// LatencyMs is the mean control-channel round trip in milliseconds.
	// The full round trip is reported, never halved.
	LatencyMs float64
	// JitterMs is the mean absolute deviation of arrival spacing relative
	// to send spacing, in milliseconds.
	JitterMs float64
	// LossRatio is droppedFrames/(droppedFrames+completedFrames), 0..1.
	LossRatio float64
	// ThroughputBps is payload bytes received per second.
	ThroughputBps float64
	// SampleTime is when the sample was computed.
	SampleTime time.Time
}

// MonitorConfig defines the estimator's cadence and retention.
type MonitorConfig struct {
	// SampleInterval is how often a Sample is emitted (default: 1s).
	SampleInterval time.Duration
	// WindowHorizon is how long events contribute to a Sample (default: 5s).
	WindowHorizon time.Duration
}

// DefaultMonitorConfig returns the documented defaults.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		SampleInterval: time.Second,
		WindowHorizon:  DefaultWindowHorizon,
	}
}

// Monitor reduces a MetricsWindow to periodic Samples.
//
// Feed it from the datagram path via ObserveFragment/ObserveFrameCompleted/
// ObserveFrameDropped and from the control path via ObserveRoundTrip, then
// either drive it with Start or pull Samples with Sample directly. When the
// window holds no round trips or too few arrivals, the previous latency and
// jitter values carry forward so the adaptation controller always has a
// current reading.
type Monitor struct {
	mu     sync.Mutex
	config *MonitorConfig
	window *MetricsWindow

	lastLatencyMs float64
	lastJitterMs  float64
	latest        Sample

	sampleCb func(Sample)

	cancel  context.CancelFunc
	running bool

	timeProvider TimeProvider
}

// NewMonitor creates a quality monitor with the given configuration.
// A nil config uses DefaultMonitorConfig.
func NewMonitor(config *MonitorConfig) *Monitor {
	if config == nil {
		config = DefaultMonitorConfig()
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = time.Second
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewMonitor",
		"sample_interval": config.SampleInterval,
		"window_horizon":  config.WindowHorizon,
	}).Info("Creating quality monitor")

	return &Monitor{
		config:       config,
		window:       NewMetricsWindow(config.WindowHorizon),
		timeProvider: DefaultTimeProvider{},
	}
}

// SetTimeProvider sets the time provider for deterministic testing.
func (m *Monitor) SetTimeProvider(tp TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	m.timeProvider = tp
}

// SetSampleCallback registers a callback invoked on every emitted Sample.
func (m *Monitor) SetSampleCallback(cb func(Sample)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleCb = cb
}

// ObserveFragment records a fragment arrival.
//
// Parameters:
//   - sendTime: Sender timestamp from the fragment header
//   - bytes: Payload bytes in the fragment
func (m *Monitor) ObserveFragment(sendTime time.Time, bytes int) {
	m.window.AddArrival(m.now(), sendTime, bytes)
}

// ObserveRoundTrip records a completed Ping/Pong round trip.
func (m *Monitor) ObserveRoundTrip(rtt time.Duration) {
	m.window.AddRoundTrip(m.now(), rtt)
}

// ObserveFrameCompleted records a fully reassembled frame.
func (m *Monitor) ObserveFrameCompleted() {
	m.window.AddFrameCompleted(m.now())
}

// ObserveFrameDropped records a frame lost to reassembly timeout.
func (m *Monitor) ObserveFrameDropped() {
	m.window.AddFrameDropped(m.now())
}

// Sample computes the current quality sample.
//
// A silent window produces a sample anyway: loss and throughput read as
// zero while latency and jitter carry the previous values forward.
func (m *Monitor) Sample() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timeProvider.Now()

	m.window.mu.Lock()
	m.window.evictLocked(now)
	latency, haveLatency := m.window.latencyMs()
	jitter, haveJitter := m.window.jitterMs()
	loss := m.window.lossRatio()
	throughput := m.window.throughputBps()
	m.window.mu.Unlock()

	if !haveLatency {
		latency = m.lastLatencyMs
	}
	if !haveJitter {
		jitter = m.lastJitterMs
	}

	sample := Sample{
		LatencyMs:     latency,
		JitterMs:      jitter,
		LossRatio:     loss,
		ThroughputBps: throughput,
		SampleTime:    now,
	}

	m.lastLatencyMs = latency
	m.lastJitterMs = jitter
	m.latest = sample

	logrus.WithFields(logrus.Fields{
		"function":       "Sample",
		"latency_ms":     sample.LatencyMs,
		"jitter_ms":      sample.JitterMs,
		"loss_ratio":     sample.LossRatio,
		"throughput_bps": sample.ThroughputBps,
	}).Debug("Computed quality sample")

	return sample
}

// Latest returns the most recently computed sample without recomputing.
func (m *Monitor) Latest() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Start launches the fixed-cadence sampling loop. Each tick computes a
// Sample and invokes the registered callback. Start is idempotent while
// running; Stop or cancelling ctx ends the loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	interval := m.config.SampleInterval
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sample := m.Sample()
				m.mu.Lock()
				cb := m.sampleCb
				m.mu.Unlock()
				if cb != nil {
					cb(sample)
				}
			}
		}
	}()
}

// Stop ends the sampling loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.running = false
}

func (m *Monitor) now() time.Time {
	m.mu.Lock()
	tp := m.timeProvider
	m.mu.Unlock()
	return tp.Now()
}
