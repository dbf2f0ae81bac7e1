package quality

import (
	"sync"
	"time"
)

// arrivalRecord captures one fragment arrival.
type arrivalRecord struct {
	recvTime time.Time
	sendTime time.Time
	bytes    int
}

// rttRecord captures one completed control-channel round trip.
type rttRecord struct {
	when time.Time
	rtt  time.Duration
}

// frameRecord captures the outcome of one frame (completed or dropped).
type frameRecord struct {
	when    time.Time
	dropped bool
}

// MetricsWindow is a bounded, time-ordered record of recent fragment
// arrivals, round trips, and frame outcomes.
//
// Entries older than the horizon are evicted on every mutation, so the
// window never grows unbounded regardless of traffic rate. All methods
// are safe for concurrent use; the datagram read loop and the sampling
// ticker feed the same window.
type MetricsWindow struct {
	mu      sync.Mutex
	horizon time.Duration

	arrivals []arrivalRecord
	rtts     []rttRecord
	frames   []frameRecord
}

// DefaultWindowHorizon is how long events remain visible to the estimator.
const DefaultWindowHorizon = 5 * time.Second

// NewMetricsWindow creates a window retaining events for the given horizon.
// A non-positive horizon falls back to DefaultWindowHorizon.
func NewMetricsWindow(horizon time.Duration) *MetricsWindow {
	if horizon <= 0 {
		horizon = DefaultWindowHorizon
	}
	return &MetricsWindow{horizon: horizon}
}

// AddArrival records one fragment arrival.
//
// Parameters:
//   - recvTime: Local arrival time
//   - sendTime: Sender timestamp carried in the fragment header
//   - bytes: Payload bytes received
func (w *MetricsWindow) AddArrival(recvTime, sendTime time.Time, bytes int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.arrivals = append(w.arrivals, arrivalRecord{recvTime: recvTime, sendTime: sendTime, bytes: bytes})
	w.evictLocked(recvTime)
}

// AddRoundTrip records one Ping/Pong round trip.
func (w *MetricsWindow) AddRoundTrip(when time.Time, rtt time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rtts = append(w.rtts, rttRecord{when: when, rtt: rtt})
	w.evictLocked(when)
}

// AddFrameCompleted records a fully reassembled frame.
func (w *MetricsWindow) AddFrameCompleted(when time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.frames = append(w.frames, frameRecord{when: when})
	w.evictLocked(when)
}

// AddFrameDropped records a frame lost to reassembly timeout or eviction.
// This is the loss signal; a dropped frame is not an error.
func (w *MetricsWindow) AddFrameDropped(when time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.frames = append(w.frames, frameRecord{when: when, dropped: true})
	w.evictLocked(when)
}

// evictLocked discards entries older than the horizon. Caller holds mu.
func (w *MetricsWindow) evictLocked(now time.Time) {
	cutoff := now.Add(-w.horizon)

	firstLive := 0
	for ; firstLive < len(w.arrivals); firstLive++ {
		if !w.arrivals[firstLive].recvTime.Before(cutoff) {
			break
		}
	}
	w.arrivals = w.arrivals[firstLive:]

	firstLive = 0
	for ; firstLive < len(w.rtts); firstLive++ {
		if !w.rtts[firstLive].when.Before(cutoff) {
			break
		}
	}
	w.rtts = w.rtts[firstLive:]

	firstLive = 0
	for ; firstLive < len(w.frames); firstLive++ {
		if !w.frames[firstLive].when.Before(cutoff) {
			break
		}
	}
	w.frames = w.frames[firstLive:]
}

// latencyMs returns the mean round trip within the window in milliseconds.
// The full measured round trip is reported; one-way latency is not
// separable without clock sync.
func (w *MetricsWindow) latencyMs() (float64, bool) {
	if len(w.rtts) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, r := range w.rtts {
		total += r.rtt
	}
	mean := total / time.Duration(len(w.rtts))
	return float64(mean.Microseconds()) / 1000.0, true
}

// jitterMs returns the mean absolute deviation of consecutive inter-arrival
// deltas relative to their send-time deltas, in milliseconds.
func (w *MetricsWindow) jitterMs() (float64, bool) {
	if len(w.arrivals) < 2 {
		return 0, false
	}
	var totalAbs float64
	for i := 1; i < len(w.arrivals); i++ {
		recvDelta := w.arrivals[i].recvTime.Sub(w.arrivals[i-1].recvTime)
		sendDelta := w.arrivals[i].sendTime.Sub(w.arrivals[i-1].sendTime)
		dev := (recvDelta - sendDelta).Microseconds()
		if dev < 0 {
			dev = -dev
		}
		totalAbs += float64(dev) / 1000.0
	}
	return totalAbs / float64(len(w.arrivals)-1), true
}

// lossRatio returns droppedFrames / (droppedFrames + completedFrames).
// A window with no frame outcomes yields 0, not NaN, so an idle link is
// never mistaken for a lossy one.
func (w *MetricsWindow) lossRatio() float64 {
	var dropped, completed int
	for _, f := range w.frames {
		if f.dropped {
			dropped++
		} else {
			completed++
		}
	}
	total := dropped + completed
	if total == 0 {
		return 0
	}
	return float64(dropped) / float64(total)
}

// throughputBps returns payload bytes received over the window horizon,
// in bytes per second.
func (w *MetricsWindow) throughputBps() float64 {
	var total int
	for _, a := range w.arrivals {
		total += a.bytes
	}
	return float64(total) / w.horizon.Seconds()
}

// Counts returns the number of live arrival, round-trip, and frame records.
func (w *MetricsWindow) Counts() (arrivals, rtts, frames int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.arrivals), len(w.rtts), len(w.frames)
}
