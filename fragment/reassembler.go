package fragment

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nuran-nahadi/Networking-Project/wire"
)

// Frame is one fully reassembled encoded image.
type Frame struct {
	FrameID uint32
	Tier    uint8
	// CaptureTime is the sender timestamp carried by the frame's fragments.
	CaptureTime time.Time
	Payload     []byte
}

// partialFrame accumulates fragments for one in-flight frame.
type partialFrame struct {
	tier         uint8
	captureTime  time.Time
	slices       [][]byte
	received     int
	totalBytes   int
	firstArrival time.Time
	lastActivity time.Time
}

// ReassemblerConfig bounds the reassembler's memory and patience.
type ReassemblerConfig struct {
	// MaxPending caps concurrently in-flight frame buffers; the oldest
	// incomplete frame is evicted first under pressure (default: 8).
	MaxPending int
	// Timeout is how long a partial frame is retained before being
	// declared lost (default: 500ms).
	Timeout time.Duration
	// FinishedHistory is how many completed/evicted frame IDs are
	// remembered so late duplicates can be ignored silently (default: 128).
	FinishedHistory int
}

// DefaultReassemblerConfig returns the documented defaults.
func DefaultReassemblerConfig() *ReassemblerConfig {
	return &ReassemblerConfig{
		MaxPending:      8,
		Timeout:         500 * time.Millisecond,
		FinishedHistory: 128,
	}
}

// Reassembler reconstitutes frames from arriving fragments.
//
// The per-frameID buffer map is bounded: at most MaxPending frames are
// held, and partials older than Timeout are evicted by Sweep and reported
// as dropped. Out-of-order and duplicate fragments are tolerated; a
// fragment for an already-completed or already-evicted frame is silently
// ignored. All methods serialize on an internal lock since datagram
// arrival order is not guaranteed.
type Reassembler struct {
	mu      sync.Mutex
	config  *ReassemblerConfig
	pending map[uint32]*partialFrame

	// finished remembers recently closed frame IDs, FIFO-bounded.
	finished      map[uint32]struct{}
	finishedOrder []uint32

	timeProvider TimeProvider
}

// NewReassembler creates a reassembler. A nil config uses
// DefaultReassemblerConfig.
func NewReassembler(config *ReassemblerConfig) *Reassembler {
	if config == nil {
		config = DefaultReassemblerConfig()
	}
	if config.MaxPending <= 0 {
		config.MaxPending = 8
	}
	if config.Timeout <= 0 {
		config.Timeout = 500 * time.Millisecond
	}
	if config.FinishedHistory <= 0 {
		config.FinishedHistory = 128
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewReassembler",
		"max_pending": config.MaxPending,
		"timeout":     config.Timeout,
	}).Info("Creating reassembler")

	return &Reassembler{
		config:       config,
		pending:      make(map[uint32]*partialFrame),
		finished:     make(map[uint32]struct{}),
		timeProvider: DefaultTimeProvider{},
	}
}

// SetTimeProvider sets the time provider for deterministic testing.
func (r *Reassembler) SetTimeProvider(tp TimeProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	r.timeProvider = tp
}

// Add processes one arriving fragment.
//
// Returns the completed Frame when this fragment was the last missing
// piece, the number of frames evicted to make room (each of which the
// caller should report as dropped), or neither for an interior fragment.
//
// Returns:
//   - *Frame: Completed frame, or nil
//   - int: Frames evicted under buffer pressure by this call
func (r *Reassembler) Add(frag *wire.Fragment) (*Frame, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeProvider.Now()

	// Late duplicate for a closed frame: ignore silently.
	if _, done := r.finished[frag.FrameID]; done {
		return nil, 0
	}

	evicted := 0
	pf, exists := r.pending[frag.FrameID]
	if !exists {
		for len(r.pending) >= r.config.MaxPending {
			if !r.evictOldestLocked() {
				break
			}
			evicted++
		}
		pf = &partialFrame{
			tier:         frag.Tier,
			captureTime:  frag.SendTime,
			slices:       make([][]byte, frag.FragmentCount),
			firstArrival: now,
		}
		r.pending[frag.FrameID] = pf
	}

	if int(frag.FragmentCount) != len(pf.slices) {
		// Conflicting fragment count for the same frame ID: corrupt or
		// hostile input. Drop the fragment, keep the session alive.
		logrus.WithFields(logrus.Fields{
			"function":       "Add",
			"frame_id":       frag.FrameID,
			"have_count":     len(pf.slices),
			"fragment_count": frag.FragmentCount,
		}).Warn("Fragment count mismatch, ignoring fragment")
		return nil, evicted
	}

	if pf.slices[frag.FragmentIndex] != nil {
		// Duplicate fragment for an in-flight frame.
		return nil, evicted
	}

	pf.slices[frag.FragmentIndex] = frag.Payload
	pf.received++
	pf.totalBytes += len(frag.Payload)
	pf.lastActivity = now

	if pf.received < len(pf.slices) {
		return nil, evicted
	}

	// All indices present: emit the frame and close its buffer.
	payload := make([]byte, 0, pf.totalBytes)
	for _, s := range pf.slices {
		payload = append(payload, s...)
	}

	delete(r.pending, frag.FrameID)
	r.markFinishedLocked(frag.FrameID)

	logrus.WithFields(logrus.Fields{
		"function":      "Add",
		"frame_id":      frag.FrameID,
		"payload_bytes": len(payload),
	}).Debug("Frame reassembled")

	return &Frame{
		FrameID:     frag.FrameID,
		Tier:        pf.tier,
		CaptureTime: pf.captureTime,
		Payload:     payload,
	}, evicted
}

// Sweep evicts partial frames older than the reassembly timeout.
//
// Each evicted frame ID is returned exactly once; the caller reports one
// dropped-frame event per entry to the quality monitor.
func (r *Reassembler) Sweep() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeProvider.Now()
	cutoff := now.Add(-r.config.Timeout)

	var dropped []uint32
	for frameID, pf := range r.pending {
		if pf.firstArrival.Before(cutoff) {
			delete(r.pending, frameID)
			r.markFinishedLocked(frameID)
			dropped = append(dropped, frameID)
		}
	}

	if len(dropped) > 0 {
		logrus.WithFields(logrus.Fields{
			"function":       "Sweep",
			"dropped_frames": len(dropped),
		}).Debug("Evicted timed-out partial frames")
	}

	return dropped
}

// PendingFrames returns the number of in-flight frame buffers.
func (r *Reassembler) PendingFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reset discards all partial frames and duplicate-suppression history.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[uint32]*partialFrame)
	r.finished = make(map[uint32]struct{})
	r.finishedOrder = nil
}

// evictOldestLocked removes the partial frame with the oldest first
// arrival. Returns false when nothing is pending. Caller holds mu.
func (r *Reassembler) evictOldestLocked() bool {
	var oldestID uint32
	var oldest time.Time
	found := false

	for frameID, pf := range r.pending {
		if !found || pf.firstArrival.Before(oldest) {
			oldestID = frameID
			oldest = pf.firstArrival
			found = true
		}
	}
	if !found {
		return false
	}

	delete(r.pending, oldestID)
	r.markFinishedLocked(oldestID)

	logrus.WithFields(logrus.Fields{
		"function": "evictOldestLocked",
		"frame_id": oldestID,
	}).Debug("Evicted oldest incomplete frame under buffer pressure")

	return true
}

// markFinishedLocked records a closed frame ID for duplicate suppression.
// Caller holds mu.
func (r *Reassembler) markFinishedLocked(frameID uint32) {
	if _, ok := r.finished[frameID]; ok {
		return
	}
	r.finished[frameID] = struct{}{}
	r.finishedOrder = append(r.finishedOrder, frameID)
	for len(r.finishedOrder) > r.config.FinishedHistory {
		delete(r.finished, r.finishedOrder[0])
		r.finishedOrder = r.finishedOrder[1:]
	}
}
