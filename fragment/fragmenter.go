package fragment

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nuran-nahadi/Networking-Project/wire"
)

// ErrFrameTooLarge indicates a payload needing more fragments than the
// uint16 fragment count field can express.
var ErrFrameTooLarge = fmt.Errorf("frame requires too many fragments")

// Fragmenter splits encoded frames into wire fragments.
//
// Frame IDs are a sender-local monotonically increasing counter that wraps
// at the uint32 maximum back to zero. One Fragmenter belongs to one
// session; it is safe for concurrent use.
type Fragmenter struct {
	mu          sync.Mutex
	nextFrameID uint32
	maxPayload  int
}

// NewFragmenter creates a fragmenter producing payload slices of at most
// maxPayload bytes. A non-positive maxPayload uses the default MTU budget.
func NewFragmenter(maxPayload int) *Fragmenter {
	if maxPayload <= 0 {
		maxPayload = wire.MaxFragmentPayload(wire.DefaultMTU)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewFragmenter",
		"max_payload": maxPayload,
	}).Info("Creating fragmenter")

	return &Fragmenter{maxPayload: maxPayload}
}

// FragmentFrame splits one encoded frame into fragments in index order.
//
// Every fragment carries the same frameID, fragmentCount, tier, and send
// timestamp. An empty payload still produces a single empty fragment so
// the receiver observes the frame.
//
// Parameters:
//   - payload: Encoded frame bytes (opaque to the protocol)
//   - tier: Resolution tier the frame was encoded at
//   - sendTime: Timestamp stamped into every fragment header
//
// Returns:
//   - []*wire.Fragment: Fragments in index order
//   - error: ErrFrameTooLarge when fragmentCount would overflow uint16
func (f *Fragmenter) FragmentFrame(payload []byte, tier uint8, sendTime time.Time) ([]*wire.Fragment, error) {
	f.mu.Lock()
	frameID := f.nextFrameID
	f.nextFrameID++ // wraps at uint32 max by Go unsigned arithmetic
	maxPayload := f.maxPayload
	f.mu.Unlock()

	count := (len(payload) + maxPayload - 1) / maxPayload
	if count == 0 {
		count = 1
	}
	if count > 0xFFFF {
		return nil, fmt.Errorf("%w: %d fragments for %d byte payload", ErrFrameTooLarge, count, len(payload))
	}

	fragments := make([]*wire.Fragment, count)
	for i := 0; i < count; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}

		slice := make([]byte, end-start)
		copy(slice, payload[start:end])

		fragments[i] = &wire.Fragment{
			FrameID:       frameID,
			FragmentIndex: uint16(i),
			FragmentCount: uint16(count),
			Tier:          tier,
			SendTime:      sendTime,
			Payload:       slice,
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":       "FragmentFrame",
		"frame_id":       frameID,
		"payload_bytes":  len(payload),
		"fragment_count": count,
	}).Debug("Frame fragmented")

	return fragments, nil
}

// NextFrameID returns the frame ID the next FragmentFrame call will use.
func (f *Fragmenter) NextFrameID() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextFrameID
}
