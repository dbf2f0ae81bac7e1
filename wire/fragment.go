package wire

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Fragment layout constants.
const (
	// FragmentHeaderSize is the fixed size of the fragment header in bytes:
	// frameID(4) + fragmentIndex(2) + fragmentCount(2) + tier(1) +
	// sendTimestamp(8) + payloadLength(2).
	FragmentHeaderSize = 4 + 2 + 2 + 1 + 8 + 2

	// DefaultMTU is the default datagram size budget. A fragment header
	// plus payload never exceeds this value.
	DefaultMTU = 1400
)

// Fragment is one transport-sized slice of an encoded frame's payload.
//
// Fragments are immutable once created; the same frameID and fragmentCount
// are stamped on every fragment of a frame, and fragmentIndex runs
// 0..fragmentCount-1. SendTime is stamped by the sender so the receiver
// can derive latency and jitter without a return channel.
type Fragment struct {
	FrameID       uint32
	FragmentIndex uint16
	FragmentCount uint16
	Tier          uint8
	SendTime      time.Time
	Payload       []byte
}

// MaxFragmentPayload returns the largest payload that fits a datagram of
// the given MTU budget alongside the fragment header.
func MaxFragmentPayload(mtu int) int {
	return mtu - FragmentHeaderSize
}

// Marshal serializes the fragment into a datagram-ready byte slice.
//
// Returns:
//   - []byte: Encoded fragment (header followed by payload)
//   - error: ErrMessageTooLarge when the payload exceeds uint16 range
func (f *Fragment) Marshal() ([]byte, error) {
	if len(f.Payload) > 0xFFFF {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds uint16 range", ErrMessageTooLarge, len(f.Payload))
	}
	if f.FragmentCount == 0 {
		return nil, fmt.Errorf("%w: fragment count cannot be zero", ErrMalformedMessage)
	}
	if f.FragmentIndex >= f.FragmentCount {
		return nil, fmt.Errorf("%w: fragment index %d out of range for count %d",
			ErrMalformedMessage, f.FragmentIndex, f.FragmentCount)
	}

	buf := make([]byte, FragmentHeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], f.FrameID)
	binary.BigEndian.PutUint16(buf[4:6], f.FragmentIndex)
	binary.BigEndian.PutUint16(buf[6:8], f.FragmentCount)
	buf[8] = f.Tier
	binary.BigEndian.PutUint64(buf[9:17], uint64(f.SendTime.UnixMicro()))
	binary.BigEndian.PutUint16(buf[17:19], uint16(len(f.Payload)))
	copy(buf[FragmentHeaderSize:], f.Payload)

	return buf, nil
}

// ParseFragment decodes a datagram into a Fragment.
//
// The payload is copied out of the input buffer so the caller may reuse
// its receive buffer. Length fields inconsistent with the actual buffer
// size yield an error wrapping ErrMalformedMessage.
func ParseFragment(data []byte) (*Fragment, error) {
	if len(data) < FragmentHeaderSize {
		return nil, fmt.Errorf("%w: datagram %d bytes shorter than fragment header", ErrMalformedMessage, len(data))
	}

	f := &Fragment{
		FrameID:       binary.BigEndian.Uint32(data[0:4]),
		FragmentIndex: binary.BigEndian.Uint16(data[4:6]),
		FragmentCount: binary.BigEndian.Uint16(data[6:8]),
		Tier:          data[8],
		SendTime:      time.UnixMicro(int64(binary.BigEndian.Uint64(data[9:17]))),
	}

	payloadLen := int(binary.BigEndian.Uint16(data[17:19]))
	if len(data) != FragmentHeaderSize+payloadLen {
		return nil, fmt.Errorf("%w: payload length field %d disagrees with datagram size %d",
			ErrMalformedMessage, payloadLen, len(data))
	}
	if f.FragmentCount == 0 {
		return nil, fmt.Errorf("%w: fragment count cannot be zero", ErrMalformedMessage)
	}
	if f.FragmentIndex >= f.FragmentCount {
		return nil, fmt.Errorf("%w: fragment index %d out of range for count %d",
			ErrMalformedMessage, f.FragmentIndex, f.FragmentCount)
	}

	f.Payload = make([]byte, payloadLen)
	copy(f.Payload, data[FragmentHeaderSize:])

	return f, nil
}
