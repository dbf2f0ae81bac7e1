package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies a control message variant.
type MessageType byte

const (
	// MessageHello announces a new session on the control channel.
	MessageHello MessageType = iota + 1
	// MessagePing probes round-trip latency.
	MessagePing
	// MessagePong answers a MessagePing, echoing its token.
	MessagePong
	// MessageTierChangeRequest asks the sender to switch resolution tier.
	MessageTierChangeRequest
	// MessageTierChangeAck confirms the tier the sender actually applied.
	MessageTierChangeAck
	// MessageHeartbeat keeps the control channel observably alive.
	MessageHeartbeat
)

// String returns a human-readable name for the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageHello:
		return "hello"
	case MessagePing:
		return "ping"
	case MessagePong:
		return "pong"
	case MessageTierChangeRequest:
		return "tier_change_request"
	case MessageTierChangeAck:
		return "tier_change_ack"
	case MessageHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("unknown(%d)", byte(mt))
	}
}

// ControlMessage is the tagged union carried on the control stream.
//
// Only the fields of the active variant are meaningful:
//   - Hello: SessionID
//   - Ping: EchoToken, SendTime
//   - Pong: EchoToken, ServerTime
//   - TierChangeRequest: DesiredTier
//   - TierChangeAck: EffectiveTier
//   - Heartbeat: no fields
type ControlMessage struct {
	Type          MessageType
	SessionID     uuid.UUID
	EchoToken     uint32
	SendTime      time.Time
	ServerTime    time.Time
	DesiredTier   uint8
	EffectiveTier uint8
}

// maxControlBody bounds the length prefix accepted from the stream.
// The largest defined variant (Hello) is 17 bytes.
const maxControlBody = 64

// encodeBody serializes the variant fields after the type tag.
func (m *ControlMessage) encodeBody() ([]byte, error) {
	switch m.Type {
	case MessageHello:
		body := make([]byte, 1+16)
		body[0] = byte(m.Type)
		copy(body[1:], m.SessionID[:])
		return body, nil
	case MessagePing:
		body := make([]byte, 1+4+8)
		body[0] = byte(m.Type)
		binary.BigEndian.PutUint32(body[1:5], m.EchoToken)
		binary.BigEndian.PutUint64(body[5:13], uint64(m.SendTime.UnixMicro()))
		return body, nil
	case MessagePong:
		body := make([]byte, 1+4+8)
		body[0] = byte(m.Type)
		binary.BigEndian.PutUint32(body[1:5], m.EchoToken)
		binary.BigEndian.PutUint64(body[5:13], uint64(m.ServerTime.UnixMicro()))
		return body, nil
	case MessageTierChangeRequest:
		return []byte{byte(m.Type), m.DesiredTier}, nil
	case MessageTierChangeAck:
		return []byte{byte(m.Type), m.EffectiveTier}, nil
	case MessageHeartbeat:
		return []byte{byte(m.Type)}, nil
	default:
		return nil, fmt.Errorf("%w: cannot encode type %d", ErrUnknownMessageType, m.Type)
	}
}

// ParseControlMessage decodes one control frame body (type tag included).
func ParseControlMessage(data []byte) (*ControlMessage, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty control frame", ErrMalformedMessage)
	}

	m := &ControlMessage{Type: MessageType(data[0])}
	body := data[1:]

	switch m.Type {
	case MessageHello:
		if len(body) != 16 {
			return nil, fmt.Errorf("%w: hello body %d bytes, want 16", ErrMalformedMessage, len(body))
		}
		copy(m.SessionID[:], body)
	case MessagePing:
		if len(body) != 12 {
			return nil, fmt.Errorf("%w: ping body %d bytes, want 12", ErrMalformedMessage, len(body))
		}
		m.EchoToken = binary.BigEndian.Uint32(body[0:4])
		m.SendTime = time.UnixMicro(int64(binary.BigEndian.Uint64(body[4:12])))
	case MessagePong:
		if len(body) != 12 {
			return nil, fmt.Errorf("%w: pong body %d bytes, want 12", ErrMalformedMessage, len(body))
		}
		m.EchoToken = binary.BigEndian.Uint32(body[0:4])
		m.ServerTime = time.UnixMicro(int64(binary.BigEndian.Uint64(body[4:12])))
	case MessageTierChangeRequest:
		if len(body) != 1 {
			return nil, fmt.Errorf("%w: tier change request body %d bytes, want 1", ErrMalformedMessage, len(body))
		}
		m.DesiredTier = body[0]
	case MessageTierChangeAck:
		if len(body) != 1 {
			return nil, fmt.Errorf("%w: tier change ack body %d bytes, want 1", ErrMalformedMessage, len(body))
		}
		m.EffectiveTier = body[0]
	case MessageHeartbeat:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: heartbeat body must be empty, got %d bytes", ErrMalformedMessage, len(body))
		}
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownMessageType, byte(m.Type))
	}

	return m, nil
}

// WriteControlMessage writes one length-prefixed control frame.
//
// Framing is a big-endian uint16 length followed by the frame body.
func WriteControlMessage(w io.Writer, m *ControlMessage) error {
	body, err := m.encodeBody()
	if err != nil {
		return err
	}

	frame := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(body)))
	copy(frame[2:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write control frame: %w", err)
	}
	return nil
}

// ReadControlMessage reads one length-prefixed control frame.
//
// An oversized or inconsistent length prefix yields an error wrapping
// ErrMalformedMessage; transport failures are returned verbatim so the
// caller can distinguish a torn connection from a corrupt frame.
func ReadControlMessage(r io.Reader) (*ControlMessage, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	bodyLen := int(binary.BigEndian.Uint16(lenBuf[:]))
	if bodyLen == 0 {
		return nil, fmt.Errorf("%w: control frame length 0", ErrMalformedMessage)
	}
	if bodyLen > maxControlBody {
		// Consume the declared body so the stream stays aligned on the
		// next frame; leaving it behind would replay body bytes as
		// length prefixes.
		if _, err := io.CopyN(io.Discard, r, int64(bodyLen)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: control frame length %d out of range", ErrMalformedMessage, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return ParseControlMessage(body)
}
