package wire

import "errors"

// Sentinel errors for wire codec operations.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrMalformedMessage indicates a buffer that does not decode to a
	// valid fragment or control message.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrMessageTooLarge indicates an encoded message would exceed the
	// transport budget it is bound for.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrUnknownMessageType indicates an unrecognized control message tag.
	ErrUnknownMessageType = errors.New("unknown message type")
)
