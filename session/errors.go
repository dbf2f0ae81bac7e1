package session

import "errors"

// Sentinel errors for session operations.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrEncoderFailure indicates the encoder collaborator failed; the
	// session closes rather than stream frames of unknown integrity.
	ErrEncoderFailure = errors.New("encoder collaborator failure")

	// ErrRendererFailure indicates the render collaborator failed.
	ErrRendererFailure = errors.New("render collaborator failure")

	// ErrControlSilence indicates the control channel went silent past
	// the configured timeout. This is the disconnect detector.
	ErrControlSilence = errors.New("control channel silence timeout")

	// ErrMalformedFlood indicates repeated malformed control messages
	// past the configured threshold.
	ErrMalformedFlood = errors.New("malformed message threshold exceeded")
)
