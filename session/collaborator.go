package session

import (
	"github.com/nuran-nahadi/Networking-Project/adapt"
	"github.com/nuran-nahadi/Networking-Project/fragment"
)

// Encoder is the server-side external codec collaborator.
//
// The session reconfigures it on tier changes; frame acquisition and
// image encoding are outside the protocol, so the encoder hands the
// session opaque payload bytes through whatever pump the application
// wires up.
type Encoder interface {
	// Reconfigure switches the encoder to the given tier parameters.
	// A failure is fatal to the session: frame integrity cannot be
	// assumed from a half-configured pipeline.
	Reconfigure(cfg adapt.TierConfig) error
}

// Renderer is the client-side external decode/display collaborator.
//
// Completed frames arrive in arrival-complete order; a stale frame (an
// older frameID completing after a newer one) is still delivered, and the
// renderer decides whether to discard it using FrameID and CaptureTime.
type Renderer interface {
	// RenderFrame consumes one completed frame. A failure is fatal to
	// the session.
	RenderFrame(frame *fragment.Frame) error
}
