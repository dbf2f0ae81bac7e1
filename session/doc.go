// Package session ties the protocol together: each session owns one
// peer's transport endpoints, a fragmenter or reassembler, and, on the
// receiving side, the quality monitor and adaptation controller.
//
// A ServerSession fragments encoder output and answers control probes; a
// ClientSession reassembles frames for the renderer, measures path
// quality, and drives tier negotiation. Sessions share nothing with each
// other; the only cross-session state is the Registry.
package session
