// Package wire defines the binary layouts exchanged between streaming peers.
//
// Two message families exist: fragment datagrams carried over the lossy
// video transport, and control messages carried length-prefixed over the
// reliable control stream. Both decode defensively; a malformed buffer
// yields an error wrapping ErrMalformedMessage and never panics, so the
// caller can drop the offending datagram and continue.
package wire
