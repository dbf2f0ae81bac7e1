// Package transport provides the two network endpoints a streaming peer
// uses: a lossy datagram endpoint for video fragments and a reliable
// length-prefixed stream for control messages.
//
// Both endpoints follow the same shape: a constructor that binds or
// dials, a handler registered by the owner, and a context-cancelled read
// loop using short read deadlines so shutdown is prompt. Datagram-path
// errors are local and non-fatal; control-path read errors terminate the
// connection's loop and surface through the close handler.
package transport
