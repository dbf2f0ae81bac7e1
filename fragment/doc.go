// Package fragment splits encoded frames into transport-sized fragments
// and reconstitutes frames from arriving fragments.
//
// The sender side is best-effort: fragments are emitted in index order and
// never retransmitted. The receiver side tolerates loss, duplication, and
// reordering; a frame is delivered if and only if every fragment arrives
// before the reassembly timeout, and a timed-out frame surfaces as exactly
// one dropped-frame event feeding the loss metric.
package fragment
