// Package adapt implements the hysteresis-based tier selection state
// machine for adaptive streaming.
//
// A Controller consumes periodic quality samples and decides when the
// stream should move between discrete resolution tiers. Decisions move at
// most one tier per transition, honor a minimum dwell time between
// changes, and favor downgrades over upgrades when in doubt, trading
// peak quality for playback stability.
package adapt
