package session

import "time"

// Config holds the tunables shared by both session sides.
type Config struct {
	// SilenceTimeout closes a session when the control channel carries
	// nothing for this long (default: 10s). This is the disconnect
	// detector; the datagram transport gives no connection signal.
	SilenceTimeout time.Duration

	// HeartbeatInterval is how often liveness traffic is emitted: the
	// server sends Heartbeat, the client sends Ping (default: 1s).
	HeartbeatInterval time.Duration

	// PingInterval is how often the client probes round-trip latency
	// (default: 1s).
	PingInterval time.Duration

	// SweepInterval is how often the client evicts timed-out partial
	// frames (default: 100ms).
	SweepInterval time.Duration

	// MalformedLimit closes a session after this many malformed control
	// frames, a possible corruption or attack signal (default: 16).
	MalformedLimit uint64

	// MTU is the datagram size budget (default: wire.DefaultMTU).
	MTU int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		SilenceTimeout:    10 * time.Second,
		HeartbeatInterval: time.Second,
		PingInterval:      time.Second,
		SweepInterval:     100 * time.Millisecond,
		MalformedLimit:    16,
		MTU:               0, // resolved by the fragmenter
	}
}

// normalize fills zero fields with defaults.
func (c *Config) normalize() {
	d := DefaultConfig()
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = d.SilenceTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.MalformedLimit == 0 {
		c.MalformedLimit = d.MalformedLimit
	}
}
