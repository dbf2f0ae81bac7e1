package adapt

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nuran-nahadi/Networking-Project/quality"
)

// ControllerConfig defines the adaptation thresholds and dwell time.
//
// The downgrade thresholds trigger when ANY metric crosses them; the
// upgrade thresholds require ALL metrics inside them. The two sets are
// disjoint by construction so a single sample cannot argue both ways,
// but the controller still guards that case and prefers the downgrade.
type ControllerConfig struct {
	// Downgrade triggers (any one suffices).
	DowngradeLatencyMs     float64 // latency above this forces a step down (default: 200)
	DowngradeJitterMs      float64 // jitter above this forces a step down (default: 50)
	DowngradeLossRatio     float64 // loss above this forces a step down (default: 0.02)
	DowngradeThroughputBps float64 // throughput below this forces a step down (default: 50_000)

	// Upgrade requirements (all must hold).
	UpgradeLatencyMs     float64 // latency must be below this (default: 50)
	UpgradeJitterMs      float64 // jitter must be below this (default: 25)
	UpgradeLossRatio     float64 // loss must be below this (default: 0.01)
	UpgradeThroughputBps float64 // throughput must be above this (default: 200_000)

	// MinChangeInterval is the minimum dwell time between committed tier
	// changes. Qualifying samples inside the cooldown are recorded but
	// not acted on (default: 3s).
	MinChangeInterval time.Duration

	// PendingTimeout bounds how long an unacknowledged request suppresses
	// new proposals. Past it the request is treated as lost and the
	// controller may propose again (default: 5s).
	PendingTimeout time.Duration

	// HistorySize bounds the retained transition history (default: 64).
	HistorySize int
}

// DefaultControllerConfig returns the documented threshold defaults.
func DefaultControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		DowngradeLatencyMs:     200,
		DowngradeJitterMs:      50,
		DowngradeLossRatio:     0.02,
		DowngradeThroughputBps: 50_000,

		UpgradeLatencyMs:     50,
		UpgradeJitterMs:      25,
		UpgradeLossRatio:     0.01,
		UpgradeThroughputBps: 200_000,

		MinChangeInterval: 3 * time.Second,
		PendingTimeout:    5 * time.Second,
		HistorySize:       64,
	}
}

// Transition records one committed tier change for external visualization.
type Transition struct {
	Time   time.Time
	From   Tier
	To     Tier
	Reason string
}

// Decision is the outcome of evaluating one quality sample.
type Decision struct {
	// Request is true when the controller wants a tier change and no
	// request is already in flight.
	Request bool
	// Target is the desired tier when Request is true.
	Target Tier
}

// Controller is the hysteresis state machine mapping quality samples to a
// resolution tier.
//
// The controller is receiver-side and two-phase: Evaluate proposes a tier
// change, the session sends a TierChangeRequest, and only the peer's
// TierChangeAck (via Reconcile) moves currentTier. The currentTier
// therefore always reflects what the sender actually encodes.
type Controller struct {
	mu     sync.Mutex
	config *ControllerConfig
	ladder Ladder

	currentTier    Tier
	lastChangeTime time.Time
	pending        bool
	pendingTarget  Tier
	pendingSince   time.Time

	// Consecutive qualifying samples per direction, including samples
	// swallowed by the cooldown.
	downStreak int
	upStreak   int

	history []Transition

	timeProvider TimeProvider
}

// NewController creates a controller for the given ladder starting at
// initialTier. A nil config uses DefaultControllerConfig; an empty ladder
// falls back to DefaultLadder.
func NewController(config *ControllerConfig, ladder Ladder, initialTier Tier) *Controller {
	if config == nil {
		config = DefaultControllerConfig()
	}
	if len(ladder) == 0 {
		ladder = DefaultLadder()
	}
	initialTier = ladder.Clamp(initialTier)

	logrus.WithFields(logrus.Fields{
		"function":            "NewController",
		"ladder_size":         len(ladder),
		"initial_tier":        ladder.Name(initialTier),
		"min_change_interval": config.MinChangeInterval,
	}).Info("Creating adaptation controller")

	return &Controller{
		config:       config,
		ladder:       ladder,
		currentTier:  initialTier,
		timeProvider: DefaultTimeProvider{},
	}
}

// SetTimeProvider sets the time provider for deterministic testing.
func (c *Controller) SetTimeProvider(tp TimeProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	c.timeProvider = tp
}

// CurrentTier returns the tier the peer has acknowledged.
func (c *Controller) CurrentTier() Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTier
}

// Ladder returns the controller's tier ladder.
func (c *Controller) Ladder() Ladder {
	return c.ladder
}

// History returns a copy of the committed transition history, oldest first.
func (c *Controller) History() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Transition, len(c.history))
	copy(out, c.history)
	return out
}

// Streaks returns the consecutive qualifying sample counts per direction.
func (c *Controller) Streaks() (down, up int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downStreak, c.upStreak
}

// Evaluate processes one quality sample and decides whether to request a
// tier change.
//
// The decision moves at most one tier from currentTier, never skips a
// tier, and is suppressed while a previous request is unacknowledged or
// the cooldown since the last committed change has not elapsed. A
// request whose ack never arrives within PendingTimeout is abandoned so
// adaptation cannot wedge on a lost ack. When both directions qualify
// the downgrade wins.
func (c *Controller) Evaluate(sample quality.Sample) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	down := c.qualifiesDowngrade(sample)
	up := c.qualifiesUpgrade(sample)

	// Downgrade takes priority: playback stability beats quality.
	if down && up {
		up = false
	}

	c.updateStreaksLocked(down, up)

	var target Tier
	switch {
	case down && c.currentTier > c.ladder.Lowest():
		target = c.currentTier - 1
	case up && c.currentTier < c.ladder.Highest():
		target = c.currentTier + 1
	default:
		return Decision{}
	}

	now := c.timeProvider.Now()

	if c.pending {
		// An ack that never arrives must not suppress adaptation for
		// the rest of the session.
		if c.config.PendingTimeout > 0 && now.Sub(c.pendingSince) >= c.config.PendingTimeout {
			logrus.WithFields(logrus.Fields{
				"function":       "Evaluate",
				"pending_target": c.ladder.Name(c.pendingTarget),
				"waited":         now.Sub(c.pendingSince),
			}).Warn("Tier change request unacknowledged, abandoning it")
			c.pending = false
		} else {
			logrus.WithFields(logrus.Fields{
				"function":       "Evaluate",
				"pending_target": c.ladder.Name(c.pendingTarget),
			}).Debug("Tier change already in flight, holding")
			return Decision{}
		}
	}

	if !c.lastChangeTime.IsZero() && now.Sub(c.lastChangeTime) < c.config.MinChangeInterval {
		logrus.WithFields(logrus.Fields{
			"function":          "Evaluate",
			"since_last_change": now.Sub(c.lastChangeTime),
			"cooldown":          c.config.MinChangeInterval,
		}).Debug("Qualifying sample inside cooldown, not acting")
		return Decision{}
	}

	c.pending = true
	c.pendingTarget = target
	c.pendingSince = now

	logrus.WithFields(logrus.Fields{
		"function":       "Evaluate",
		"current_tier":   c.ladder.Name(c.currentTier),
		"target_tier":    c.ladder.Name(target),
		"latency_ms":     sample.LatencyMs,
		"jitter_ms":      sample.JitterMs,
		"loss_ratio":     sample.LossRatio,
		"throughput_bps": sample.ThroughputBps,
	}).Info("Requesting tier change")

	return Decision{Request: true, Target: target}
}

// Reconcile commits the tier the peer acknowledged.
//
// The effective tier is authoritative regardless of what was requested.
// Reconciling to the current tier is a no-op that leaves lastChangeTime
// untouched, so a redundant ack never resets the cooldown.
func (c *Controller) Reconcile(effective Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	effective = c.ladder.Clamp(effective)
	c.pending = false

	if effective == c.currentTier {
		logrus.WithFields(logrus.Fields{
			"function": "Reconcile",
			"tier":     c.ladder.Name(effective),
		}).Debug("Ack matches current tier, no-op")
		return
	}

	now := c.timeProvider.Now()
	reason := "upgrade"
	if effective < c.currentTier {
		reason = "downgrade"
	}

	c.history = append(c.history, Transition{
		Time:   now,
		From:   c.currentTier,
		To:     effective,
		Reason: reason,
	})
	if max := c.config.HistorySize; max > 0 && len(c.history) > max {
		c.history = c.history[len(c.history)-max:]
	}

	logrus.WithFields(logrus.Fields{
		"function": "Reconcile",
		"from":     c.ladder.Name(c.currentTier),
		"to":       c.ladder.Name(effective),
		"reason":   reason,
	}).Info("Tier change committed")

	c.currentTier = effective
	c.lastChangeTime = now
	c.downStreak = 0
	c.upStreak = 0
}

// qualifiesDowngrade reports whether any metric crosses a downgrade
// threshold. Caller holds mu.
func (c *Controller) qualifiesDowngrade(s quality.Sample) bool {
	return s.LatencyMs > c.config.DowngradeLatencyMs ||
		s.JitterMs > c.config.DowngradeJitterMs ||
		s.LossRatio > c.config.DowngradeLossRatio ||
		s.ThroughputBps < c.config.DowngradeThroughputBps
}

// qualifiesUpgrade reports whether every metric sits inside the upgrade
// envelope. Caller holds mu.
func (c *Controller) qualifiesUpgrade(s quality.Sample) bool {
	return s.LatencyMs < c.config.UpgradeLatencyMs &&
		s.JitterMs < c.config.UpgradeJitterMs &&
		s.LossRatio < c.config.UpgradeLossRatio &&
		s.ThroughputBps > c.config.UpgradeThroughputBps
}

// updateStreaksLocked tracks consecutive qualifying samples per direction.
func (c *Controller) updateStreaksLocked(down, up bool) {
	if down {
		c.downStreak++
	} else {
		c.downStreak = 0
	}
	if up {
		c.upStreak++
	} else {
		c.upStreak = 0
	}
}
