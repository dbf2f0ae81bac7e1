package adapt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuran-nahadi/Networking-Project/quality"
)

// mockTimeProvider lets tests advance the hysteresis clock manually.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{now: time.UnixMicro(1700000000000000)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func goodSample() quality.Sample {
	return quality.Sample{LatencyMs: 20, JitterMs: 5, LossRatio: 0, ThroughputBps: 500_000}
}

func badSample() quality.Sample {
	return quality.Sample{LatencyMs: 300, JitterMs: 80, LossRatio: 0.1, ThroughputBps: 20_000}
}

func neutralSample() quality.Sample {
	// Too good to downgrade, too poor to upgrade.
	return quality.Sample{LatencyMs: 100, JitterMs: 40, LossRatio: 0.015, ThroughputBps: 100_000}
}

func TestControllerUpgradeRequiresAck(t *testing.T) {
	tp := newMockTimeProvider()
	c := NewController(nil, DefaultLadder(), TierLow)
	c.SetTimeProvider(tp)

	decision := c.Evaluate(goodSample())
	require.True(t, decision.Request)
	assert.Equal(t, TierMedium, decision.Target)

	// The current tier does not move until the peer acknowledges.
	assert.Equal(t, TierLow, c.CurrentTier())

	c.Reconcile(TierMedium)
	assert.Equal(t, TierMedium, c.CurrentTier())

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, TierLow, history[0].From)
	assert.Equal(t, TierMedium, history[0].To)
	assert.Equal(t, "upgrade", history[0].Reason)
}

func TestControllerMovesOneTierAtATime(t *testing.T) {
	tp := newMockTimeProvider()
	c := NewController(nil, DefaultLadder(), TierLow)
	c.SetTimeProvider(tp)

	// However good the sample, the target is the adjacent tier.
	decision := c.Evaluate(quality.Sample{LatencyMs: 1, JitterMs: 1, LossRatio: 0, ThroughputBps: 100_000_000})
	require.True(t, decision.Request)
	assert.Equal(t, TierMedium, decision.Target)
}

func TestControllerDowngradeOnAnyBadMetric(t *testing.T) {
	tests := []struct {
		name   string
		sample quality.Sample
	}{
		{"high latency", quality.Sample{LatencyMs: 250, JitterMs: 5, LossRatio: 0, ThroughputBps: 500_000}},
		{"high jitter", quality.Sample{LatencyMs: 20, JitterMs: 60, LossRatio: 0, ThroughputBps: 500_000}},
		{"high loss", quality.Sample{LatencyMs: 20, JitterMs: 5, LossRatio: 0.05, ThroughputBps: 500_000}},
		{"low throughput", quality.Sample{LatencyMs: 20, JitterMs: 5, LossRatio: 0, ThroughputBps: 10_000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(nil, DefaultLadder(), TierHigh)
			c.SetTimeProvider(newMockTimeProvider())

			decision := c.Evaluate(tt.sample)
			require.True(t, decision.Request)
			assert.Equal(t, TierMedium, decision.Target)
		})
	}
}

func TestControllerBoundaries(t *testing.T) {
	tp := newMockTimeProvider()

	t.Run("no downgrade below lowest", func(t *testing.T) {
		c := NewController(nil, DefaultLadder(), TierLow)
		c.SetTimeProvider(tp)
		assert.False(t, c.Evaluate(badSample()).Request)
	})

	t.Run("no upgrade above highest", func(t *testing.T) {
		c := NewController(nil, DefaultLadder(), TierHigh)
		c.SetTimeProvider(tp)
		assert.False(t, c.Evaluate(goodSample()).Request)
	})
}

func TestControllerPendingSuppressesRequests(t *testing.T) {
	tp := newMockTimeProvider()
	c := NewController(nil, DefaultLadder(), TierHigh)
	c.SetTimeProvider(tp)

	first := c.Evaluate(badSample())
	require.True(t, first.Request)

	// Until the ack arrives, further qualifying samples stay silent.
	assert.False(t, c.Evaluate(badSample()).Request)
	assert.False(t, c.Evaluate(badSample()).Request)

	c.Reconcile(TierMedium)
	assert.Equal(t, TierMedium, c.CurrentTier())
}

func TestControllerAbandonsUnacknowledgedRequest(t *testing.T) {
	tp := newMockTimeProvider()
	c := NewController(nil, DefaultLadder(), TierHigh)
	c.SetTimeProvider(tp)

	require.True(t, c.Evaluate(badSample()).Request)

	// The ack is lost. Inside the pending window the controller holds.
	tp.Advance(2 * time.Second)
	assert.False(t, c.Evaluate(badSample()).Request)

	// Past the pending timeout the lost request no longer wedges
	// adaptation: a qualifying sample proposes again.
	tp.Advance(4 * time.Second)
	decision := c.Evaluate(badSample())
	require.True(t, decision.Request)
	assert.Equal(t, TierMedium, decision.Target)

	c.Reconcile(TierMedium)
	assert.Equal(t, TierMedium, c.CurrentTier())
}

func TestControllerCooldownBetweenChanges(t *testing.T) {
	tp := newMockTimeProvider()
	c := NewController(nil, DefaultLadder(), TierHigh)
	c.SetTimeProvider(tp)

	require.True(t, c.Evaluate(badSample()).Request)
	c.Reconcile(TierMedium)

	// Still degraded, but the dwell time has not elapsed.
	tp.Advance(time.Second)
	assert.False(t, c.Evaluate(badSample()).Request)

	tp.Advance(3 * time.Second)
	decision := c.Evaluate(badSample())
	require.True(t, decision.Request)
	assert.Equal(t, TierLow, decision.Target)
}

func TestControllerDowngradePriorityOnConflict(t *testing.T) {
	// Thresholds engineered so one sample qualifies both directions.
	cfg := &ControllerConfig{
		DowngradeLatencyMs:     100,
		DowngradeJitterMs:      1000,
		DowngradeLossRatio:     1,
		DowngradeThroughputBps: 0,
		UpgradeLatencyMs:       1000,
		UpgradeJitterMs:        1000,
		UpgradeLossRatio:       1,
		UpgradeThroughputBps:   1,
		MinChangeInterval:      time.Second,
		HistorySize:            8,
	}
	c := NewController(cfg, DefaultLadder(), TierMedium)
	c.SetTimeProvider(newMockTimeProvider())

	decision := c.Evaluate(quality.Sample{LatencyMs: 200, JitterMs: 0, LossRatio: 0, ThroughputBps: 500_000})
	require.True(t, decision.Request)
	assert.Equal(t, TierLow, decision.Target, "downgrade must win a conflicting sample")
}

func TestControllerReconcileNoOpKeepsCooldownClock(t *testing.T) {
	tp := newMockTimeProvider()
	c := NewController(nil, DefaultLadder(), TierHigh)
	c.SetTimeProvider(tp)

	require.True(t, c.Evaluate(badSample()).Request)
	c.Reconcile(TierMedium)
	require.Len(t, c.History(), 1)

	tp.Advance(4 * time.Second)
	require.True(t, c.Evaluate(badSample()).Request)

	// Server refused: ack names the tier already in effect. No history
	// entry, no cooldown reset, and the pending flag clears.
	c.Reconcile(TierMedium)
	assert.Len(t, c.History(), 1)
	assert.Equal(t, TierMedium, c.CurrentTier())

	// A new request is possible immediately since the dwell clock was
	// not reset by the no-op ack.
	assert.True(t, c.Evaluate(badSample()).Request)
}

func TestControllerReconcileClampsOutOfRange(t *testing.T) {
	c := NewController(nil, DefaultLadder(), TierLow)
	c.SetTimeProvider(newMockTimeProvider())

	c.Reconcile(Tier(200))
	assert.Equal(t, TierHigh, c.CurrentTier())
}

func TestControllerStreaksTrackQualifyingSamples(t *testing.T) {
	tp := newMockTimeProvider()
	c := NewController(nil, DefaultLadder(), TierHigh)
	c.SetTimeProvider(tp)

	c.Evaluate(badSample())
	c.Evaluate(badSample())
	down, up := c.Streaks()
	assert.Equal(t, 2, down)
	assert.Zero(t, up)

	c.Evaluate(neutralSample())
	down, up = c.Streaks()
	assert.Zero(t, down)
	assert.Zero(t, up)
}

func TestStableLinkClimbsToHighest(t *testing.T) {
	tp := newMockTimeProvider()
	c := NewController(nil, DefaultLadder(), TierLow)
	c.SetTimeProvider(tp)

	for c.CurrentTier() != TierHigh {
		decision := c.Evaluate(goodSample())
		if decision.Request {
			c.Reconcile(decision.Target)
		}
		tp.Advance(time.Second)
	}

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, TierMedium, history[0].To)
	assert.Equal(t, TierHigh, history[1].To)
}

func TestDegradedLinkDescendsToLowest(t *testing.T) {
	tp := newMockTimeProvider()
	c := NewController(nil, DefaultLadder(), TierHigh)
	c.SetTimeProvider(tp)

	for c.CurrentTier() != TierLow {
		decision := c.Evaluate(badSample())
		if decision.Request {
			c.Reconcile(decision.Target)
		}
		tp.Advance(time.Second)
	}

	for _, tr := range c.History() {
		assert.Equal(t, "downgrade", tr.Reason)
	}
}

func TestDefaultControllerConfigThresholdsAreDisjoint(t *testing.T) {
	cfg := DefaultControllerConfig()

	assert.Less(t, cfg.UpgradeLatencyMs, cfg.DowngradeLatencyMs)
	assert.Less(t, cfg.UpgradeJitterMs, cfg.DowngradeJitterMs)
	assert.Less(t, cfg.UpgradeLossRatio, cfg.DowngradeLossRatio)
	assert.Greater(t, cfg.UpgradeThroughputBps, cfg.DowngradeThroughputBps)
	assert.Positive(t, cfg.MinChangeInterval)
}
