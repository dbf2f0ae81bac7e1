package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuran-nahadi/Networking-Project/adapt"
	"github.com/nuran-nahadi/Networking-Project/quality"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposeCounters(t *testing.T) {
	m := New()
	m.FramesSent.Add(3)
	m.FramesDropped.Add(1)
	m.ActiveSessions.Store(2)

	body := scrape(t, m)
	assert.Contains(t, body, "stream_frames_sent_total 3")
	assert.Contains(t, body, "stream_frames_dropped_total 1")
	assert.Contains(t, body, "stream_active_sessions 2")
}

func TestMetricsRecordSample(t *testing.T) {
	m := New()
	m.RecordSample(quality.Sample{
		LatencyMs:     42.5,
		JitterMs:      3.25,
		LossRatio:     0.125,
		ThroughputBps: 100000,
	})

	body := scrape(t, m)
	assert.Contains(t, body, "stream_latency_ms 42.5")
	assert.Contains(t, body, "stream_jitter_ms 3.25")
	assert.Contains(t, body, "stream_loss_ratio 0.125")
	assert.Contains(t, body, "stream_throughput_bps 100000")
}

func TestMetricsRecordTierChange(t *testing.T) {
	m := New()

	m.RecordTierChange(adapt.TierLow, adapt.TierMedium)
	m.RecordTierChange(adapt.TierMedium, adapt.TierLow)
	m.RecordTierChange(adapt.TierLow, adapt.TierMedium)

	body := scrape(t, m)
	assert.Contains(t, body, "stream_tier_changes_total 3")
	assert.Contains(t, body, "stream_tier_upgrades_total 2")
	assert.Contains(t, body, "stream_tier_downgrades_total 1")
	assert.True(t, strings.Contains(body, "stream_current_tier 1"))
}
