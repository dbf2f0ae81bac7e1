package session

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuran-nahadi/Networking-Project/adapt"
	"github.com/nuran-nahadi/Networking-Project/fragment"
	"github.com/nuran-nahadi/Networking-Project/quality"
	"github.com/nuran-nahadi/Networking-Project/transport"
	"github.com/nuran-nahadi/Networking-Project/wire"
)

func newTestSessionID() uuid.UUID {
	return uuid.New()
}

// mockEncoder records tier reconfigurations.
type mockEncoder struct {
	mu    sync.Mutex
	tiers []adapt.TierConfig
	fail  bool
}

func (e *mockEncoder) Reconfigure(cfg adapt.TierConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return assert.AnError
	}
	e.tiers = append(e.tiers, cfg)
	return nil
}

func (e *mockEncoder) applied() []adapt.TierConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]adapt.TierConfig, len(e.tiers))
	copy(out, e.tiers)
	return out
}

// collectRenderer hands completed frames to the test.
type collectRenderer struct {
	frames chan *fragment.Frame
}

func (r *collectRenderer) RenderFrame(frame *fragment.Frame) error {
	select {
	case r.frames <- frame:
	default:
	}
	return nil
}

// startServerSide binds a control listener that wraps each accepted
// connection in a ServerSession streaming to clientVideoPort.
func startServerSide(t *testing.T, clientVideoPort int, encoder *mockEncoder, initialTier adapt.Tier) (addr string, sessions chan *ServerSession) {
	t.Helper()

	datagram, err := transport.NewDatagramEndpoint("127.0.0.1:0", 0)
	require.NoError(t, err)
	t.Cleanup(func() { datagram.Close() })

	listener, err := transport.NewControlListener("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	sessions = make(chan *ServerSession, 1)
	listener.Serve(func(conn *transport.ControlConn) {
		sess, err := NewServerSession(conn, datagram, clientVideoPort, encoder, adapt.DefaultLadder(), initialTier, nil)
		if err != nil {
			t.Errorf("server session: %v", err)
			_ = conn.Close()
			return
		}
		if err := sess.Start(); err != nil {
			t.Errorf("server session start: %v", err)
			sess.Close()
			return
		}
		sessions <- sess
	})

	return listener.Addr().String(), sessions
}

func TestServerSessionAppliesInitialTierOnStart(t *testing.T) {
	encoder := &mockEncoder{}
	addr, sessions := startServerSide(t, 40000, encoder, adapt.TierMedium)

	control, err := transport.DialControl(addr)
	require.NoError(t, err)
	defer control.Close()

	var sess *ServerSession
	select {
	case sess = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("session not accepted")
	}
	defer sess.Close()

	applied := encoder.applied()
	require.Len(t, applied, 1)
	assert.Equal(t, "medium", applied[0].Name)
	assert.Equal(t, adapt.TierMedium, sess.CurrentTier())
}

func TestServerSessionTierChangeRoundTrip(t *testing.T) {
	encoder := &mockEncoder{}
	addr, sessions := startServerSide(t, 40001, encoder, adapt.TierMedium)

	control, err := transport.DialControl(addr)
	require.NoError(t, err)
	defer control.Close()

	acks := make(chan uint8, 4)
	control.RegisterHandler(wire.MessageTierChangeAck, func(msg *wire.ControlMessage) {
		acks <- msg.EffectiveTier
	})
	control.Start()

	var sess *ServerSession
	select {
	case sess = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("session not accepted")
	}
	defer sess.Close()

	// Downgrade request is applied and acknowledged with the new tier.
	require.NoError(t, control.Send(&wire.ControlMessage{Type: wire.MessageTierChangeRequest, DesiredTier: uint8(adapt.TierLow)}))
	select {
	case effective := <-acks:
		assert.Equal(t, uint8(adapt.TierLow), effective)
	case <-time.After(2 * time.Second):
		t.Fatal("no ack for tier change")
	}
	assert.Equal(t, adapt.TierLow, sess.CurrentTier())

	// A request for the current tier is acknowledged without another
	// encoder reconfiguration.
	before := len(encoder.applied())
	require.NoError(t, control.Send(&wire.ControlMessage{Type: wire.MessageTierChangeRequest, DesiredTier: uint8(adapt.TierLow)}))
	select {
	case effective := <-acks:
		assert.Equal(t, uint8(adapt.TierLow), effective)
	case <-time.After(2 * time.Second):
		t.Fatal("no ack for idempotent tier change")
	}
	assert.Len(t, encoder.applied(), before)

	// An out-of-range tier is clamped to the ladder's top and the ack
	// names the tier actually applied.
	require.NoError(t, control.Send(&wire.ControlMessage{Type: wire.MessageTierChangeRequest, DesiredTier: 99}))
	select {
	case effective := <-acks:
		assert.Equal(t, uint8(adapt.TierHigh), effective)
	case <-time.After(2 * time.Second):
		t.Fatal("no ack for clamped tier change")
	}
	assert.Equal(t, adapt.TierHigh, sess.CurrentTier())
}

func TestServerSessionHelloAcksCurrentTier(t *testing.T) {
	encoder := &mockEncoder{}
	addr, sessions := startServerSide(t, 40002, encoder, adapt.TierHigh)

	control, err := transport.DialControl(addr)
	require.NoError(t, err)
	defer control.Close()

	acks := make(chan uint8, 1)
	control.RegisterHandler(wire.MessageTierChangeAck, func(msg *wire.ControlMessage) {
		acks <- msg.EffectiveTier
	})
	control.Start()

	var sess *ServerSession
	select {
	case sess = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("session not accepted")
	}
	defer sess.Close()

	id := newTestSessionID()
	require.NoError(t, control.Send(&wire.ControlMessage{Type: wire.MessageHello, SessionID: id}))

	select {
	case effective := <-acks:
		assert.Equal(t, uint8(adapt.TierHigh), effective)
	case <-time.After(2 * time.Second):
		t.Fatal("no ack for hello")
	}
	assert.Equal(t, id, sess.ID())
}

// fixedClock pins the quality monitor's clock for deterministic windows.
type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func TestClientSessionThroughputCountsPayloadBytesOnly(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	clock := &fixedClock{now: time.UnixMicro(1_700_000_000_000_000)}
	monitor := quality.NewMonitor(&quality.MonitorConfig{SampleInterval: time.Second, WindowHorizon: 5 * time.Second})
	monitor.SetTimeProvider(clock)

	renderer := &collectRenderer{frames: make(chan *fragment.Frame, 1)}
	client := NewClientSession(transport.NewControlConn(local), nil, renderer, monitor, nil, nil)

	// First of two fragments: the frame stays incomplete, only the
	// arrival is observed.
	const payloadBytes = 1000
	client.handleFragment(&wire.Fragment{
		FrameID:       1,
		FragmentIndex: 0,
		FragmentCount: 2,
		Tier:          uint8(adapt.TierLow),
		SendTime:      clock.now,
		Payload:       bytes.Repeat([]byte{0xAB}, payloadBytes),
	}, nil)

	// Header overhead must not inflate the reading: 1000 payload bytes
	// over a 5s window is exactly 200 B/s.
	sample := monitor.Sample()
	assert.InDelta(t, float64(payloadBytes)/5.0, sample.ThroughputBps, 0.001)
}

func TestClientSessionReceivesFramesAndMeasuresLatency(t *testing.T) {
	// Client video socket first so the server knows which port to hit.
	clientDatagram, err := transport.NewDatagramEndpoint("127.0.0.1:0", 0)
	require.NoError(t, err)
	videoPort := clientDatagram.LocalAddr().(*net.UDPAddr).Port

	encoder := &mockEncoder{}
	addr, sessions := startServerSide(t, videoPort, encoder, adapt.TierMedium)

	control, err := transport.DialControl(addr)
	require.NoError(t, err)

	renderer := &collectRenderer{frames: make(chan *fragment.Frame, 4)}
	monitor := quality.NewMonitor(&quality.MonitorConfig{SampleInterval: 50 * time.Millisecond, WindowHorizon: 5 * time.Second})
	controller := adapt.NewController(nil, adapt.DefaultLadder(), adapt.TierMedium)

	client := NewClientSession(control, clientDatagram, renderer, monitor, controller, &Config{
		PingInterval:  50 * time.Millisecond,
		SweepInterval: 50 * time.Millisecond,
	})
	require.NoError(t, client.Start())
	defer client.Close()

	var server *ServerSession
	select {
	case server = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("session not accepted")
	}
	defer server.Close()

	payload := bytes.Repeat([]byte{0x5A}, 4000) // spans several fragments
	require.NoError(t, server.SendFrame(payload))

	select {
	case frame := <-renderer.frames:
		assert.True(t, bytes.Equal(payload, frame.Payload))
		assert.Equal(t, uint8(adapt.TierMedium), frame.Tier)
	case <-time.After(3 * time.Second):
		t.Fatal("frame not delivered")
	}

	completed, _ := client.FrameCounts()
	assert.Equal(t, uint64(1), completed)

	// Ping/Pong traffic on the loopback yields a latency reading.
	require.Eventually(t, func() bool {
		return client.Monitor().Latest().LatencyMs > 0
	}, 3*time.Second, 50*time.Millisecond, "no round trip measured")
}
