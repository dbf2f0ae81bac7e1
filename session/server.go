package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nuran-nahadi/Networking-Project/adapt"
	"github.com/nuran-nahadi/Networking-Project/fragment"
	"github.com/nuran-nahadi/Networking-Project/transport"
	"github.com/nuran-nahadi/Networking-Project/wire"
)

// ServerSession is the sending side of one peer connection.
//
// It owns the peer's control connection, fragments encoder output onto
// the shared datagram socket, answers Ping with Pong, emits Heartbeat,
// and applies tier changes requested by the receiver, acknowledging the
// tier it actually applied.
type ServerSession struct {
	mu sync.RWMutex

	id       uuid.UUID
	control  *transport.ControlConn
	datagram *transport.DatagramEndpoint
	// videoAddr is where fragments are sent: the control peer's IP at
	// the deployment-configured client video port.
	videoAddr net.Addr

	ladder      adapt.Ladder
	currentTier adapt.Tier
	encoder     Encoder
	fragmenter  *fragment.Fragmenter

	config   *Config
	state    State
	lastSeen time.Time

	framesSent uint64

	onClose func(*ServerSession, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	timeProvider TimeProvider
}

// NewServerSession creates a session for one accepted control connection.
//
// Parameters:
//   - control: The accepted control connection (not yet started)
//   - datagram: The shared outbound datagram endpoint
//   - videoPort: UDP port the client receives fragments on
//   - encoder: External encode collaborator for this peer
//   - ladder: Tier ladder served to this peer
//   - initialTier: Tier streamed before any negotiation
//   - config: Session tunables; nil uses DefaultConfig
func NewServerSession(control *transport.ControlConn, datagram *transport.DatagramEndpoint, videoPort int, encoder Encoder, ladder adapt.Ladder, initialTier adapt.Tier, config *Config) (*ServerSession, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if len(ladder) == 0 {
		ladder = adapt.DefaultLadder()
	}
	initialTier = ladder.Clamp(initialTier)

	host, _, err := net.SplitHostPort(control.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("cannot derive video address from control peer: %w", err)
	}
	videoAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprintf("%d", videoPort)))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve client video address: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	maxPayload := 0
	if config.MTU > 0 {
		maxPayload = wire.MaxFragmentPayload(config.MTU)
	}

	s := &ServerSession{
		control:      control,
		datagram:     datagram,
		videoAddr:    videoAddr,
		ladder:       ladder,
		currentTier:  initialTier,
		encoder:      encoder,
		fragmenter:   fragment.NewFragmenter(maxPayload),
		config:       config,
		state:        StateActive,
		ctx:          ctx,
		cancel:       cancel,
		timeProvider: DefaultTimeProvider{},
	}
	s.lastSeen = s.timeProvider.Now()

	logrus.WithFields(logrus.Fields{
		"function":     "NewServerSession",
		"control_peer": control.RemoteAddr().String(),
		"video_addr":   videoAddr.String(),
		"initial_tier": ladder.Name(initialTier),
	}).Info("Server session created")

	return s, nil
}

// SetCloseCallback registers a callback invoked once when the session
// closes, with the reason (nil on orderly local close).
func (s *ServerSession) SetCloseCallback(cb func(*ServerSession, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = cb
}

// SetTimeProvider sets the time provider for deterministic testing.
func (s *ServerSession) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	s.timeProvider = tp
}

// Start wires control handlers and launches the heartbeat/watchdog loop.
// The initial encoder configuration is applied before any frame flows.
func (s *ServerSession) Start() error {
	cfg, err := s.ladder.Config(s.CurrentTier())
	if err != nil {
		return err
	}
	if err := s.encoder.Reconfigure(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrEncoderFailure, err)
	}

	s.control.RegisterHandler(wire.MessageHello, s.handleHello)
	s.control.RegisterHandler(wire.MessagePing, s.handlePing)
	s.control.RegisterHandler(wire.MessageTierChangeRequest, s.handleTierChangeRequest)
	s.control.RegisterHandler(wire.MessageHeartbeat, s.handleHeartbeat)
	s.control.SetCloseHandler(func(err error) {
		s.close(err)
	})
	s.control.Start()

	s.wg.Add(1)
	go s.heartbeatLoop()

	return nil
}

// ID returns the session ID announced by the peer's Hello (zero until then).
func (s *ServerSession) ID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// CurrentTier returns the tier frames are currently encoded at.
func (s *ServerSession) CurrentTier() adapt.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTier
}

// State returns the session lifecycle state.
func (s *ServerSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// FramesSent returns how many frames this session has fragmented and sent.
func (s *ServerSession) FramesSent() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.framesSent
}

// SendFrame fragments one encoded frame and sends it best-effort.
//
// Individual datagram send failures are logged and skipped; the lossy
// path is non-fatal by design. Only a closed session returns an error.
func (s *ServerSession) SendFrame(payload []byte) error {
	s.mu.RLock()
	if s.state != StateActive {
		s.mu.RUnlock()
		return ErrSessionClosed
	}
	tier := s.currentTier
	s.mu.RUnlock()

	frags, err := s.fragmenter.FragmentFrame(payload, uint8(tier), s.timeProvider.Now())
	if err != nil {
		return err
	}

	for _, frag := range frags {
		if err := s.datagram.SendFragment(frag, s.videoAddr); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SendFrame",
				"frame_id": frag.FrameID,
				"index":    frag.FragmentIndex,
				"error":    err.Error(),
			}).Debug("Fragment send failed, continuing")
		}
	}

	s.mu.Lock()
	s.framesSent++
	s.mu.Unlock()

	return nil
}

// handleHello registers the peer's session ID and acknowledges with the
// tier currently in effect, completing the registration handshake.
func (s *ServerSession) handleHello(msg *wire.ControlMessage) {
	s.touch()

	s.mu.Lock()
	s.id = msg.SessionID
	tier := s.currentTier
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "handleHello",
		"session_id": msg.SessionID.String(),
		"tier":       s.ladder.Name(tier),
	}).Info("Peer registered")

	s.sendAck(tier)
}

// handlePing answers with a Pong echoing the token.
func (s *ServerSession) handlePing(msg *wire.ControlMessage) {
	s.touch()

	err := s.control.Send(&wire.ControlMessage{
		Type:       wire.MessagePong,
		EchoToken:  msg.EchoToken,
		ServerTime: s.timeProvider.Now(),
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handlePing",
			"error":    err.Error(),
		}).Warn("Failed to send pong")
	}
}

// handleTierChangeRequest applies a requested tier and acknowledges the
// tier actually in effect.
//
// Out-of-range tiers are clamped and a request for the current tier is
// acknowledged as a no-op; neither is an error. An encoder failure closes
// the session.
func (s *ServerSession) handleTierChangeRequest(msg *wire.ControlMessage) {
	s.touch()

	desired := s.ladder.Clamp(adapt.Tier(msg.DesiredTier))

	s.mu.Lock()
	current := s.currentTier
	s.mu.Unlock()

	if desired == current {
		s.sendAck(current)
		return
	}

	cfg, err := s.ladder.Config(desired)
	if err != nil {
		s.sendAck(current)
		return
	}

	if err := s.encoder.Reconfigure(cfg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleTierChangeRequest",
			"tier":     s.ladder.Name(desired),
			"error":    err.Error(),
		}).Error("Encoder reconfiguration failed, closing session")
		// Off the control read loop: close waits for that loop to end.
		go s.close(fmt.Errorf("%w: %v", ErrEncoderFailure, err))
		return
	}

	s.mu.Lock()
	s.currentTier = desired
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "handleTierChangeRequest",
		"from":     s.ladder.Name(current),
		"to":       s.ladder.Name(desired),
	}).Info("Tier change applied")

	s.sendAck(desired)
}

// handleHeartbeat only refreshes the silence deadline.
func (s *ServerSession) handleHeartbeat(*wire.ControlMessage) {
	s.touch()
}

// sendAck emits a TierChangeAck carrying the effective tier.
func (s *ServerSession) sendAck(tier adapt.Tier) {
	err := s.control.Send(&wire.ControlMessage{
		Type:          wire.MessageTierChangeAck,
		EffectiveTier: uint8(tier),
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendAck",
			"error":    err.Error(),
		}).Warn("Failed to send tier change ack")
	}
}

// heartbeatLoop emits Heartbeat and enforces the silence timeout and the
// malformed-message threshold.
func (s *ServerSession) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.control.Send(&wire.ControlMessage{Type: wire.MessageHeartbeat}); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "heartbeatLoop",
					"error":    err.Error(),
				}).Debug("Heartbeat send failed")
			}

			if s.control.MalformedCount() > s.config.MalformedLimit {
				// Off this loop: close waits for it via the wait group.
				go s.close(ErrMalformedFlood)
				return
			}

			s.mu.RLock()
			silent := s.timeProvider.Now().Sub(s.lastSeen)
			s.mu.RUnlock()
			if silent > s.config.SilenceTimeout {
				logrus.WithFields(logrus.Fields{
					"function": "heartbeatLoop",
					"silent":   silent,
				}).Warn("Control channel silent, closing session")
				go s.close(ErrControlSilence)
				return
			}
		}
	}
}

// touch refreshes the silence deadline.
func (s *ServerSession) touch() {
	s.mu.Lock()
	s.lastSeen = s.timeProvider.Now()
	s.mu.Unlock()
}

// Close shuts the session down orderly.
func (s *ServerSession) Close() {
	s.close(nil)
}

// close is the single teardown path; idempotent.
func (s *ServerSession) close(reason error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	onClose := s.onClose
	s.mu.Unlock()

	s.cancel()
	_ = s.control.Close()
	s.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "close",
		"reason":   fmt.Sprintf("%v", reason),
	}).Info("Server session closed")

	if onClose != nil {
		onClose(s, reason)
	}
}
