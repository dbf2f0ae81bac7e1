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
	"github.com/nuran-nahadi/Networking-Project/quality"
	"github.com/nuran-nahadi/Networking-Project/transport"
	"github.com/nuran-nahadi/Networking-Project/wire"
)

// pingTimeout bounds how long an outstanding probe token is retained.
// A token unanswered past this is treated as lost and forgotten.
const pingTimeout = 5 * time.Second

// ClientSession is the receiving side of one peer connection.
//
// It reassembles incoming fragments into frames for the renderer, feeds
// every network observation into the quality monitor, probes round-trip
// latency over the control channel, and drives the adaptation controller:
// when a sample warrants a tier move it sends TierChangeRequest and
// commits the controller state only on the server's TierChangeAck.
type ClientSession struct {
	mu sync.RWMutex

	id       uuid.UUID
	control  *transport.ControlConn
	datagram *transport.DatagramEndpoint

	monitor     *quality.Monitor
	controller  *adapt.Controller
	reassembler *fragment.Reassembler
	renderer    Renderer

	config   *Config
	state    State
	lastSeen time.Time

	// Outstanding ping tokens awaiting a Pong, keyed by token.
	pending   map[uint32]time.Time
	nextToken uint32

	framesCompleted uint64
	framesDropped   uint64

	onClose      func(*ClientSession, error)
	onTierChange func(from, to adapt.Tier)
	onSample     func(quality.Sample)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	timeProvider TimeProvider
}

// NewClientSession assembles the receiving side from its parts.
//
// Parameters:
//   - control: Dialed control connection (not yet started)
//   - datagram: Bound datagram endpoint receiving fragments
//   - renderer: External display collaborator
//   - monitor: Quality monitor; nil uses defaults
//   - controller: Adaptation controller; nil uses the default ladder
//     starting at its lowest tier
//   - config: Session tunables; nil uses DefaultConfig
func NewClientSession(control *transport.ControlConn, datagram *transport.DatagramEndpoint, renderer Renderer, monitor *quality.Monitor, controller *adapt.Controller, config *Config) *ClientSession {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()
	if monitor == nil {
		monitor = quality.NewMonitor(nil)
	}
	if controller == nil {
		ladder := adapt.DefaultLadder()
		controller = adapt.NewController(nil, ladder, ladder.Lowest())
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &ClientSession{
		id:           uuid.New(),
		control:      control,
		datagram:     datagram,
		monitor:      monitor,
		controller:   controller,
		reassembler:  fragment.NewReassembler(nil),
		renderer:     renderer,
		config:       config,
		state:        StateActive,
		pending:      make(map[uint32]time.Time),
		ctx:          ctx,
		cancel:       cancel,
		timeProvider: DefaultTimeProvider{},
	}
	s.lastSeen = s.timeProvider.Now()

	logrus.WithFields(logrus.Fields{
		"function":   "NewClientSession",
		"session_id": s.id.String(),
		"server":     control.RemoteAddr().String(),
	}).Info("Client session created")

	return s
}

// SetCloseCallback registers a callback invoked once when the session
// closes, with the reason (nil on orderly local close).
func (s *ClientSession) SetCloseCallback(cb func(*ClientSession, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = cb
}

// SetTierChangeCallback registers a callback invoked on every
// acknowledged tier transition.
func (s *ClientSession) SetTierChangeCallback(cb func(from, to adapt.Tier)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTierChange = cb
}

// SetSampleCallback registers an observer invoked with every quality
// sample after adaptation has evaluated it.
func (s *ClientSession) SetSampleCallback(cb func(quality.Sample)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSample = cb
}

// SetTimeProvider sets the time provider for deterministic testing.
func (s *ClientSession) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	s.timeProvider = tp
}

// Start launches all session machinery: control handlers, the fragment
// pipeline, the quality sampler, and the ping/sweep loops. It registers
// with the server by sending Hello.
func (s *ClientSession) Start() error {
	s.control.RegisterHandler(wire.MessagePong, s.handlePong)
	s.control.RegisterHandler(wire.MessageTierChangeAck, s.handleTierChangeAck)
	s.control.RegisterHandler(wire.MessageHeartbeat, s.handleHeartbeat)
	s.control.SetCloseHandler(func(err error) {
		s.close(err)
	})
	s.control.Start()

	s.datagram.SetHandler(s.handleFragment)
	s.datagram.Start()

	s.monitor.SetSampleCallback(s.handleSample)
	s.monitor.Start(s.ctx)

	err := s.control.Send(&wire.ControlMessage{
		Type:      wire.MessageHello,
		SessionID: s.id,
	})
	if err != nil {
		s.close(err)
		return fmt.Errorf("registration failed: %w", err)
	}

	s.wg.Add(2)
	go s.pingLoop()
	go s.sweepLoop()

	return nil
}

// ID returns this session's identifier.
func (s *ClientSession) ID() uuid.UUID {
	return s.id
}

// State returns the session lifecycle state.
func (s *ClientSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Monitor exposes the quality monitor, e.g. for a metrics display.
func (s *ClientSession) Monitor() *quality.Monitor {
	return s.monitor
}

// Controller exposes the adaptation controller.
func (s *ClientSession) Controller() *adapt.Controller {
	return s.controller
}

// FrameCounts returns how many frames completed and dropped so far.
func (s *ClientSession) FrameCounts() (completed, dropped uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.framesCompleted, s.framesDropped
}

// handleFragment is the datagram receive path: observe, reassemble,
// render. A renderer failure is fatal to the session.
func (s *ClientSession) handleFragment(frag *wire.Fragment, _ net.Addr) {
	// Throughput is measured in payload bytes; header overhead is not
	// counted against the budget the tier thresholds describe.
	s.monitor.ObserveFragment(frag.SendTime, len(frag.Payload))

	frame, evicted := s.reassembler.Add(frag)
	if evicted > 0 {
		s.noteDropped(evicted)
	}
	if frame == nil {
		return
	}
	s.noteCompleted()

	if err := s.renderer.RenderFrame(frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleFragment",
			"frame_id": frame.FrameID,
			"error":    err.Error(),
		}).Error("Renderer failed, closing session")
		// Off the datagram read loop: close waits for that loop to end.
		go s.close(fmt.Errorf("%w: %v", ErrRendererFailure, err))
	}
}

// handleSample runs on every monitor sample and drives adaptation.
func (s *ClientSession) handleSample(sample quality.Sample) {
	decision := s.controller.Evaluate(sample)

	s.mu.RLock()
	observer := s.onSample
	s.mu.RUnlock()
	if observer != nil {
		observer(sample)
	}

	if !decision.Request {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "handleSample",
		"target":      s.controller.Ladder().Name(decision.Target),
		"latency_ms":  sample.LatencyMs,
		"jitter_ms":   sample.JitterMs,
		"loss_ratio":  sample.LossRatio,
		"through_bps": sample.ThroughputBps,
	}).Info("Requesting tier change")

	err := s.control.Send(&wire.ControlMessage{
		Type:        wire.MessageTierChangeRequest,
		DesiredTier: uint8(decision.Target),
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleSample",
			"error":    err.Error(),
		}).Warn("Failed to send tier change request")
	}
}

// handlePong matches the echoed token against an outstanding probe and
// feeds the full round-trip time into the monitor.
func (s *ClientSession) handlePong(msg *wire.ControlMessage) {
	s.touch()

	s.mu.Lock()
	sentAt, ok := s.pending[msg.EchoToken]
	if ok {
		delete(s.pending, msg.EchoToken)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.monitor.ObserveRoundTrip(s.timeProvider.Now().Sub(sentAt))
}

// handleTierChangeAck commits the server's effective tier into the
// controller. A no-op ack (effective == current) clears any pending
// request without disturbing the hysteresis clock.
func (s *ClientSession) handleTierChangeAck(msg *wire.ControlMessage) {
	s.touch()

	before := s.controller.CurrentTier()
	s.controller.Reconcile(adapt.Tier(msg.EffectiveTier))
	after := s.controller.CurrentTier()

	if before != after {
		s.mu.RLock()
		cb := s.onTierChange
		s.mu.RUnlock()
		if cb != nil {
			cb(before, after)
		}
	}
}

// handleHeartbeat only refreshes the silence deadline.
func (s *ClientSession) handleHeartbeat(*wire.ControlMessage) {
	s.touch()
}

// pingLoop sends latency probes and doubles as the session watchdog.
func (s *ClientSession) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sendPing()

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
					"function": "pingLoop",
					"silent":   silent,
				}).Warn("Control channel silent, closing session")
				go s.close(ErrControlSilence)
				return
			}
		}
	}
}

// sendPing issues one probe and prunes tokens whose reply never came.
func (s *ClientSession) sendPing() {
	now := s.timeProvider.Now()

	s.mu.Lock()
	s.nextToken++
	token := s.nextToken
	s.pending[token] = now
	for t, sentAt := range s.pending {
		if now.Sub(sentAt) > pingTimeout {
			delete(s.pending, t)
		}
	}
	s.mu.Unlock()

	err := s.control.Send(&wire.ControlMessage{
		Type:      wire.MessagePing,
		EchoToken: token,
		SendTime:  now,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendPing",
			"error":    err.Error(),
		}).Debug("Ping send failed")
	}
}

// sweepLoop evicts partial frames that have waited past the reassembly
// timeout and records each as a dropped frame.
func (s *ClientSession) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			dropped := s.reassembler.Sweep()
			if len(dropped) > 0 {
				s.noteDropped(len(dropped))
			}
		}
	}
}

func (s *ClientSession) noteCompleted() {
	s.monitor.ObserveFrameCompleted()
	s.mu.Lock()
	s.framesCompleted++
	s.mu.Unlock()
}

func (s *ClientSession) noteDropped(n int) {
	for i := 0; i < n; i++ {
		s.monitor.ObserveFrameDropped()
	}
	s.mu.Lock()
	s.framesDropped += uint64(n)
	s.mu.Unlock()
}

// touch refreshes the silence deadline.
func (s *ClientSession) touch() {
	s.mu.Lock()
	s.lastSeen = s.timeProvider.Now()
	s.mu.Unlock()
}

// Close shuts the session down orderly.
func (s *ClientSession) Close() {
	s.close(nil)
}

// close is the single teardown path; idempotent.
func (s *ClientSession) close(reason error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	onClose := s.onClose
	s.mu.Unlock()

	s.cancel()
	s.monitor.Stop()
	_ = s.control.Close()
	_ = s.datagram.Close()
	s.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function":   "close",
		"session_id": s.id.String(),
		"reason":     fmt.Sprintf("%v", reason),
	}).Info("Client session closed")

	if onClose != nil {
		onClose(s, reason)
	}
}
