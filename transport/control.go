package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nuran-nahadi/Networking-Project/wire"
)

// MessageHandler processes one decoded control message.
type MessageHandler func(msg *wire.ControlMessage)

// CloseHandler is invoked once when the control connection's read loop
// ends, with the error that ended it (nil on local Close).
type CloseHandler func(err error)

// ControlConn wraps one persistent control-channel connection, carrying
// length-prefixed wire.ControlMessages in both directions.
//
// Handlers are registered per message type, mirroring the datagram side.
// A malformed frame is counted and skipped; the connection only dies on
// transport failure or Close.
type ControlConn struct {
	conn net.Conn

	mu        sync.RWMutex
	handlers  map[wire.MessageType]MessageHandler
	onClose   CloseHandler
	malformed uint64
	closed    bool

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewControlConn wraps an established connection. The read loop starts
// with Start so the owner can register handlers first.
func NewControlConn(conn net.Conn) *ControlConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &ControlConn{
		conn:     conn,
		handlers: make(map[wire.MessageType]MessageHandler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// DialControl establishes a control connection to addr.
func DialControl(addr string) (*ControlConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "DialControl",
		"remote":   addr,
	}).Info("Control channel connected")

	return NewControlConn(conn), nil
}

// RegisterHandler registers a handler for one message type.
func (c *ControlConn) RegisterHandler(mt wire.MessageType, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[mt] = handler
}

// SetCloseHandler registers the callback invoked when the read loop ends.
func (c *ControlConn) SetCloseHandler(handler CloseHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = handler
}

// Start launches the inbound read loop.
func (c *ControlConn) Start() {
	c.wg.Add(1)
	go c.readLoop()
}

func (c *ControlConn) readLoop() {
	defer c.wg.Done()

	var loopErr error
	for {
		if c.ctx.Err() != nil {
			break
		}

		msg, err := wire.ReadControlMessage(c.conn)
		if err != nil {
			if isMalformed(err) {
				c.mu.Lock()
				c.malformed++
				c.mu.Unlock()
				logrus.WithFields(logrus.Fields{
					"function": "readLoop",
					"error":    err.Error(),
				}).Warn("Dropping malformed control frame")
				continue
			}
			if c.ctx.Err() == nil {
				loopErr = err
			}
			break
		}

		c.mu.RLock()
		handler := c.handlers[msg.Type]
		c.mu.RUnlock()

		if handler == nil {
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"type":     msg.Type.String(),
			}).Debug("No handler for control message type")
			continue
		}
		handler(msg)
	}

	c.mu.Lock()
	onClose := c.onClose
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	// Run the callback off the read loop goroutine: close handlers
	// typically call back into Close, which waits for this loop to exit.
	if onClose != nil && !alreadyClosed {
		go onClose(loopErr)
	}
}

// Send writes one control message. Writes are serialized so concurrent
// senders cannot interleave frames.
func (c *ControlConn) Send(msg *wire.ControlMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteControlMessage(c.conn, msg)
}

// MalformedCount returns how many undecodable control frames were skipped.
func (c *ControlConn) MalformedCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.malformed
}

// RemoteAddr returns the peer's address.
func (c *ControlConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close tears down the connection and stops the read loop. Safe to call
// more than once.
func (c *ControlConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

// isMalformed reports whether err is a codec error rather than a
// transport failure. Codec errors skip one frame; transport failures end
// the loop.
func isMalformed(err error) bool {
	return errors.Is(err, wire.ErrMalformedMessage) || errors.Is(err, wire.ErrUnknownMessageType)
}

// ControlListener accepts inbound control connections.
type ControlListener struct {
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// AcceptHandler receives each newly accepted control connection. The
// handler owns the connection and must Start and eventually Close it.
type AcceptHandler func(conn *ControlConn)

// NewControlListener binds a TCP listener on listenAddr.
func NewControlListener(listenAddr string) (*ControlListener, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	logrus.WithFields(logrus.Fields{
		"function":    "NewControlListener",
		"listen_addr": listener.Addr().String(),
	}).Info("Control listener bound")

	return &ControlListener{
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Serve accepts connections until Close, invoking handler for each.
func (l *ControlListener) Serve(handler AcceptHandler) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			conn, err := l.listener.Accept()
			if err != nil {
				if l.ctx.Err() != nil {
					return
				}
				logrus.WithFields(logrus.Fields{
					"function": "Serve",
					"error":    err.Error(),
				}).Warn("Accept failed, continuing")
				continue
			}

			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"remote":   conn.RemoteAddr().String(),
			}).Info("Control connection accepted")

			handler(NewControlConn(conn))
		}
	}()
}

// Addr returns the bound listener address.
func (l *ControlListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops accepting and closes the listener.
func (l *ControlListener) Close() error {
	l.cancel()
	err := l.listener.Close()
	l.wg.Wait()
	return err
}
