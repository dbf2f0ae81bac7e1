package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nuran-nahadi/Networking-Project/wire"
)

// FragmentHandler processes one decoded fragment from the datagram socket.
type FragmentHandler func(frag *wire.Fragment, addr net.Addr)

// DatagramEndpoint is the lossy video transport: one UDP socket carrying
// fragment datagrams.
//
// Malformed datagrams are counted and dropped without disturbing the read
// loop; the transport never crashes the session over bad input.
type DatagramEndpoint struct {
	conn    net.PacketConn
	mtu     int
	handler FragmentHandler

	mu        sync.RWMutex
	malformed uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDatagramEndpoint binds a UDP socket on listenAddr. An mtu of zero
// uses wire.DefaultMTU. The read loop starts once SetHandler and Start
// are called.
func NewDatagramEndpoint(listenAddr string, mtu int) (*DatagramEndpoint, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	if mtu <= 0 {
		mtu = wire.DefaultMTU
	}

	ctx, cancel := context.WithCancel(context.Background())

	logrus.WithFields(logrus.Fields{
		"function":    "NewDatagramEndpoint",
		"listen_addr": conn.LocalAddr().String(),
		"mtu":         mtu,
	}).Info("Datagram endpoint bound")

	return &DatagramEndpoint{
		conn:   conn,
		mtu:    mtu,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// SetHandler registers the fragment handler. Must be called before Start.
func (d *DatagramEndpoint) SetHandler(handler FragmentHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

// Start launches the inbound read loop.
func (d *DatagramEndpoint) Start() {
	d.wg.Add(1)
	go d.readLoop()
}

// readLoop reads datagrams until the endpoint is closed.
func (d *DatagramEndpoint) readLoop() {
	defer d.wg.Done()
	buffer := make([]byte, d.mtu+1)

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		_ = d.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := d.conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if d.ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"error":    err.Error(),
			}).Debug("Datagram read error, continuing")
			continue
		}

		frag, err := wire.ParseFragment(buffer[:n])
		if err != nil {
			d.mu.Lock()
			d.malformed++
			d.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"from":     addr.String(),
				"error":    err.Error(),
			}).Debug("Dropping malformed datagram")
			continue
		}

		d.mu.RLock()
		handler := d.handler
		d.mu.RUnlock()
		if handler != nil {
			handler(frag, addr)
		}
	}
}

// SendFragment serializes and sends one fragment to addr.
//
// The encoded datagram never exceeds the endpoint's MTU budget; a
// violation is a programming error surfaced as wire.ErrMessageTooLarge.
func (d *DatagramEndpoint) SendFragment(frag *wire.Fragment, addr net.Addr) error {
	data, err := frag.Marshal()
	if err != nil {
		return err
	}
	if len(data) > d.mtu {
		return wire.ErrMessageTooLarge
	}

	_, err = d.conn.WriteTo(data, addr)
	return err
}

// MalformedCount returns how many undecodable datagrams were dropped.
func (d *DatagramEndpoint) MalformedCount() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.malformed
}

// LocalAddr returns the bound socket address.
func (d *DatagramEndpoint) LocalAddr() net.Addr {
	return d.conn.LocalAddr()
}

// Close stops the read loop and closes the socket.
func (d *DatagramEndpoint) Close() error {
	d.cancel()
	err := d.conn.Close()
	d.wg.Wait()
	return err
}
