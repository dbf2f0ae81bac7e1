package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuran-nahadi/Networking-Project/wire"
)

func TestDatagramEndpointDeliversFragments(t *testing.T) {
	receiver, err := NewDatagramEndpoint("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer receiver.Close()

	sender, err := NewDatagramEndpoint("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer sender.Close()

	received := make(chan *wire.Fragment, 1)
	receiver.SetHandler(func(frag *wire.Fragment, _ net.Addr) {
		received <- frag
	})
	receiver.Start()

	frag := &wire.Fragment{
		FrameID:       12,
		FragmentIndex: 0,
		FragmentCount: 1,
		Tier:          1,
		SendTime:      time.UnixMicro(1700000000000000),
		Payload:       []byte("fragment payload"),
	}
	require.NoError(t, sender.SendFragment(frag, receiver.LocalAddr()))

	select {
	case got := <-received:
		assert.Equal(t, frag.FrameID, got.FrameID)
		assert.Equal(t, frag.Payload, got.Payload)
		assert.True(t, frag.SendTime.Equal(got.SendTime))
	case <-time.After(2 * time.Second):
		t.Fatal("fragment not delivered")
	}
}

func TestDatagramEndpointDropsMalformed(t *testing.T) {
	receiver, err := NewDatagramEndpoint("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer receiver.Close()

	received := make(chan *wire.Fragment, 1)
	receiver.SetHandler(func(frag *wire.Fragment, _ net.Addr) {
		received <- frag
	})
	receiver.Start()

	raw, err := net.Dial("udp", receiver.LocalAddr().String())
	require.NoError(t, err)
	defer raw.Close()

	// Garbage shorter than a fragment header.
	_, err = raw.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	// A valid fragment still flows afterwards.
	valid := &wire.Fragment{
		FrameID:       1,
		FragmentIndex: 0,
		FragmentCount: 1,
		SendTime:      time.Now(),
		Payload:       []byte("ok"),
	}
	data, err := valid.Marshal()
	require.NoError(t, err)
	_, err = raw.Write(data)
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, uint32(1), got.FrameID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid fragment not delivered after malformed one")
	}
	assert.Equal(t, uint64(1), receiver.MalformedCount())
}

func TestSendFragmentEnforcesMTU(t *testing.T) {
	endpoint, err := NewDatagramEndpoint("127.0.0.1:0", 200)
	require.NoError(t, err)
	defer endpoint.Close()

	frag := &wire.Fragment{
		FrameID:       1,
		FragmentIndex: 0,
		FragmentCount: 1,
		SendTime:      time.Now(),
		Payload:       make([]byte, 300),
	}
	err = endpoint.SendFragment(frag, endpoint.LocalAddr())
	assert.ErrorIs(t, err, wire.ErrMessageTooLarge)
}
