package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentMarshalParseRoundTrip(t *testing.T) {
	sendTime := time.UnixMicro(time.Now().UnixMicro())

	original := &Fragment{
		FrameID:       42,
		FragmentIndex: 3,
		FragmentCount: 7,
		Tier:          2,
		SendTime:      sendTime,
		Payload:       []byte("encoded frame slice"),
	}

	data, err := original.Marshal()
	require.NoError(t, err)
	assert.Equal(t, FragmentHeaderSize+len(original.Payload), len(data))

	parsed, err := ParseFragment(data)
	require.NoError(t, err)

	assert.Equal(t, original.FrameID, parsed.FrameID)
	assert.Equal(t, original.FragmentIndex, parsed.FragmentIndex)
	assert.Equal(t, original.FragmentCount, parsed.FragmentCount)
	assert.Equal(t, original.Tier, parsed.Tier)
	assert.True(t, original.SendTime.Equal(parsed.SendTime))
	assert.Equal(t, original.Payload, parsed.Payload)
}

func TestFragmentEmptyPayloadRoundTrip(t *testing.T) {
	original := &Fragment{
		FrameID:       1,
		FragmentIndex: 0,
		FragmentCount: 1,
		SendTime:      time.UnixMicro(1700000000000000),
	}

	data, err := original.Marshal()
	require.NoError(t, err)
	assert.Equal(t, FragmentHeaderSize, len(data))

	parsed, err := ParseFragment(data)
	require.NoError(t, err)
	assert.Empty(t, parsed.Payload)
}

func TestFragmentMarshalRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		frag *Fragment
		want error
	}{
		{
			name: "zero fragment count",
			frag: &Fragment{FrameID: 1, FragmentCount: 0},
			want: ErrMalformedMessage,
		},
		{
			name: "index out of range",
			frag: &Fragment{FrameID: 1, FragmentIndex: 5, FragmentCount: 5},
			want: ErrMalformedMessage,
		},
		{
			name: "payload exceeds uint16",
			frag: &Fragment{FrameID: 1, FragmentCount: 1, Payload: make([]byte, 0x10000)},
			want: ErrMessageTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.frag.Marshal()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseFragmentRejectsMalformed(t *testing.T) {
	valid, err := (&Fragment{
		FrameID:       9,
		FragmentIndex: 0,
		FragmentCount: 2,
		SendTime:      time.UnixMicro(1700000000000000),
		Payload:       []byte{1, 2, 3},
	}).Marshal()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "short datagram", data: valid[:FragmentHeaderSize-1]},
		{name: "truncated payload", data: valid[:len(valid)-1]},
		{name: "trailing garbage", data: append(append([]byte{}, valid...), 0xFF)},
		{name: "empty", data: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFragment(tt.data)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestParseFragmentRejectsBadIndexFields(t *testing.T) {
	valid, err := (&Fragment{
		FrameID:       9,
		FragmentIndex: 0,
		FragmentCount: 1,
		SendTime:      time.UnixMicro(1700000000000000),
	}).Marshal()
	require.NoError(t, err)

	// Corrupt fragmentCount to zero.
	zeroCount := append([]byte{}, valid...)
	zeroCount[6] = 0
	zeroCount[7] = 0
	_, err = ParseFragment(zeroCount)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	// Corrupt fragmentIndex past fragmentCount.
	badIndex := append([]byte{}, valid...)
	badIndex[4] = 0
	badIndex[5] = 9
	_, err = ParseFragment(badIndex)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestMaxFragmentPayload(t *testing.T) {
	assert.Equal(t, DefaultMTU-FragmentHeaderSize, MaxFragmentPayload(DefaultMTU))
}
