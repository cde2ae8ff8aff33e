package net

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	// AT command NJ with frame id 1
	assert.Equal(t, byte(0x5E), Checksum([]byte{0x08, 0x01, 0x4E, 0x4A}))
	assert.Equal(t, byte(0xFF), Checksum(nil))
}

func TestEncodeFrameEscapes(t *testing.T) {
	wire, err := EncodeFrame([]byte{0x7E, 0x7D, 0x11, 0x13, 0x01})
	require.NoError(t, err)
	sum := Checksum([]byte{0x7E, 0x7D, 0x11, 0x13, 0x01})
	want := []byte{0x7E, 0x00, 0x05, 0x7D, 0x5E, 0x7D, 0x5D, 0x7D, 0x31, 0x7D, 0x33, 0x01, sum}
	assert.Equal(t, want, wire)

	_, err = EncodeFrame(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
	_, err = EncodeFrame(make([]byte, MaxFramePayload+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x90, 0x00, 0x01, 'h', 'i'},
		{0x7E, 0x7E, 0x7D, 0x11, 0x13, 0x20},
		bytes.Repeat([]byte{0x7D}, 300),
		{0x01},
	}
	var stream []byte
	for _, p := range payloads {
		var err error
		stream, err = AppendFrame(stream, p)
		require.NoError(t, err)
	}

	fr := NewFrameReader(bytes.NewReader(stream), DefaultLimits())
	for _, want := range payloads {
		got, err := fr.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameReaderDiscards(t *testing.T) {
	good, err := EncodeFrame([]byte{0x90, 0x01})
	require.NoError(t, err)
	bad := append([]byte(nil), good...)
	bad[len(bad)-1]++

	tests := []struct {
		name   string
		prefix []byte
		reason DiscardReason
	}{
		{name: "checksum", prefix: bad, reason: DiscardChecksum},
		{name: "resync", prefix: []byte{0x7E, 0x00, 0x09, 0x90}, reason: DiscardResync},
		{name: "escaped start resyncs", prefix: []byte{0x7E, 0x00, 0x03, 0x7D}, reason: DiscardResync},
		{name: "empty", prefix: []byte{0x7E, 0x00, 0x00, 0xFF}, reason: DiscardEmpty},
		{name: "oversize", prefix: []byte{0x7E, 0x10, 0x00}, reason: DiscardOversize},
		{name: "noise", prefix: []byte{0x00, 0x13, 0x42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reasons []DiscardReason
			stream := append(append([]byte(nil), tt.prefix...), good...)
			fr := NewFrameReader(bytes.NewReader(stream), Limits{MaxPayload: 256})
			fr.OnDiscard = func(r DiscardReason) { reasons = append(reasons, r) }

			got, err := fr.ReadFrame()
			require.NoError(t, err)
			assert.Equal(t, []byte{0x90, 0x01}, got)
			if tt.reason == "" {
				assert.Empty(t, reasons)
			} else {
				assert.Contains(t, reasons, tt.reason)
			}
		})
	}
}

func TestFrameReaderTruncated(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader([]byte{0x7E, 0x00, 0x04, 0x90}), DefaultLimits())
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)

	fr = NewFrameReader(bytes.NewReader([]byte{0x7E, 0x00, 0x02, 0x90, 0x7D}), DefaultLimits())
	_, err = fr.ReadFrame()
	assert.ErrorIs(t, err, ErrUnexpectedEscape)
}
