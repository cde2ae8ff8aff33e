package net

import (
	"bufio"
	"errors"
	"io"
)

const (
	frameStart  byte = 0x7E
	frameEscape byte = 0x7D
	frameXON    byte = 0x11
	frameXOFF   byte = 0x13
	escapeXOR   byte = 0x20

	// MaxFramePayload is the largest payload the 16-bit length field can carry.
	MaxFramePayload = 0xFFFF
)

var (
	ErrEmptyPayload     = errors.New("frame: empty payload")
	ErrPayloadTooLarge  = errors.New("frame: payload too large")
	ErrUnexpectedEscape = errors.New("frame: escape at end of stream")
)

// DiscardReason tells why the reader dropped bytes instead of returning a frame.
type DiscardReason string

const (
	DiscardResync   DiscardReason = "resync"
	DiscardChecksum DiscardReason = "checksum"
	DiscardOversize DiscardReason = "oversize"
	DiscardEmpty    DiscardReason = "empty"
)

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayload int
}

func DefaultLimits() Limits {
	return Limits{MaxPayload: 1024}
}

// Checksum returns 0xFF minus the low byte of the payload sum.
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return 0xFF - sum
}

func needsEscape(b byte) bool {
	return b == frameStart || b == frameEscape || b == frameXON || b == frameXOFF
}

func appendEscaped(dst []byte, b byte) []byte {
	if needsEscape(b) {
		return append(dst, frameEscape, b^escapeXOR)
	}
	return append(dst, b)
}

// AppendFrame appends the escaped wire form of payload to dst.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return dst, ErrEmptyPayload
	}
	if len(payload) > MaxFramePayload {
		return dst, ErrPayloadTooLarge
	}
	dst = append(dst, frameStart)
	dst = appendEscaped(dst, byte(len(payload)>>8))
	dst = appendEscaped(dst, byte(len(payload)))
	for _, b := range payload {
		dst = appendEscaped(dst, b)
	}
	return appendEscaped(dst, Checksum(payload)), nil
}

// EncodeFrame returns the escaped wire form of payload.
func EncodeFrame(payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, len(payload)+8), payload)
}

// errResync is returned internally when an unescaped start delimiter shows
// up inside a frame.
var errResync = errors.New("frame: resync")

// FrameReader extracts frames from an escaped byte stream. Corrupt and
// truncated frames are skipped and reported through OnDiscard.
type FrameReader struct {
	r      *bufio.Reader
	limits Limits
	buf    []byte

	// OnDiscard, when set, is called for every dropped frame.
	OnDiscard func(reason DiscardReason)
}

func NewFrameReader(r io.Reader, limits Limits) *FrameReader {
	if limits.MaxPayload <= 0 || limits.MaxPayload > MaxFramePayload {
		limits.MaxPayload = MaxFramePayload
	}
	return &FrameReader{r: bufio.NewReader(r), limits: limits}
}

func (fr *FrameReader) discard(reason DiscardReason) {
	if fr.OnDiscard != nil {
		fr.OnDiscard(reason)
	}
}

// readByte returns the next unescaped byte. A raw start delimiter yields errResync.
func (fr *FrameReader) readByte() (byte, error) {
	b, err := fr.r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case frameStart:
		return 0, errResync
	case frameEscape:
		n, err := fr.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, ErrUnexpectedEscape
			}
			return 0, err
		}
		if n == frameStart {
			return 0, errResync
		}
		return n ^ escapeXOR, nil
	}
	return b, nil
}

// ReadFrame blocks until a valid frame arrives and returns its payload. The
// returned slice is only valid until the next call. Errors are transport
// errors; protocol errors never surface here.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	synced := false
	for {
		if !synced {
			b, err := fr.r.ReadByte()
			if err != nil {
				return nil, err
			}
			if b != frameStart {
				continue
			}
		}
		synced = false

		payload, err := fr.readBody()
		switch {
		case err == nil:
			return payload, nil
		case errors.Is(err, errResync):
			fr.discard(DiscardResync)
			synced = true
		case errors.Is(err, errChecksum):
			fr.discard(DiscardChecksum)
		case errors.Is(err, errOversize):
			fr.discard(DiscardOversize)
		case errors.Is(err, ErrEmptyPayload):
			fr.discard(DiscardEmpty)
		default:
			return nil, err
		}
	}
}

var (
	errChecksum = errors.New("frame: checksum mismatch")
	errOversize = errors.New("frame: length exceeds limit")
)

func (fr *FrameReader) readBody() ([]byte, error) {
	hi, err := fr.readByte()
	if err != nil {
		return nil, err
	}
	lo, err := fr.readByte()
	if err != nil {
		return nil, err
	}
	n := int(hi)<<8 | int(lo)
	if n == 0 {
		return nil, ErrEmptyPayload
	}
	if n > fr.limits.MaxPayload {
		return nil, errOversize
	}

	if cap(fr.buf) < n {
		fr.buf = make([]byte, n)
	}
	fr.buf = fr.buf[:n]
	var sum byte
	for i := 0; i < n; i++ {
		b, err := fr.readByte()
		if err != nil {
			return nil, err
		}
		fr.buf[i] = b
		sum += b
	}
	chk, err := fr.readByte()
	if err != nil {
		return nil, err
	}
	if sum+chk != 0xFF {
		return nil, errChecksum
	}
	return fr.buf, nil
}
