// Package apiframe holds the field readers and frame layouts shared by the
// firmware mode tables.
package apiframe

import (
	"encoding/binary"
	"fmt"

	"github.com/lcx/xbee/net"
)

// Cursor reads big-endian fields from a frame payload. The first short read
// sticks: later reads return zero values and Err reports the failure.
type Cursor struct {
	b   []byte
	off int
	err error
}

// NewCursor positions a cursor just after the opcode byte.
func NewCursor(frame []byte) *Cursor {
	return NewCursorAt(frame, 1)
}

func NewCursorAt(b []byte, off int) *Cursor {
	return &Cursor{b: b, off: off}
}

func (c *Cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if c.off+n > len(c.b) {
		c.err = fmt.Errorf("%w: need %d bytes at offset %d of %d", net.ErrShortFrame, n, c.off, len(c.b))
		return false
	}
	return true
}

func (c *Cursor) U8() byte {
	if !c.need(1) {
		return 0
	}
	v := c.b[c.off]
	c.off++
	return v
}

func (c *Cursor) U16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(c.b[c.off:])
	c.off += 2
	return v
}

func (c *Cursor) U64() uint64 {
	if !c.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(c.b[c.off:])
	c.off += 8
	return v
}

// Bytes returns the next n bytes without copying.
func (c *Cursor) Bytes(n int) []byte {
	if !c.need(n) {
		return nil
	}
	v := c.b[c.off : c.off+n]
	c.off += n
	return v
}

// Rest returns everything after the cursor without copying.
func (c *Cursor) Rest() []byte {
	if c.err != nil || c.off >= len(c.b) {
		return nil
	}
	v := c.b[c.off:]
	c.off = len(c.b)
	return v
}

// CString reads up to and including a NUL terminator and returns the text
// before it. A missing terminator takes the rest of the frame.
func (c *Cursor) CString() string {
	if c.err != nil {
		return ""
	}
	for i := c.off; i < len(c.b); i++ {
		if c.b[i] == 0 {
			s := string(c.b[c.off:i])
			c.off = i + 1
			return s
		}
	}
	return string(c.Rest())
}

func (c *Cursor) Err() error {
	return c.err
}

// AppendU16 appends v big-endian.
func AppendU16(dst []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, v)
}

// AppendU64 appends v big-endian.
func AppendU64(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, v)
}

// SourceAddr builds the address of a received frame. A short address the
// radio reports as unknown is left disabled.
func SourceAddr(long uint64, short uint16) net.Address {
	a := net.LongAddr(long)
	if short != net.UnknownShort {
		a.ShortEnabled = true
		a.Short = short
	}
	return a
}
