package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lcx/xbee/net"
)

// MaxRecordSize bounds a single record read from a stream.
const MaxRecordSize = 1 << 20

// Writer appends varint length-delimited records to w.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes p and writes it as one record.
func (w *Writer) Write(p *net.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, err := Encode(p, w.buf[:0])
	if err != nil {
		return err
	}
	w.buf = rec

	out := protowire.AppendVarint(make([]byte, 0, len(rec)+binary.MaxVarintLen64), uint64(len(rec)))
	out = append(out, rec...)
	_, err = w.w.Write(out)
	return err
}

// Reader reads records written by Writer.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read decodes the next record into p. It returns io.EOF at a clean end of
// stream and io.ErrUnexpectedEOF on a truncated record.
func (r *Reader) Read(p *net.Packet) error {
	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		return err
	}
	if size > MaxRecordSize {
		return fmt.Errorf("%w: record of %d bytes", errMalformed, size)
	}
	if cap(r.buf) < int(size) {
		r.buf = make([]byte, size)
	}
	r.buf = r.buf[:size]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return Decode(p, r.buf)
}
