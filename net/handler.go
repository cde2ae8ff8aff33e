package net

import (
	"errors"
	"sync"

	"github.com/lcx/xbee/fifo"
	"github.com/lcx/xbee/supervisor"
)

var (
	ErrShortFrame     = errors.New("net: frame too short")
	ErrUnknownSubtype = errors.New("net: unknown frame subtype")
	ErrDataTooLong    = errors.New("net: payload exceeds connection type limit")
)

// FrameAck is the frame-id acknowledgment carried by a decoded frame.
type FrameAck struct {
	Active bool
	ID     byte
	RetVal byte
}

// Decoded is filled in by a DecodeFunc. Packet is preallocated by the engine.
type Decoded struct {
	Addr   Address
	Packet *Packet
	Ack    FrameAck
}

// DecodeFunc parses one frame payload (opcode included) into d.
type DecodeFunc func(frame []byte, d *Decoded) error

// EncodeRequest carries everything an EncodeFunc needs to build a frame.
type EncodeRequest struct {
	Opcode   byte
	FrameID  byte
	Addr     Address
	Settings ConnSettings
	Data     []byte
}

// EncodeFunc builds a frame payload (opcode included) for a transmit.
type EncodeFunc func(req *EncodeRequest) ([]byte, error)

// HandlerDef binds one opcode to its decoder or encoder.
type HandlerDef struct {
	Opcode byte
	Name   string
	Decode DecodeFunc
	Encode EncodeFunc
}

// rawFrame is an undecoded frame waiting in a handler queue.
type rawFrame struct {
	b []byte
}

// handler is the live counterpart of a HandlerDef. Receive handlers own a
// queue drained by one lazily started, supervised worker.
type handler struct {
	def   *HandlerDef
	ctype *connType

	mu      sync.Mutex
	queue   *fifo.List[*rawFrame]
	worker  *supervisor.Worker
	started bool
	closed  bool
}

func newHandler(def *HandlerDef, queueLimit int) *handler {
	h := &handler{def: def}
	if def.Decode != nil {
		h.queue = fifo.New[*rawFrame](queueLimit)
	}
	return h
}

func (h *handler) isRx() bool {
	return h.def.Decode != nil
}

// enqueue hands a raw frame to the handler's worker, starting the worker on
// first use. A closed handler drops the frame.
func (h *handler) enqueue(frame []byte, start func(h *handler) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrNoMode
	}
	if err := h.queue.AddTail(&rawFrame{b: frame}); err != nil {
		return err
	}
	if !h.started {
		if err := start(h); err != nil {
			return err
		}
		h.started = true
	}
	return nil
}

// close stops further enqueues and returns the worker, if one was started.
func (h *handler) close() *supervisor.Worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return h.worker
}
