package net

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lcx/xbee/log"
	"github.com/lcx/xbee/supervisor"
)

const (
	testModeName  = "testmode"
	testMode2Name = "testmode2"

	opDataRx   byte = 0x90
	opDataRx2  byte = 0x91
	opDataTx   byte = 0x01
	opTxStatus byte = 0x89
	opLocalTx  byte = 0x08
	opLocalRx  byte = 0x88
)

func init() {
	MustRegisterMode(&Mode{
		Name: testModeName,
		Handlers: []HandlerDef{
			{Opcode: opDataRx, Name: "data rx", Decode: decodeTestData},
			{Opcode: opDataTx, Name: "data tx", Encode: encodeTestData},
			{Opcode: opTxStatus, Name: "tx status", Decode: decodeTestStatus},
			{Opcode: opLocalRx, Name: "local at rx", Decode: decodeTestLocal},
			{Opcode: opLocalTx, Name: "local at tx", Encode: encodeTestLocal},
		},
		ConnTypes: []ConnTypeDef{
			{Name: "Data", RxID: Op(opDataRx), TxID: Op(opDataTx), Addr: AddrAny, MaxData: 100},
			{Name: "Transmit Status", RxID: Op(opTxStatus), Addr: AddrNone},
			{Name: "Local AT", RxID: Op(opLocalRx), TxID: Op(opLocalTx), Addr: AddrNone},
		},
	})
	MustRegisterMode(&Mode{
		Name: testMode2Name,
		Handlers: []HandlerDef{
			{Opcode: opDataRx2, Name: "data rx", Decode: decodeTestData},
			{Opcode: opDataTx, Name: "data tx", Encode: encodeTestData},
		},
		ConnTypes: []ConnTypeDef{
			{Name: "Data", RxID: Op(opDataRx2), TxID: Op(opDataTx), Addr: AddrAny},
		},
	})
}

// [op, addr hi, addr lo, data...]
func decodeTestData(frame []byte, d *Decoded) error {
	if len(frame) < 3 {
		return ErrShortFrame
	}
	d.Addr = ShortAddr(uint16(frame[1])<<8 | uint16(frame[2]))
	d.Packet.Data = append(d.Packet.Data[:0], frame[3:]...)
	return nil
}

// [op, frame id, status]
func decodeTestStatus(frame []byte, d *Decoded) error {
	if len(frame) < 3 {
		return ErrShortFrame
	}
	d.Ack = FrameAck{Active: true, ID: frame[1], RetVal: frame[2]}
	d.Packet.FrameID = frame[1]
	d.Packet.Status = frame[2]
	return nil
}

// [op, frame id, cmd, cmd, status, data...]
func decodeTestLocal(frame []byte, d *Decoded) error {
	if len(frame) < 5 {
		return ErrShortFrame
	}
	d.Ack = FrameAck{Active: true, ID: frame[1], RetVal: frame[4]}
	d.Packet.FrameID = frame[1]
	d.Packet.ATCommand = string(frame[2:4])
	d.Packet.Status = frame[4]
	d.Packet.Data = append(d.Packet.Data[:0], frame[5:]...)
	return nil
}

func encodeTestData(req *EncodeRequest) ([]byte, error) {
	dst := req.Addr.Short
	if req.Settings.Broadcast {
		dst = BroadcastShort
	}
	out := []byte{req.Opcode, req.FrameID, byte(dst >> 8), byte(dst)}
	return append(out, req.Data...), nil
}

func encodeTestLocal(req *EncodeRequest) ([]byte, error) {
	if len(req.Data) < 2 {
		return nil, ErrShortFrame
	}
	return append([]byte{req.Opcode, req.FrameID}, req.Data...), nil
}

type pipeLink struct {
	io.Reader
	io.Writer
	closers []io.Closer
}

func (l *pipeLink) Close() error {
	for _, c := range l.closers {
		_ = c.Close()
	}
	return nil
}

// fakeRadio sits on the far side of a pipe pair. Frames written by the
// engine appear on sent; inject writes frames towards the engine.
type fakeRadio struct {
	mu     sync.Mutex
	toHost *io.PipeWriter
	sent   chan []byte

	autoAck   atomic.Bool
	ackStatus atomic.Uint32
}

func (r *fakeRadio) inject(payload ...byte) error {
	wire, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	return r.injectRaw(wire)
}

func (r *fakeRadio) injectRaw(wire []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.toHost.Write(wire)
	return err
}

func (r *fakeRadio) next(t *testing.T) []byte {
	t.Helper()
	select {
	case f, ok := <-r.sent:
		require.True(t, ok, "radio link closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written by engine")
	}
	return nil
}

func (r *fakeRadio) run(from io.Reader) {
	fr := NewFrameReader(from, DefaultLimits())
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			close(r.sent)
			return
		}
		frame := append([]byte(nil), payload...)
		if r.autoAck.Load() && len(frame) > 1 && frame[1] != 0 {
			status := byte(r.ackStatus.Load())
			switch frame[0] {
			case opDataTx:
				_ = r.inject(opTxStatus, frame[1], status)
			case opLocalTx:
				reply := []byte{opLocalRx, frame[1], frame[2], frame[3], status}
				_ = r.inject(reply...)
			}
		}
		r.sent <- frame
	}
}

func testEngineCfg() *EngineCfg {
	cfg := DefaultEngineCfg()
	cfg.Mode = testModeName
	cfg.AckTimeoutMs = 300
	cfg.DeliveryIdleTimeoutMs = 100
	cfg.Supervisor = supervisor.Config{IntervalMs: 10}
	return cfg
}

// syncBuffer is a bytes.Buffer safe for the engine's concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() *log.Logger {
	return log.NewLoggerWithWriter(io.Discard, -1)
}

func newTestEngine(t *testing.T, cfg *EngineCfg, opts ...Option) (*Engine, *fakeRadio) {
	t.Helper()
	if cfg == nil {
		cfg = testEngineCfg()
	}
	hostR, radioW := io.Pipe()
	radioR, hostW := io.Pipe()
	radio := &fakeRadio{toHost: radioW, sent: make(chan []byte, 1024)}
	go radio.run(radioR)

	link := &pipeLink{Reader: hostR, Writer: hostW, closers: []io.Closer{hostR, hostW}}
	opened := false
	transport, err := NewStreamTransport(func() (io.ReadWriteCloser, error) {
		if opened {
			return nil, errors.New("pipe cannot be reopened")
		}
		opened = true
		return link, nil
	})
	require.NoError(t, err)

	e, err := Open(cfg, transport, append([]Option{WithLogger(testLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Close()
		_ = radioW.Close()
	})
	return e, radio
}

// scriptedTransport serves one script per open; Reopen moves to the next.
type scriptedTransport struct {
	mu      sync.Mutex
	scripts [][]byte
	cur     *bytes.Reader
	reopens int
	closed  bool
}

func newScriptedTransport(scripts ...[]byte) *scriptedTransport {
	t := &scriptedTransport{scripts: scripts, cur: bytes.NewReader(nil)}
	if len(scripts) > 0 {
		t.cur = bytes.NewReader(scripts[0])
		t.scripts = scripts[1:]
	}
	return t
}

func (t *scriptedTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, os.ErrClosed
	}
	return t.cur.Read(p)
}

func (t *scriptedTransport) Write(p []byte) (int, error) {
	return len(p), nil
}

func (t *scriptedTransport) Reopen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.scripts) == 0 {
		return errors.New("no more scripts")
	}
	t.cur = bytes.NewReader(t.scripts[0])
	t.scripts = t.scripts[1:]
	t.reopens++
	return nil
}

func (t *scriptedTransport) Reopens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reopens
}

func (t *scriptedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func mustFrame(t *testing.T, payload ...byte) []byte {
	t.Helper()
	wire, err := EncodeFrame(payload)
	require.NoError(t, err)
	return wire
}
