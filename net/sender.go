package net

import (
	"context"
	"fmt"
	"time"

	"github.com/lcx/xbee/metrics"
)

// outFrame is one encoded frame waiting for the writer.
type outFrame struct {
	data    []byte
	frameID byte
	done    chan error
}

// transmit runs a send request end to end: frame id, encode, queue, write
// and, when asked for, the acknowledgment wait.
func (e *Engine) transmit(ctx context.Context, c *Conn, data []byte, s ConnSettings) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	start := time.Now()
	wantAck := s.WaitForAck

	var id byte
	if wantAck {
		c.txMu.Lock()
		defer c.txMu.Unlock()

		var err error
		id, err = e.frameIDs.Alloc(c.id)
		if err != nil {
			// degrade to an unacknowledged send
			c.logger.Warn().Err(err).Msg("no frame id available, sending without acknowledgment")
			metrics.IncrCounterWithGroup("net.tx", "frame_id_exhausted_total", 1)
			wantAck = false
		} else {
			c.frameID.Store(uint32(id))
			defer c.frameID.Store(0)
		}
	}

	out, err := e.encodeAndQueue(c, id, data, s)
	if err != nil {
		e.frameIDs.Release(id)
		metrics.IncrCounterWithDimGroup("net.tx", "encode_error_total", 1, metrics.Dimension{"type": c.ctype.name()})
		return err
	}

	select {
	case err = <-out.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		e.frameIDs.Release(id)
		return err
	}
	if !wantAck {
		metrics.RecordStopwatchWithDimGroup("net.tx", "tx_time", start, metrics.Dimension{"ack": "false"})
		return nil
	}

	retVal, err := e.frameIDs.Wait(id, time.Duration(e.config().AckTimeoutMs)*time.Millisecond)
	metrics.RecordStopwatchWithDimGroup("net.tx", "tx_time", start, metrics.Dimension{"ack": "true"})
	if err != nil {
		metrics.IncrCounterWithDimGroup("net.tx", "ack_timeout_total", 1, metrics.Dimension{"type": c.ctype.name()})
		c.logger.Debug().Int("frameID", int(id)).Msg("acknowledgment timed out")
		return err
	}
	if retVal != 0 {
		metrics.IncrCounterWithDimGroup("net.tx", "nack_total", 1, metrics.Dimension{"type": c.ctype.name()})
		return &TxError{FrameID: id, Status: retVal}
	}
	return nil
}

func (e *Engine) encodeAndQueue(c *Conn, id byte, data []byte, s ConnSettings) (*outFrame, error) {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()

	rt := e.mode.Load()
	if rt == nil {
		return nil, ErrNoMode
	}
	if c.rt != rt {
		return nil, ErrConnEnded
	}
	c.mu.Lock()
	active := c.state == connActive
	c.mu.Unlock()
	if !active {
		return nil, ErrConnEnded
	}

	h := c.ctype.tx
	if h == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoEncoder, c.ctype.name())
	}
	if max := c.ctype.def.MaxData; max > 0 && len(data) > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrDataTooLong, len(data), max)
	}

	payload, err := h.def.Encode(&EncodeRequest{
		Opcode:   h.def.Opcode,
		FrameID:  id,
		Addr:     c.addr,
		Settings: s,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", h.def.Name, err)
	}
	wire, err := EncodeFrame(payload)
	if err != nil {
		return nil, err
	}

	out := &outFrame{data: wire, frameID: id, done: make(chan error, 1)}
	if err := e.txq.AddTail(out); err != nil {
		metrics.IncrCounterWithGroup("net.tx", "queue_full_total", 1)
		return nil, err
	}
	metrics.UpdateGaugeWithGroup("net.tx", "queue_length", metrics.Value(e.txq.Count()))
	return out, nil
}

// txRoutine is the single writer: frames reach the link in queue order.
func (e *Engine) txRoutine(ctx context.Context) error {
	for {
		out, err := e.txq.PopWait(ctx)
		if err != nil {
			return nil
		}
		if err := e.limiter.Take(ctx); err != nil {
			out.done <- ErrEngineClosed
			return nil
		}

		_, err = e.transport.Write(out.data)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrTransport, err)
			e.logger.Warn().Err(err).Int("bytes", len(out.data)).Msg("link write failed")
			metrics.IncrCounterWithGroup("net.tx", "write_error_total", 1)
		} else {
			metrics.IncrCounterWithGroup("net.tx", "frames_total", 1)
		}
		out.done <- err
	}
}

// failQueued completes every queued frame with err.
func (e *Engine) failQueued(err error) {
	for _, out := range e.txq.Drain() {
		out.done <- err
	}
}
