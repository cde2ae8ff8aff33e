package net

import (
	"context"
	"fmt"
	"time"

	"github.com/lcx/xbee/metrics"
	"github.com/lcx/xbee/supervisor"
)

// rxRoutine is the single link reader. Frames are routed by opcode to the
// handler workers; transport failures escalate to a bounded reopen.
func (e *Engine) rxRoutine(ctx context.Context) error {
	newReader := func() *FrameReader {
		cfg := e.config()
		lr := &linkReader{
			ctx:        ctx,
			t:          e.transport,
			maxRetries: cfg.MaxReadRetries,
			idle:       time.Duration(cfg.ReadIdleMs) * time.Millisecond,
			onRetry: func(err error) {
				metrics.IncrCounterWithGroup("net.rx", "read_retry_total", 1)
			},
		}
		fr := NewFrameReader(lr, Limits{MaxPayload: cfg.MaxPayload})
		fr.OnDiscard = e.discarded
		return fr
	}

	fr := newReader()
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || e.closed.Load() {
				return nil
			}
			if err := e.reopenLink(ctx, err); err != nil {
				return err
			}
			fr = newReader()
			continue
		}
		metrics.IncrCounterWithGroup("net.rx", "frames_total", 1)
		e.routeFrame(payload)
	}
}

func (e *Engine) discarded(reason DiscardReason) {
	e.logger.Debug().Str("reason", string(reason)).Msg("frame discarded")
	metrics.IncrCounterWithDimGroup("net.rx", "frames_discarded_total", 1, metrics.Dimension{"reason": string(reason)})
	if e.onDiscard != nil {
		e.onDiscard(reason)
	}
}

// reopenLink tries to re-establish the transport a bounded number of times.
func (e *Engine) reopenLink(ctx context.Context, cause error) error {
	r, ok := e.transport.(Reopener)
	if !ok {
		e.logger.Error().Err(cause).Msg("link failed and transport cannot reopen")
		metrics.IncrCounterWithGroup("net", "link_dead_total", 1)
		return fmt.Errorf("%w: %v", ErrLinkDead, cause)
	}

	cfg := e.config()
	e.logger.Warn().Err(cause).Msg("link read failed, reopening")
	for attempt := 1; attempt <= cfg.MaxReopen; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(NextBackoffDelay(cfg.ReopenBackoff, attempt, e.rng)):
		}
		err := r.Reopen()
		if err == nil {
			e.logger.Info().Int("attempt", attempt).Msg("link reopened")
			metrics.IncrCounterWithGroup("net", "link_reopen_total", 1)
			return nil
		}
		e.logger.Warn().Err(err).Int("attempt", attempt).Msg("link reopen failed")
	}
	e.logger.Error().Err(cause).Int("attempts", cfg.MaxReopen).Msg("link dead")
	metrics.IncrCounterWithGroup("net", "link_dead_total", 1)
	return fmt.Errorf("%w: %v", ErrLinkDead, cause)
}

// routeFrame hands a frame to the worker of the handler bound to its opcode.
func (e *Engine) routeFrame(payload []byte) {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()

	rt := e.mode.Load()
	if rt == nil {
		e.dropFrame("no_mode", payload[0])
		return
	}
	h, ok := rt.rx[payload[0]]
	if !ok {
		e.dropFrame("unknown_opcode", payload[0])
		return
	}
	frame := append([]byte(nil), payload...)
	if err := h.enqueue(frame, e.startHandler); err != nil {
		e.logger.Warn().Err(err).Str("handler", h.def.Name).Msg("handler queue rejected frame")
		e.dropFrame("handler_queue", payload[0])
	}
}

func (e *Engine) dropFrame(reason string, opcode byte) {
	e.logger.Debug().Str("reason", reason).Str("opcode", Op(opcode).String()).Msg("frame dropped")
	metrics.IncrCounterWithDimGroup("net.rx", "frames_dropped_total", 1, metrics.Dimension{"reason": reason})
}

// startHandler registers the handler's worker with the supervisor. Called
// with h.mu held, at most once per handler.
func (e *Engine) startHandler(h *handler) error {
	w := &supervisor.Worker{
		Name: "handler " + h.def.Name,
		Key:  h,
		Routine: func(ctx context.Context) error {
			return e.handlerLoop(ctx, h)
		},
	}
	if err := e.sup.Add(w); err != nil {
		return err
	}
	h.worker = w
	return nil
}

func (e *Engine) handlerLoop(ctx context.Context, h *handler) error {
	for {
		frame, err := h.queue.PopWait(ctx)
		if err != nil {
			return nil
		}
		e.processFrame(h, frame.b)
	}
}

// processFrame decodes one frame and queues the packet on its connection.
func (e *Engine) processFrame(h *handler, frame []byte) {
	start := time.Now()
	ct := h.ctype

	pkt := AcquirePacket()
	d := Decoded{Packet: pkt}
	if err := h.def.Decode(frame, &d); err != nil {
		e.logger.Debug().Err(err).Str("handler", h.def.Name).Int("len", len(frame)).Msg("decode failed")
		metrics.IncrCounterWithDimGroup("net.rx", "decode_error_total", 1, metrics.Dimension{"handler": h.def.Name})
		pkt.Release()
		return
	}
	defer metrics.RecordStopwatchWithDimGroup("net.rx", "process_time", start, metrics.Dimension{"handler": h.def.Name})

	if d.Ack.Active && d.Ack.ID != 0 {
		if !e.frameIDs.Deliver(d.Ack.ID, d.Ack.RetVal) {
			e.logger.Debug().Int("frameID", int(d.Ack.ID)).Msg("acknowledgment for unowned frame id")
		}
	}

	if ct.def.Addr != AddrNone && !d.Addr.HasAddr() {
		e.discardPacket(pkt, ct, d.Addr, "no_address")
		return
	}

	c := ct.resolve(d.Addr)
	if c == nil {
		e.discardPacket(pkt, ct, d.Addr, "no_connection")
		return
	}
	if !c.acceptInbound() {
		e.discardPacket(pkt, ct, d.Addr, "sleeping")
		return
	}

	pkt.ConnType = ct.name()
	pkt.Address = d.Addr
	if pkt.Timestamp.IsZero() {
		pkt.Timestamp = time.Now()
	}
	if err := c.queueInbound(pkt); err != nil {
		e.discardPacket(pkt, ct, d.Addr, "queue_full")
		return
	}
	metrics.IncrCounterWithDimGroup("net.rx", "packets_total", 1, metrics.Dimension{"type": ct.name()})
}

func (e *Engine) discardPacket(pkt *Packet, ct *connType, addr Address, reason string) {
	e.logger.Debug().Str("connType", ct.name()).Str("reason", reason).Str("addr", addr.String()).Msg("packet discarded")
	metrics.IncrCounterWithDimGroup("net.rx", "packets_discarded_total", 1, metrics.Dimension{"reason": reason})
	pkt.Release()
}
