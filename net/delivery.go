package net

import (
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/lcx/xbee/metrics"
)

// Disposition tells the engine what to do with a packet after a receiver
// has seen it.
type Disposition int

const (
	// Release returns the packet to the pool.
	Release Disposition = iota
	// Retain transfers ownership to the receiver, which calls Packet.Release
	// when done.
	Retain
)

func (d Disposition) String() string {
	switch d {
	case Release:
		return "release"
	case Retain:
		return "retain"
	}
	return "unknown"
}

// PacketReceiver consumes packets delivered asynchronously to a connection.
// Calls for one connection are serialized and arrive in queue order.
type PacketReceiver interface {
	OnRecvPacket(c *Conn, pkt *Packet) Disposition
}

// ReceiverFunc adapts a function to PacketReceiver.
type ReceiverFunc func(c *Conn, pkt *Packet) Disposition

func (f ReceiverFunc) OnRecvPacket(c *Conn, pkt *Packet) Disposition {
	return f(c, pkt)
}

// deliveryState is guarded by Conn.mu except for wake, which is a
// single-slot notification channel.
type deliveryState struct {
	running bool
	wake    chan struct{}
	done    chan struct{}
}

func (d *deliveryState) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// triggerDelivery starts the delivery worker if it is not running, or nudges
// the running one.
func (c *Conn) triggerDelivery() {
	c.mu.Lock()
	if c.delivery.running || c.state != connActive || c.receiver == nil {
		c.mu.Unlock()
		c.delivery.signal()
		return
	}
	c.delivery.running = true
	c.delivery.done = make(chan struct{})
	done := c.delivery.done
	c.mu.Unlock()

	metrics.IncrCounterWithGroup("net.delivery", "worker_start_total", 1)
	go c.deliveryLoop(done)
}

// waitDelivery blocks until any running delivery worker has exited.
func (c *Conn) waitDelivery() {
	c.mu.Lock()
	running, done := c.delivery.running, c.delivery.done
	c.mu.Unlock()
	if running && done != nil {
		<-done
	}
}

func (c *Conn) deliveryLoop(done chan struct{}) {
	cfg := c.engine.config()
	idle := time.Duration(cfg.DeliveryIdleTimeoutMs) * time.Millisecond
	retry := time.Duration(cfg.SpuriousRetryMs) * time.Millisecond
	timer := time.NewTimer(idle)
	defer timer.Stop()

	spurious := false
	for {
		if c.stopDelivering() {
			if c.finishDelivery(done) {
				return
			}
			continue
		}
		pkt, ok := c.rxq.ExtractHead()
		if !ok {
			wait := idle
			if spurious {
				wait = retry
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-c.delivery.wake:
				spurious = c.rxq.Count() == 0
				continue
			case <-c.engine.ctx.Done():
			case <-timer.C:
				if spurious {
					spurious = false
					continue
				}
			}
			if c.finishDelivery(done) {
				return
			}
			continue
		}
		spurious = false

		r := c.Receiver()
		if r == nil {
			// detached mid-flight: leave the packet for Rx
			if err := c.rxq.AddHead(pkt); err != nil {
				pkt.Release()
			}
			if c.finishDelivery(done) {
				return
			}
			continue
		}
		c.deliver(r, pkt)
	}
}

func (c *Conn) stopDelivering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != connActive || c.engine.ctx.Err() != nil
}

func (c *Conn) deliver(r PacketReceiver, pkt *Packet) {
	var disp Disposition
	var pc panics.Catcher
	pc.Try(func() {
		disp = r.OnRecvPacket(c, pkt)
	})
	if rec := pc.Recovered(); rec != nil {
		c.logger.Error().Err(rec.AsError()).Msg("receiver panicked, packet dropped")
		metrics.IncrCounterWithDimGroup("net.delivery", "receiver_panic_total", 1, metrics.Dimension{"type": c.ctype.name()})
		return
	}
	metrics.IncrCounterWithDimGroup("net.delivery", "packets_total", 1, metrics.Dimension{"type": c.ctype.name()})

	switch disp {
	case Release:
		pkt.Release()
	case Retain:
	default:
		c.logger.Warn().Int("disposition", int(disp)).Msg("unknown packet disposition, packet not released")
	}
}

// finishDelivery marks the worker stopped unless more work arrived in the
// meantime. It reports whether the worker may exit; on exit it completes a
// deferred End.
func (c *Conn) finishDelivery(done chan struct{}) bool {
	c.mu.Lock()
	if c.state == connActive && c.receiver != nil && c.rxq.Count() > 0 && c.engine.ctx.Err() == nil {
		c.mu.Unlock()
		return false
	}
	c.delivery.running = false
	next, release, _ := nextConnState(c.state, evWorkerExit)
	c.state = next
	c.mu.Unlock()

	close(done)
	if release {
		c.free()
	}
	return true
}
