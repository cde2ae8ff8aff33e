package net

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lcx/xbee/fifo"
	"github.com/lcx/xbee/log"
	"github.com/lcx/xbee/metrics"
)

// ConnSettings are the per-connection transmit options.
type ConnSettings struct {
	// WaitForAck requests a transmit status from the radio and blocks Tx on it.
	WaitForAck bool
	// Broadcast sends to the broadcast address instead of the connection's.
	Broadcast bool
	// QueueChanges queues AT parameter changes instead of applying them.
	QueueChanges bool
	// DisableRetries turns off MAC level retries.
	DisableRetries bool
	// ExtendedTimeout asks the radio for its extended transmission timeout.
	ExtendedTimeout bool
	// BroadcastRadius limits broadcast hops; zero means the radio default.
	BroadcastRadius byte
	// CatchAll makes the connection receive frames no other connection matches.
	CatchAll bool
}

// DefaultConnSettings are applied by Connect.
func DefaultConnSettings() ConnSettings {
	return ConnSettings{WaitForAck: true}
}

// TxOption adjusts the settings of a single transmit.
type TxOption func(*ConnSettings)

// WithAck forces waiting for the transmit status.
func WithAck() TxOption {
	return func(s *ConnSettings) { s.WaitForAck = true }
}

// WithoutAck sends without requesting a transmit status.
func WithoutAck() TxOption {
	return func(s *ConnSettings) { s.WaitForAck = false }
}

// WithBroadcast sends this frame to the broadcast address.
func WithBroadcast() TxOption {
	return func(s *ConnSettings) { s.Broadcast = true }
}

// WithQueueChanges queues an AT change instead of applying it.
func WithQueueChanges(queue bool) TxOption {
	return func(s *ConnSettings) { s.QueueChanges = queue }
}

// Conn is one logical channel multiplexed over the link.
type Conn struct {
	id     ConnID
	engine *Engine
	ctype  *connType
	rt     *modeRuntime
	addr   Address
	logger *log.Logger

	mu       sync.Mutex
	settings ConnSettings
	sleeping bool
	wakeOnRx bool
	state    connState
	receiver PacketReceiver
	userData any

	rxq *fifo.List[*Packet]

	// acknowledged sends are serialized per connection
	txMu    sync.Mutex
	frameID atomic.Uint32

	delivery deliveryState
}

func (c *Conn) ID() ConnID { return c.id }

// Type returns the connection type name.
func (c *Conn) Type() string { return c.ctype.name() }

// Address returns the address the connection was created with.
func (c *Conn) Address() Address { return c.addr }

// Engine returns the engine that owns c.
func (c *Conn) Engine() *Engine { return c.engine }

func (c *Conn) String() string {
	return fmt.Sprintf("%s[%s] %s", c.ctype.name(), c.id, c.addr)
}

// Settings returns a copy of the current settings.
func (c *Conn) Settings() ConnSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SetSettings replaces the settings and returns the previous ones.
func (c *Conn) SetSettings(s ConnSettings) (ConnSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connActive {
		return c.settings, ErrConnEnded
	}
	old := c.settings
	c.settings = s
	return old, nil
}

func (c *Conn) catchAll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.CatchAll
}

// UserData returns the opaque value attached at Connect or SetUserData.
func (c *Conn) UserData() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userData
}

func (c *Conn) SetUserData(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userData = v
}

// Sleep parks the connection. A sleeping connection is not offered inbound
// frames unless wakeOnRx is set, in which case the first frame wakes it.
func (c *Conn) Sleep(wakeOnRx bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connActive {
		return ErrConnEnded
	}
	c.sleeping = true
	c.wakeOnRx = wakeOnRx
	return nil
}

// Wake returns a sleeping connection to normal operation. It fails with
// ErrConnExists while another awake connection holds the same address.
func (c *Conn) Wake() error {
	ct := c.ctype
	ct.connectMu.Lock()
	defer ct.connectMu.Unlock()
	if c.IsSleeping() {
		if other := ct.awakeMatch(c.addr); other != nil {
			return ErrConnExists
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connActive {
		return ErrConnEnded
	}
	c.sleeping = false
	c.wakeOnRx = false
	return nil
}

func (c *Conn) IsSleeping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeping
}

// acceptWhileSleeping wakes a sleeping connection that asked for it and
// reports whether an inbound frame may be queued.
func (c *Conn) acceptInbound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connActive {
		return false
	}
	if !c.sleeping {
		return true
	}
	if c.wakeOnRx {
		c.sleeping = false
		c.wakeOnRx = false
		return true
	}
	return false
}

// FrameID reports the frame id of the acknowledged send in flight, or 0.
func (c *Conn) FrameID() byte {
	return byte(c.frameID.Load())
}

// Rx returns the next queued packet. It fails with ErrCallbackActive while a
// receiver is attached and with ErrNoPacket when the queue is empty.
func (c *Conn) Rx() (*Packet, error) {
	if err := c.pollable(); err != nil {
		return nil, err
	}
	pkt, ok := c.rxq.ExtractHead()
	if !ok {
		return nil, ErrNoPacket
	}
	return pkt, nil
}

// RxWait blocks until a packet is queued or ctx is done.
func (c *Conn) RxWait(ctx context.Context) (*Packet, error) {
	if err := c.pollable(); err != nil {
		return nil, err
	}
	return c.rxq.PopWait(ctx)
}

// RxCount reports how many packets are queued.
func (c *Conn) RxCount() int {
	return c.rxq.Count()
}

func (c *Conn) pollable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connActive {
		return ErrConnEnded
	}
	if c.receiver != nil {
		return ErrCallbackActive
	}
	return nil
}

// Receiver returns the attached receiver, or nil.
func (c *Conn) Receiver() PacketReceiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receiver
}

// SetReceiver attaches r, or detaches with nil. Packets already queued are
// delivered to a newly attached receiver.
func (c *Conn) SetReceiver(r PacketReceiver) error {
	c.mu.Lock()
	if c.state != connActive {
		c.mu.Unlock()
		return ErrConnEnded
	}
	c.receiver = r
	c.mu.Unlock()

	if r != nil && c.rxq.Count() > 0 {
		c.triggerDelivery()
	}
	return nil
}

// queueInbound appends pkt to the inbound queue and kicks the delivery worker.
func (c *Conn) queueInbound(pkt *Packet) error {
	if err := c.rxq.AddTail(pkt); err != nil {
		metrics.IncrCounterWithDimGroup("net.rx", "conn_queue_full_total", 1, metrics.Dimension{"type": c.ctype.name()})
		return err
	}
	if c.Receiver() != nil {
		c.triggerDelivery()
	}
	return nil
}

// End unlinks the connection and releases it. When a delivery worker is
// running the release is deferred until the worker exits.
func (c *Conn) End() error {
	c.mu.Lock()
	if c.state != connActive {
		c.mu.Unlock()
		return ErrConnEnded
	}
	c.mu.Unlock()

	// unlink before anything is released
	if !c.ctype.conns.Remove(c) {
		return ErrConnEnded
	}

	c.mu.Lock()
	ev := evEnd
	if c.delivery.running {
		ev = evEndBusy
	}
	next, release, err := nextConnState(c.state, ev)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	c.mu.Unlock()

	if release {
		c.free()
	} else {
		c.delivery.signal()
		c.logger.Debug().Msg("end deferred until delivery worker exits")
	}
	return nil
}

// free releases everything the connection holds. The connection is already
// unlinked from its type.
func (c *Conn) free() {
	for _, pkt := range c.rxq.Drain() {
		pkt.Release()
	}
	c.engine.conns.release(c.id)
	metrics.UpdateGaugeWithDimGroup("net", "connections", metrics.Value(c.ctype.conns.Count()), metrics.Dimension{"type": c.ctype.name()})
	c.logger.Debug().Msg("connection freed")
}

// Done reports whether the connection has been fully released.
func (c *Conn) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == connFreed
}

// Tx encodes data for this connection and writes it to the link. With
// WaitForAck the call blocks until the radio reports the transmit status;
// a negative status is returned as *TxError.
func (c *Conn) Tx(ctx context.Context, data []byte, opts ...TxOption) error {
	settings := c.Settings()
	for _, opt := range opts {
		opt(&settings)
	}
	return c.engine.transmit(ctx, c, data, settings)
}

// TxString is Tx for text payloads.
func (c *Conn) TxString(ctx context.Context, s string, opts ...TxOption) error {
	return c.Tx(ctx, []byte(s), opts...)
}

// IsTxError reports whether err is a negative acknowledgment and returns its status.
func IsTxError(err error) (byte, bool) {
	var te *TxError
	if errors.As(err, &te) {
		return te.Status, true
	}
	return 0, false
}
