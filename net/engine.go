package net

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/lcx/xbee/config"
	"github.com/lcx/xbee/fifo"
	"github.com/lcx/xbee/log"
	"github.com/lcx/xbee/metrics"
	"github.com/lcx/xbee/supervisor"
)

// Engine drives one radio link: a supervised reader, a single writer, the
// active mode and its connections.
type Engine struct {
	id        string
	cfg       atomic.Pointer[EngineCfg]
	transport ByteTransport
	logger    *log.Logger
	sup       *supervisor.Supervisor
	cm        config.ConfigManager
	onDiscard func(reason DiscardReason)

	ctx    context.Context
	cancel context.CancelFunc

	// modeMu is held shared while a frame is routed or encoded, exclusively
	// while the active mode is swapped out. setModeMu serializes SetMode.
	modeMu    sync.RWMutex
	setModeMu sync.Mutex
	mode      atomic.Pointer[modeRuntime]

	conns    connArena
	frameIDs *FrameIDTracker
	txq      *fifo.List[*outFrame]
	limiter  *TxLimiter
	rng      *rand.Rand

	rxWorker *supervisor.Worker
	txWorker *supervisor.Worker

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _defaultEngine atomic.Pointer[Engine]

// Default returns the engine installed with SetDefault, or nil.
func Default() *Engine {
	return _defaultEngine.Load()
}

// SetDefault installs e as the process default engine.
func SetDefault(e *Engine) {
	_defaultEngine.Store(e)
}

// Open starts an engine over transport. The engine owns transport from here
// on and closes it in Close, also when Open fails.
func Open(cfg *EngineCfg, transport ByteTransport, opts ...Option) (*Engine, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrInvalidParam)
	}
	if cfg == nil {
		cfg = DefaultEngineCfg()
	}
	if err := cfg.Validate(); err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	cfg = cfg.withDefaults()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.supervisorCfg != nil {
		cfg.Supervisor = *o.supervisorCfg
	}
	if o.mode != "" {
		cfg.Mode = o.mode
	}

	e := &Engine{
		id:        uuid.NewString(),
		transport: transport,
		cm:        o.configManager,
		onDiscard: o.onDiscard,
		frameIDs:  NewFrameIDTracker(),
		txq:       fifo.New[*outFrame](cfg.TxQueueLimit),
		limiter:   NewTxLimiter(cfg.TxRateLimit, cfg.TxBurst),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	e.cfg.Store(cfg)
	e.logger = o.logger.With("engine", e.id)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.sup = supervisor.New(&cfg.Supervisor, e.logger)

	e.rxWorker = &supervisor.Worker{Name: "rx", Key: "rx", Routine: e.rxRoutine}
	e.txWorker = &supervisor.Worker{Name: "tx", Key: "tx", Routine: e.txRoutine}
	for _, w := range []*supervisor.Worker{e.rxWorker, e.txWorker} {
		if err := e.sup.Add(w); err != nil {
			_ = e.Close()
			return nil, err
		}
	}
	e.sup.Start()

	if cfg.Mode != "" {
		if err := e.SetMode(cfg.Mode); err != nil {
			_ = e.Close()
			return nil, err
		}
	}
	if e.cm != nil {
		e.cm.AddChangeListener(e)
	}

	e.logger.Info().Str("mode", e.Mode()).Msg("engine opened")
	metrics.IncrCounterWithGroup("net", "engine_open_total", 1)
	return e, nil
}

// OpenWithConfigManager loads the "engine" configuration, builds the
// configured link and opens an engine subscribed to hot-reloads.
func OpenWithConfigManager(cm config.ConfigManager, opts ...Option) (*Engine, error) {
	if cm == nil {
		return nil, errors.New("configManager cannot be nil")
	}
	cfg := DefaultEngineCfg()
	if err := cm.LoadConfig("engine", cfg); err != nil {
		return nil, fmt.Errorf("failed to load engine config: %w", err)
	}

	var (
		transport ByteTransport
		err       error
	)
	switch strings.ToLower(cfg.Link) {
	case LinkTCP:
		transport, err = NewTCPTransportWithConfigManager(cm)
	default:
		transport, err = NewSerialTransportWithConfigManager(cm)
	}
	if err != nil {
		return nil, err
	}
	return Open(cfg, transport, append(opts, WithConfigManager(cm))...)
}

// ID is a random identifier tagged onto every log line of the engine.
func (e *Engine) ID() string { return e.id }

func (e *Engine) Logger() *log.Logger { return e.logger }

func (e *Engine) config() *EngineCfg {
	return e.cfg.Load()
}

// FrameIDs exposes the acknowledgment tracker.
func (e *Engine) FrameIDs() *FrameIDTracker { return e.frameIDs }

// Mode returns the name of the active mode, or "" if none.
func (e *Engine) Mode() string {
	rt := e.mode.Load()
	if rt == nil {
		return ""
	}
	return rt.mode.Name
}

// SetMode activates the named mode. The new mode is built before anything
// changes; on failure the current mode stays active. Connections of the old
// mode are ended and its handler workers joined before the new mode is
// installed.
func (e *Engine) SetMode(name string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	m, err := LookupMode(name)
	if err != nil {
		return err
	}
	rt, err := buildMode(m, e.config().HandlerQueueLimit, e.logger)
	if err != nil {
		return err
	}

	e.setModeMu.Lock()
	defer e.setModeMu.Unlock()

	old := e.detachMode()
	if old != nil {
		e.teardownMode(old)
	}
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.modeMu.Lock()
	e.mode.Store(rt)
	e.modeMu.Unlock()

	e.logger.Info().Str("mode", rt.mode.Name).Int("connTypes", len(rt.types)).Int("handlers", len(rt.handlers)).Msg("mode activated")
	metrics.IncrCounterWithDimGroup("net", "mode_switch_total", 1, metrics.Dimension{"mode": strings.ToLower(rt.mode.Name)})
	return nil
}

// detachMode makes the active mode unreachable to routing and transmit and
// stops its handlers from accepting frames.
func (e *Engine) detachMode() *modeRuntime {
	e.modeMu.Lock()
	defer e.modeMu.Unlock()
	old := e.mode.Swap(nil)
	if old != nil {
		for _, h := range old.handlers {
			h.close()
		}
	}
	return old
}

func (e *Engine) teardownMode(old *modeRuntime) {
	for _, h := range old.handlers {
		if h.worker == nil {
			continue
		}
		if _, err := e.sup.Remove(h.worker); err != nil && !errors.Is(err, supervisor.ErrNotRegistered) {
			e.logger.Warn().Err(err).Str("handler", h.def.Name).Msg("handler worker removal failed")
		}
		h.queue.Drain()
	}

	var ended []*Conn
	for _, ct := range old.types {
		var all []*Conn
		ct.conns.Each(func(c *Conn) bool {
			all = append(all, c)
			return true
		})
		for _, c := range all {
			if err := c.End(); err == nil {
				ended = append(ended, c)
			}
		}
	}
	for _, c := range ended {
		c.waitDelivery()
	}
	if len(ended) > 0 {
		e.logger.Debug().Str("mode", old.mode.Name).Int("conns", len(ended)).Msg("connections ended with mode")
	}
}

// Connect creates a connection of the named type in the active mode. When an
// awake connection with a matching address exists it is returned together
// with ErrConnExists.
func (e *Engine) Connect(typeName string, addr Address, userData any) (*Conn, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	e.modeMu.RLock()
	defer e.modeMu.RUnlock()
	rt := e.mode.Load()
	if rt == nil {
		return nil, ErrNoMode
	}
	ct, err := rt.connType(typeName)
	if err != nil {
		return nil, err
	}
	if !ct.initialized() {
		return nil, fmt.Errorf("%w: %q has no handlers", ErrUnknownConnType, ct.name())
	}
	if err := ct.def.Validate(addr); err != nil {
		return nil, err
	}

	ct.connectMu.Lock()
	defer ct.connectMu.Unlock()
	if existing := ct.awakeMatch(addr); existing != nil {
		return existing, ErrConnExists
	}

	c := &Conn{
		engine:   e,
		ctype:    ct,
		rt:       rt,
		addr:     addr,
		settings: DefaultConnSettings(),
		userData: userData,
		rxq:      fifo.New[*Packet](e.config().RxQueueLimit),
		delivery: deliveryState{wake: make(chan struct{}, 1)},
	}
	c.id = e.conns.alloc(c)
	c.logger = e.logger.With("conn", c.id.String()).With("connType", ct.name())
	if err := ct.conns.AddTail(c); err != nil {
		e.conns.release(c.id)
		return nil, err
	}

	c.logger.Debug().Str("addr", addr.String()).Msg("connection created")
	metrics.UpdateGaugeWithDimGroup("net", "connections", metrics.Value(ct.conns.Count()), metrics.Dimension{"type": ct.name()})
	return c, nil
}

// Conn resolves a connection handle. Handles of freed connections return nil.
func (e *Engine) Conn(id ConnID) *Conn {
	return e.conns.get(id)
}

// Conns returns the connections of the active mode.
func (e *Engine) Conns() []*Conn {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()
	rt := e.mode.Load()
	if rt == nil {
		return nil
	}
	var out []*Conn
	for _, ct := range rt.types {
		ct.conns.Each(func(c *Conn) bool {
			out = append(out, c)
			return true
		})
	}
	return out
}

// Close stops every worker, ends all connections and closes the transport.
// Calling Close again returns the first result.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.cm != nil {
			e.cm.RemoveChangeListener(e)
		}

		var result *multierror.Error
		e.cancel()
		// unblocks a reader stuck in the transport
		if err := e.transport.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close transport: %w", err))
		}
		e.sup.Stop()

		e.setModeMu.Lock()
		if old := e.detachMode(); old != nil {
			e.teardownMode(old)
		}
		e.setModeMu.Unlock()

		e.failQueued(ErrEngineClosed)
		_defaultEngine.CompareAndSwap(e, nil)

		e.closeErr = result.ErrorOrNil()
		e.logger.Info().Msg("engine closed")
	})
	return e.closeErr
}

// GetConfigName implements config.ChangeListener.
func (e *Engine) GetConfigName() string {
	return "engine"
}

// OnConfigChanged applies the timeouts and tx pacing of a reloaded
// configuration. Other fields are kept until the next Open.
func (e *Engine) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "engine" {
		return nil
	}
	newCfg, ok := newConfig.(*EngineCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for engine")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}
	newCfg = newCfg.withDefaults()

	cur := *e.config()
	cur.AckTimeoutMs = newCfg.AckTimeoutMs
	cur.DeliveryIdleTimeoutMs = newCfg.DeliveryIdleTimeoutMs
	cur.SpuriousRetryMs = newCfg.SpuriousRetryMs
	cur.TxRateLimit = newCfg.TxRateLimit
	cur.TxBurst = newCfg.TxBurst
	cur.MaxReadRetries = newCfg.MaxReadRetries
	cur.MaxReopen = newCfg.MaxReopen
	cur.ReopenBackoff = newCfg.ReopenBackoff
	e.cfg.Store(&cur)
	e.limiter.Reload(cur.TxRateLimit, cur.TxBurst)

	e.logger.Info().Str("configName", configName).Msg("engine configuration updated successfully")
	return nil
}
