package net

import (
	"errors"
	"fmt"
	stdnet "net"
	"os"
	"sync"
	"time"

	"github.com/lcx/xbee/config"
	"github.com/lcx/xbee/log"
	"github.com/lcx/xbee/metrics"
)

// TCPTransportCfg describes a raw TCP serial bridge (ser2net style) in front
// of the radio.
type TCPTransportCfg struct {
	Addr           string `mapstructure:"addr"`
	DialTimeoutMs  int    `mapstructure:"dialTimeoutMs"`
	IdleTimeoutMs  int    `mapstructure:"idleTimeoutMs"`
	WriteTimeoutMs int    `mapstructure:"writeTimeoutMs"`
	MaxBufferSize  int    `mapstructure:"maxBufferSize"`
}

// GetName returns the configuration name for TCPTransportCfg
func (c *TCPTransportCfg) GetName() string {
	return "tcp_transport"
}

// Validate validates the TCPTransportCfg parameters
func (c *TCPTransportCfg) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("Addr cannot be empty")
	}
	if c.MaxBufferSize < 0 {
		return fmt.Errorf("MaxBufferSize must not be negative")
	}
	if c.DialTimeoutMs < 0 || c.IdleTimeoutMs < 0 || c.WriteTimeoutMs < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// TCPTransport is a ByteTransport over one outbound TCP connection. Read
// deadlines expire into idle zero-byte reads so a quiet link is not mistaken
// for a dead one.
type TCPTransport struct {
	*TCPTransportCfg
	lock          sync.RWMutex
	conn          stdnet.Conn
	closed        bool
	lastReadTime  time.Time
	lastWriteTime time.Time
}

// NewTCPTransportWithConfig dials cfg.Addr.
func NewTCPTransportWithConfig(cfg *TCPTransportCfg) (*TCPTransport, error) {
	if cfg == nil {
		return nil, errors.New("TCPTransportCfg cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	t := &TCPTransport{TCPTransportCfg: cfg}
	conn, err := t.dial()
	if err != nil {
		return nil, err
	}
	t.conn = conn
	return t, nil
}

// NewTCPTransportWithConfigManager creates a TCPTransport that supports configuration hot-reload.
// Timeouts apply immediately; a changed address is used from the next Reopen.
func NewTCPTransportWithConfigManager(configManager config.ConfigManager) (*TCPTransport, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}

	cfg := &TCPTransportCfg{}
	if err := configManager.LoadConfig("tcp_transport", cfg); err != nil {
		return nil, fmt.Errorf("failed to load tcp_transport config: %w", err)
	}

	transport, err := NewTCPTransportWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	configManager.AddChangeListener(transport)
	return transport, nil
}

// OnConfigChanged implements the ChangeListener interface for TCPTransport.
func (t *TCPTransport) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "tcp_transport" {
		return nil
	}

	newCfg, ok := newConfig.(*TCPTransportCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for TCPTransport")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid TCP transport configuration: %w", err)
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	t.TCPTransportCfg = newCfg

	log.Info().Str("configName", configName).Msg("TCP transport configuration updated successfully")
	return nil
}

// GetConfigName implements the ChangeListener interface for TCPTransport.
func (t *TCPTransport) GetConfigName() string {
	return "tcp_transport"
}

func (t *TCPTransport) dial() (stdnet.Conn, error) {
	metrics.IncrCounterWithGroup("net", "transport_start_total", 1)

	timeout := 5 * time.Second
	if t.DialTimeoutMs > 0 {
		timeout = time.Duration(t.DialTimeoutMs) * time.Millisecond
	}
	conn, err := stdnet.DialTimeout("tcp", t.Addr, timeout)
	if err != nil {
		metrics.IncrCounterWithDimGroup("net", "transport_start_error_total", 1, map[string]string{"error_type": "dial"})
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, t.Addr, err)
	}
	if tcp, ok := conn.(*stdnet.TCPConn); ok && t.MaxBufferSize > 0 {
		if err = tcp.SetReadBuffer(t.MaxBufferSize); err != nil {
			log.Error().Int("BufSize", t.MaxBufferSize).Err(err).Msg("Set read buffer err")
		}
		if err = tcp.SetWriteBuffer(t.MaxBufferSize); err != nil {
			log.Error().Int("BufSize", t.MaxBufferSize).Err(err).Msg("Set write buffer err")
		}
	}
	metrics.IncrCounterWithDimGroup("net", "transport_start_success_total", 1, map[string]string{"transport_type": "tcp"})
	log.Info().Str("addr", t.Addr).Msg("tcp link connected")
	return conn, nil
}

func (t *TCPTransport) current() (stdnet.Conn, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if t.closed {
		return nil, os.ErrClosed
	}
	return t.conn, nil
}

func (t *TCPTransport) Read(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	t.setReadDeadline(conn)
	n, err := conn.Read(p)
	var ne stdnet.Error
	if err != nil && errors.As(err, &ne) && ne.Timeout() {
		// force a fresh deadline on the next read
		t.lock.Lock()
		t.lastReadTime = time.Time{}
		t.lock.Unlock()
		return n, nil
	}
	return n, err
}

func (t *TCPTransport) Write(p []byte) (int, error) {
	conn, err := t.current()
	if err != nil {
		return 0, err
	}
	t.setWriteDeadline(conn)
	return conn.Write(p)
}

// Reopen drops the current connection and dials again.
func (t *TCPTransport) Reopen() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return os.ErrClosed
	}
	if t.conn != nil {
		_ = t.conn.Close()
		metrics.IncrCounterWithGroup("net", "connection_close_total", 1)
	}
	conn, err := t.dial()
	if err != nil {
		return err
	}
	t.conn = conn
	t.lastReadTime = time.Time{}
	t.lastWriteTime = time.Time{}
	return nil
}

func (t *TCPTransport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	metrics.IncrCounterWithGroup("net", "connection_close_total", 1)
	return t.conn.Close()
}

func (t *TCPTransport) setReadDeadline(conn stdnet.Conn) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.IdleTimeoutMs > 0 {
		n := time.Now()
		if n.Sub(t.lastReadTime) > time.Second {
			t.lastReadTime = n
			_ = conn.SetReadDeadline(n.Add(time.Duration(t.IdleTimeoutMs) * time.Millisecond))
		}
	}
}

func (t *TCPTransport) setWriteDeadline(conn stdnet.Conn) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.WriteTimeoutMs > 0 {
		n := time.Now()
		if n.Sub(t.lastWriteTime) > time.Second {
			t.lastWriteTime = n
			_ = conn.SetWriteDeadline(n.Add(time.Duration(t.WriteTimeoutMs) * time.Millisecond))
		}
	}
}
