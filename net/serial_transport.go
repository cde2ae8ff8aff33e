package net

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/lcx/xbee/config"
	"github.com/lcx/xbee/log"
	"github.com/lcx/xbee/metrics"
)

// SerialCfg describes the serial port the radio is attached to.
type SerialCfg struct {
	Device        string `mapstructure:"device"`
	Baud          int    `mapstructure:"baud"`
	DataBits      int    `mapstructure:"dataBits"`
	Parity        string `mapstructure:"parity"`
	StopBits      int    `mapstructure:"stopBits"`
	ReadTimeoutMs int    `mapstructure:"readTimeoutMs"`
}

// GetName returns the configuration name for SerialCfg
func (c *SerialCfg) GetName() string {
	return "serial"
}

// Validate validates the SerialCfg parameters
func (c *SerialCfg) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("Device cannot be empty")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("Baud must be positive")
	}
	if c.DataBits != 0 && (c.DataBits < 5 || c.DataBits > 8) {
		return fmt.Errorf("DataBits must be between 5 and 8")
	}
	if c.StopBits != 0 && c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("StopBits must be 1 or 2")
	}
	if _, err := parseParity(c.Parity); err != nil {
		return err
	}
	if c.ReadTimeoutMs < 0 {
		return fmt.Errorf("ReadTimeoutMs must not be negative")
	}
	return nil
}

func parseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(s) {
	case "", "none", "n":
		return serial.NoParity, nil
	case "even", "e":
		return serial.EvenParity, nil
	case "odd", "o":
		return serial.OddParity, nil
	case "mark", "m":
		return serial.MarkParity, nil
	case "space", "s":
		return serial.SpaceParity, nil
	}
	return serial.NoParity, fmt.Errorf("unknown parity %q", s)
}

func (c *SerialCfg) mode() (*serial.Mode, error) {
	parity, err := parseParity(c.Parity)
	if err != nil {
		return nil, err
	}
	m := &serial.Mode{BaudRate: c.Baud, DataBits: 8, Parity: parity, StopBits: serial.OneStopBit}
	if c.DataBits != 0 {
		m.DataBits = c.DataBits
	}
	if c.StopBits == 2 {
		m.StopBits = serial.TwoStopBits
	}
	return m, nil
}

func openSerial(cfg *SerialCfg) (io.ReadWriteCloser, error) {
	mode, err := cfg.mode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		metrics.IncrCounterWithDimGroup("net", "transport_start_error_total", 1, map[string]string{"transport_type": "serial"})
		return nil, fmt.Errorf("%w: open %s: %v", ErrTransport, cfg.Device, err)
	}
	timeout := 100 * time.Millisecond
	if cfg.ReadTimeoutMs > 0 {
		timeout = time.Duration(cfg.ReadTimeoutMs) * time.Millisecond
	}
	// a read timeout turns an idle line into zero-byte reads
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("%w: set read timeout: %v", ErrTransport, err)
	}
	metrics.IncrCounterWithDimGroup("net", "transport_start_success_total", 1, map[string]string{"transport_type": "serial"})
	log.Info().Str("device", cfg.Device).Int("baud", cfg.Baud).Msg("serial port opened")
	return port, nil
}

// NewSerialTransport opens the configured serial port.
func NewSerialTransport(cfg *SerialCfg) (*StreamTransport, error) {
	if cfg == nil {
		return nil, errors.New("SerialCfg cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	c := *cfg
	return NewStreamTransport(func() (io.ReadWriteCloser, error) {
		return openSerial(&c)
	})
}

// NewSerialTransportWithConfigManager loads the "serial" configuration and opens the port.
func NewSerialTransportWithConfigManager(configManager config.ConfigManager) (*StreamTransport, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}
	cfg := &SerialCfg{}
	if err := configManager.LoadConfig("serial", cfg); err != nil {
		return nil, fmt.Errorf("failed to load serial config: %w", err)
	}
	return NewSerialTransport(cfg)
}
