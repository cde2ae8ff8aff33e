package net

import (
	"fmt"
	"strings"

	"github.com/lcx/xbee/supervisor"
)

const (
	LinkSerial = "serial"
	LinkTCP    = "tcp"
)

// EngineCfg configures one engine instance. Loaded under the name "engine".
// AckTimeoutMs, the delivery timeouts and the tx pacing fields are applied
// on hot-reload; the rest take effect at the next Open.
type EngineCfg struct {
	// Mode is activated by Open when set. Case-insensitive.
	Mode string `mapstructure:"mode"`
	// Link selects the transport OpenWithConfigManager builds: serial or tcp.
	Link string `mapstructure:"link"`

	AckTimeoutMs          int `mapstructure:"ackTimeoutMs"`
	DeliveryIdleTimeoutMs int `mapstructure:"deliveryIdleTimeoutMs"`
	SpuriousRetryMs       int `mapstructure:"spuriousRetryMs"`

	// TxRateLimit is frames per second written to the link; 0 disables pacing.
	TxRateLimit int `mapstructure:"txRateLimit"`
	TxBurst     int `mapstructure:"txBurst"`

	MaxReadRetries int        `mapstructure:"maxReadRetries"`
	ReadIdleMs     int        `mapstructure:"readIdleMs"`
	MaxReopen      int        `mapstructure:"maxReopen"`
	ReopenBackoff  BackoffCfg `mapstructure:"reopenBackoff"`

	// queue limits; 0 means unbounded
	TxQueueLimit      int `mapstructure:"txQueueLimit"`
	RxQueueLimit      int `mapstructure:"rxQueueLimit"`
	HandlerQueueLimit int `mapstructure:"handlerQueueLimit"`

	MaxPayload int               `mapstructure:"maxPayload"`
	Supervisor supervisor.Config `mapstructure:"supervisor"`
}

// GetName implements config.Config.
func (c *EngineCfg) GetName() string {
	return "engine"
}

// Validate implements config.Config.
func (c *EngineCfg) Validate() error {
	switch strings.ToLower(c.Link) {
	case "", LinkSerial, LinkTCP:
	default:
		return fmt.Errorf("engine: unknown link %q", c.Link)
	}
	for name, v := range map[string]int{
		"ackTimeoutMs":          c.AckTimeoutMs,
		"deliveryIdleTimeoutMs": c.DeliveryIdleTimeoutMs,
		"spuriousRetryMs":       c.SpuriousRetryMs,
		"txRateLimit":           c.TxRateLimit,
		"txBurst":               c.TxBurst,
		"maxReadRetries":        c.MaxReadRetries,
		"readIdleMs":            c.ReadIdleMs,
		"maxReopen":             c.MaxReopen,
		"txQueueLimit":          c.TxQueueLimit,
		"rxQueueLimit":          c.RxQueueLimit,
		"handlerQueueLimit":     c.HandlerQueueLimit,
	} {
		if v < 0 {
			return fmt.Errorf("engine: %s must not be negative, got %d", name, v)
		}
	}
	if c.MaxPayload < 0 || c.MaxPayload > MaxFramePayload {
		return fmt.Errorf("engine: maxPayload must be between 0 and %d", MaxFramePayload)
	}
	return c.Supervisor.Validate()
}

// DefaultEngineCfg returns the settings used for zero fields.
func DefaultEngineCfg() *EngineCfg {
	return &EngineCfg{
		Link:                  LinkSerial,
		AckTimeoutMs:          1000,
		DeliveryIdleTimeoutMs: 5000,
		SpuriousRetryMs:       50,
		TxBurst:               1,
		MaxReadRetries:        5,
		ReadIdleMs:            1,
		MaxReopen:             3,
		ReopenBackoff:         BackoffCfg{InitialMs: 100, MaxMs: 2000, Multiplier: 2, Jitter: true},
		MaxPayload:            DefaultLimits().MaxPayload,
		Supervisor:            *supervisor.DefaultConfig(),
	}
}

// withDefaults fills zero fields from DefaultEngineCfg.
func (c *EngineCfg) withDefaults() *EngineCfg {
	d := DefaultEngineCfg()
	out := *c
	if out.Link == "" {
		out.Link = d.Link
	}
	if out.AckTimeoutMs == 0 {
		out.AckTimeoutMs = d.AckTimeoutMs
	}
	if out.DeliveryIdleTimeoutMs == 0 {
		out.DeliveryIdleTimeoutMs = d.DeliveryIdleTimeoutMs
	}
	if out.SpuriousRetryMs == 0 {
		out.SpuriousRetryMs = d.SpuriousRetryMs
	}
	if out.TxBurst == 0 {
		out.TxBurst = d.TxBurst
	}
	if out.MaxReadRetries == 0 {
		out.MaxReadRetries = d.MaxReadRetries
	}
	if out.ReadIdleMs == 0 {
		out.ReadIdleMs = d.ReadIdleMs
	}
	if out.MaxReopen == 0 {
		out.MaxReopen = d.MaxReopen
	}
	if out.ReopenBackoff == (BackoffCfg{}) {
		out.ReopenBackoff = d.ReopenBackoff
	}
	if out.MaxPayload == 0 {
		out.MaxPayload = d.MaxPayload
	}
	if out.Supervisor.IntervalMs == 0 {
		out.Supervisor.IntervalMs = d.Supervisor.IntervalMs
	}
	if out.Supervisor.RestartsPerSecond == 0 {
		out.Supervisor.RestartsPerSecond = d.Supervisor.RestartsPerSecond
	}
	return &out
}
