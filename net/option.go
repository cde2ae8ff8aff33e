package net

import (
	"github.com/lcx/xbee/config"
	"github.com/lcx/xbee/log"
	"github.com/lcx/xbee/supervisor"
)

// Option defines a functional option for configuring an Engine at Open.
//
// Usage example:
// e, err := Open(cfg, transport, WithLogger(logger), WithMode("xbee2"))
type Option func(*options)

type options struct {
	logger        *log.Logger
	supervisorCfg *supervisor.Config
	configManager config.ConfigManager
	mode          string
	onDiscard     func(reason DiscardReason)
}

// WithLogger sets the parent logger. The engine logs through a child tagged
// with its id.
//
// Parameters:
// - logger: The logger to derive the engine logger from
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSupervisorConfig overrides the worker supervisor settings.
func WithSupervisorConfig(cfg *supervisor.Config) Option {
	return func(o *options) {
		o.supervisorCfg = cfg
	}
}

// WithConfigManager subscribes the engine to hot-reloads of its configuration.
func WithConfigManager(cm config.ConfigManager) Option {
	return func(o *options) {
		o.configManager = cm
	}
}

// WithMode activates the named mode during Open, overriding EngineCfg.Mode.
func WithMode(name string) Option {
	return func(o *options) {
		o.mode = name
	}
}

// WithDiscardHook observes frames the codec drops.
func WithDiscardHook(fn func(reason DiscardReason)) Option {
	return func(o *options) {
		o.onDiscard = fn
	}
}
