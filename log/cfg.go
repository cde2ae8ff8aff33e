package log

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LogCfg is the process-wide logging configuration. It is loaded under the name
// "logger" and hot-reloaded through the config manager.
type LogCfg struct {
	// Verbosity is an integer threshold. Below zero disables logging, 0 keeps
	// errors only, 1 adds warnings, 2 info, 3 to 9 debug and 10 and above trace.
	Verbosity int `mapstructure:"verbosity"`

	// LogPath is an optional file sink, opened in append mode.
	LogPath string `mapstructure:"path"`

	// ConsoleAppender writes human-readable output to stderr.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// NoColor disables ANSI colors on the console appender.
	NoColor bool `mapstructure:"noColor"`

	// Timestamp adds a time field to every event.
	Timestamp bool `mapstructure:"timestamp"`
}

// GetName implements config.Config.
func (c *LogCfg) GetName() string {
	return "logger"
}

// Validate implements config.Config.
func (c *LogCfg) Validate() error {
	if !c.ConsoleAppender && c.LogPath == "" && c.Verbosity >= 0 {
		return fmt.Errorf("log: no sink configured (set consoleAppender or path)")
	}
	return nil
}

var _defaultCfg = LogCfg{
	Verbosity:       1,
	ConsoleAppender: true,
	Timestamp:       true,
}

func getDefaultCfg() *LogCfg {
	cfg := _defaultCfg
	return &cfg
}

// LevelForVerbosity maps the integer verbosity threshold onto a zerolog level.
func LevelForVerbosity(v int) zerolog.Level {
	switch {
	case v < 0:
		return zerolog.Disabled
	case v == 0:
		return zerolog.ErrorLevel
	case v == 1:
		return zerolog.WarnLevel
	case v == 2:
		return zerolog.InfoLevel
	case v < 10:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}
