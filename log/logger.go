package log

import (
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lcx/xbee/config"
)

var _defaultLogger atomic.Pointer[Logger]

func init() {
	// per-logger thresholds decide; the global gate stays fully open
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	_defaultLogger.Store(NewLogger(nil))
}

// Default returns the process-wide logger.
func Default() *Logger {
	return _defaultLogger.Load()
}

// SetDefaultLogger replaces the process-wide logger.
func SetDefaultLogger(logger *Logger) {
	if logger != nil {
		_defaultLogger.Store(logger)
	}
}

// InitializeWithConfigManager loads the "logger" configuration, installs a
// logger built from it as the process default and subscribes it to reloads.
func InitializeWithConfigManager(configManager config.ConfigManager) error {
	if configManager == nil {
		return nil
	}

	logCfg := getDefaultCfg()
	if err := configManager.LoadConfig("logger", logCfg); err != nil {
		return err
	}

	SetDefaultLogger(NewLoggerWithConfigManager(logCfg, configManager))
	return nil
}

// Initialize initializes the default logger from the singleton config manager.
func Initialize() error {
	return InitializeWithConfigManager(config.GetInstance())
}

// SetVerbosity changes the process-wide verbosity threshold.
func SetVerbosity(v int) {
	Default().SetVerbosity(v)
}

// SetOutput changes the process-wide log sink.
func SetOutput(w io.Writer) {
	Default().SetOutput(w)
}

// Trace creates a trace-level event on the default logger.
func Trace() *LogEvent {
	return Default().Trace()
}

// Debug creates a debug-level event on the default logger.
func Debug() *LogEvent {
	return Default().Debug()
}

// Info creates an info-level event on the default logger.
func Info() *LogEvent {
	return Default().Info()
}

// Warn creates a warn-level event on the default logger.
func Warn() *LogEvent {
	return Default().Warn()
}

// Error creates an error-level event on the default logger.
func Error() *LogEvent {
	return Default().Error()
}
