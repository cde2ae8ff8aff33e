package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lcx/xbee/config"
)

// LogEvent is a single structured log record under construction.
// Finish it with Msg or Msgf; a disabled level yields a nil event whose
// methods are no-ops.
type LogEvent = zerolog.Event

// Logger is a structured logger with a runtime adjustable verbosity threshold
// and sink. Child loggers created with With share the root's threshold and
// sink and add their own fields to every event.
//
// Example usage:
//
//	logger := log.NewLogger(&log.LogCfg{Verbosity: 2, ConsoleAppender: true})
//	logger.With("engine", id).Info().Str("mode", "xbee1").Msg("mode activated")
type Logger struct {
	root   *Logger
	fields []any

	// root only
	mu        sync.Mutex
	base      atomic.Pointer[zerolog.Logger]
	out       io.Writer
	file      *os.File
	verbosity atomic.Int32
	timestamp bool
}

// NewLogger creates a root logger from cfg. A nil cfg uses defaults. A file
// sink that cannot be opened falls back to the console.
func NewLogger(cfg *LogCfg) *Logger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}
	l := &Logger{timestamp: cfg.Timestamp}
	l.root = l
	l.verbosity.Store(int32(cfg.Verbosity))
	if err := l.applySinks(cfg); err != nil {
		l.SetOutput(os.Stderr)
		l.Warn().Err(err).Str("path", cfg.LogPath).Msg("log file unavailable, using console")
	}
	return l
}

// NewLoggerWithWriter creates a root logger writing JSON lines to w.
func NewLoggerWithWriter(w io.Writer, verbosity int) *Logger {
	l := &Logger{}
	l.root = l
	l.verbosity.Store(int32(verbosity))
	l.SetOutput(w)
	return l
}

// NewLoggerWithConfigManager creates a logger from cfg and registers it for
// hot-reload of the "logger" configuration.
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *Logger {
	l := NewLogger(cfg)
	if configManager != nil {
		configManager.AddChangeListener(l)
	}
	return l
}

func (x *Logger) applySinks(cfg *LogCfg) error {
	var writers []io.Writer
	var file *os.File
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("log: open %s: %w", cfg.LogPath, err)
		}
		file = f
		writers = append(writers, f)
	}
	if cfg.ConsoleAppender || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, NoColor: cfg.NoColor, TimeFormat: "15:04:05.000"})
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	root := x.root
	root.mu.Lock()
	old := root.file
	root.file = file
	root.timestamp = cfg.Timestamp
	root.mu.Unlock()
	root.SetOutput(out)
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// SetOutput replaces the sink. Safe to call while other goroutines log.
func (x *Logger) SetOutput(w io.Writer) {
	root := x.root
	root.mu.Lock()
	defer root.mu.Unlock()
	root.out = w
	root.rebuildLocked()
}

// SetVerbosity changes the threshold of the root logger and all its children.
func (x *Logger) SetVerbosity(v int) {
	root := x.root
	root.mu.Lock()
	defer root.mu.Unlock()
	root.verbosity.Store(int32(v))
	root.rebuildLocked()
}

// Verbosity reports the current threshold.
func (x *Logger) Verbosity() int {
	return int(x.root.verbosity.Load())
}

func (x *Logger) rebuildLocked() {
	ctx := zerolog.New(x.out).Level(LevelForVerbosity(int(x.verbosity.Load()))).With()
	if x.timestamp {
		ctx = ctx.Timestamp()
	}
	zl := ctx.Logger()
	x.base.Store(&zl)
}

// With returns a child logger that adds key=value to every event.
func (x *Logger) With(key string, value any) *Logger {
	fields := make([]any, 0, len(x.fields)+2)
	fields = append(fields, x.fields...)
	fields = append(fields, key, value)
	return &Logger{root: x.root, fields: fields}
}

func (x *Logger) event(lvl zerolog.Level) *LogEvent {
	zl := x.root.base.Load()
	if zl == nil {
		return nil
	}
	e := zl.WithLevel(lvl)
	if e != nil && len(x.fields) > 0 {
		e = e.Fields(x.fields)
	}
	return e
}

func (x *Logger) Trace() *LogEvent { return x.root.eventAt(x, zerolog.TraceLevel) }
func (x *Logger) Debug() *LogEvent { return x.root.eventAt(x, zerolog.DebugLevel) }
func (x *Logger) Info() *LogEvent  { return x.root.eventAt(x, zerolog.InfoLevel) }
func (x *Logger) Warn() *LogEvent  { return x.root.eventAt(x, zerolog.WarnLevel) }
func (x *Logger) Error() *LogEvent { return x.root.eventAt(x, zerolog.ErrorLevel) }

func (x *Logger) eventAt(child *Logger, lvl zerolog.Level) *LogEvent {
	if lvl < LevelForVerbosity(int(x.verbosity.Load())) {
		return nil
	}
	return child.event(lvl)
}

// GetConfigName implements config.ChangeListener.
func (x *Logger) GetConfigName() string {
	return "logger"
}

// OnConfigChanged implements config.ChangeListener. Verbosity, sink and colors
// are applied without recreating the logger.
func (x *Logger) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "logger" {
		return nil
	}
	cfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}
	x.root.verbosity.Store(int32(cfg.Verbosity))
	return x.applySinks(cfg)
}

// Close releases the file sink, if any.
func (x *Logger) Close() error {
	root := x.root
	root.mu.Lock()
	f := root.file
	root.file = nil
	root.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}
