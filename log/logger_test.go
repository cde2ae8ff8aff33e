package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLevelForVerbosity(t *testing.T) {
	tests := []struct {
		v    int
		want string
	}{
		{-1, "disabled"},
		{0, "error"},
		{1, "warn"},
		{2, "info"},
		{3, "debug"},
		{9, "debug"},
		{10, "trace"},
		{50, "trace"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForVerbosity(tt.v).String(), "verbosity %d", tt.v)
	}
}

func TestVerbosityThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf, 1)

	l.Info().Msg("hidden")
	l.Debug().Msg("hidden")
	l.Warn().Msg("shown")
	l.Error().Msg("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["level"])

	buf.Reset()
	l.SetVerbosity(10)
	l.Trace().Msg("now visible")
	lines = decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
	assert.Equal(t, 10, l.Verbosity())

	buf.Reset()
	l.SetVerbosity(-1)
	l.Error().Msg("disabled")
	assert.Empty(t, buf.String())
}

func TestChildLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	root := NewLoggerWithWriter(&buf, 2)
	child := root.With("engine", "e1").With("conn", 3)

	child.Info().Str("op", "tx").Msg("sent")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "e1", lines[0]["engine"])
	assert.EqualValues(t, 3, lines[0]["conn"])
	assert.Equal(t, "tx", lines[0]["op"])

	// threshold and sink are shared with the root
	buf.Reset()
	root.SetVerbosity(0)
	child.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	var other bytes.Buffer
	child.SetOutput(&other)
	child.SetVerbosity(2)
	root.Info().Msg("moved")
	assert.Empty(t, buf.String())
	assert.Contains(t, other.String(), "moved")
}

func TestConcurrentLoggingAndReconfigure(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&lockedWriter{mu: &mu, w: &buf}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.With("worker", i).Info().Int("j", j).Msg("tick")
			}
		}(i)
	}
	for i := 0; i < 20; i++ {
		l.SetVerbosity(2 + i%2)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, decodeLines(t, &buf), 800)
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func TestOnConfigChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xbee.log")
	l := NewLogger(&LogCfg{Verbosity: 0, LogPath: path})
	defer l.Close()

	l.Info().Msg("hidden")
	require.NoError(t, l.OnConfigChanged("logger", &LogCfg{Verbosity: 2, LogPath: path}, nil))
	l.Info().Msg("after reload")

	require.NoError(t, l.OnConfigChanged("other", &LogCfg{Verbosity: -1}, nil))
	assert.Equal(t, 2, l.Verbosity())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "after reload")
}

func TestLogCfgValidate(t *testing.T) {
	assert.NoError(t, (&LogCfg{ConsoleAppender: true}).Validate())
	assert.NoError(t, (&LogCfg{LogPath: "x.log"}).Validate())
	assert.NoError(t, (&LogCfg{Verbosity: -1}).Validate())
	assert.Error(t, (&LogCfg{Verbosity: 2}).Validate())
	assert.Equal(t, "logger", (&LogCfg{}).GetName())
}

func TestDefaultLogger(t *testing.T) {
	prev := Default()
	defer SetDefaultLogger(prev)

	var buf bytes.Buffer
	SetDefaultLogger(NewLoggerWithWriter(&buf, 2))
	Info().Str("k", "v").Msg("hello")
	Debug().Msg("hidden")
	SetVerbosity(3)
	Debug().Msg("visible")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "hello", lines[0]["message"])
	assert.Equal(t, "visible", lines[1]["message"])

	SetDefaultLogger(nil)
	assert.NotNil(t, Default())
}
