// Package supervisor keeps long-lived workers alive. A monitor pass runs on a
// fixed interval, joins every worker that has exited without blocking, and
// starts it again with the same routine.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/ratelimit"

	"github.com/lcx/xbee/log"
	"github.com/lcx/xbee/metrics"
)

var (
	ErrAlreadyRegistered = errors.New("supervisor: worker already registered")
	ErrNotRegistered     = errors.New("supervisor: worker not registered")
	ErrInvalidWorker     = errors.New("supervisor: worker has no routine")
	ErrStopped           = errors.New("supervisor: stopped")
)

// Routine is the body of a supervised worker. It should return once ctx is
// cancelled; any other return (including a panic) counts as death.
type Routine func(ctx context.Context) error

// Worker describes one supervised routine. The *Worker pointer is its handle.
// Key identifies the routine and its argument: a second registration with an
// equal non-nil Key is a no-op.
type Worker struct {
	Name    string
	Key     any
	Routine Routine
}

// Config controls the monitor pass. Loaded under the name "supervisor".
type Config struct {
	IntervalMs        int `mapstructure:"intervalMs"`
	RestartsPerSecond int `mapstructure:"restartsPerSecond"`
}

// GetName implements config.Config.
func (c *Config) GetName() string {
	return "supervisor"
}

// Validate implements config.Config.
func (c *Config) Validate() error {
	if c.IntervalMs < 0 {
		return fmt.Errorf("supervisor: intervalMs must not be negative, got %d", c.IntervalMs)
	}
	if c.RestartsPerSecond < 0 {
		return fmt.Errorf("supervisor: restartsPerSecond must not be negative, got %d", c.RestartsPerSecond)
	}
	return nil
}

// DefaultConfig returns the monitor settings used when none are loaded.
func DefaultConfig() *Config {
	return &Config{IntervalMs: 1000, RestartsPerSecond: 20}
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type entry struct {
	w        *Worker
	cur      *run
	restarts int
}

// Supervisor owns a registry of workers and restarts the ones that die.
type Supervisor struct {
	mu      sync.Mutex
	entries map[*Worker]*entry
	keys    map[any]*Worker

	interval time.Duration
	limiter  ratelimit.Limiter
	logger   *log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	monitor chan struct{}
	stopped bool
}

// New creates a supervisor. A nil cfg uses DefaultConfig; a nil logger uses
// the process default.
func New(cfg *Config, logger *log.Logger) *Supervisor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = log.Default()
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	var limiter ratelimit.Limiter
	if cfg.RestartsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RestartsPerSecond)
	} else {
		limiter = ratelimit.NewUnlimited()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		entries:  make(map[*Worker]*entry),
		keys:     make(map[any]*Worker),
		interval: interval,
		limiter:  limiter,
		logger:   logger.With("component", "supervisor"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the monitor loop. Calling Start twice has no effect.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor != nil || s.stopped {
		return
	}
	s.monitor = make(chan struct{})
	go s.monitorLoop(s.monitor)
}

func (s *Supervisor) monitorLoop(done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Check()
		}
	}
}

// Add registers w and starts it.
func (s *Supervisor) Add(w *Worker) error {
	if w == nil || w.Routine == nil {
		return ErrInvalidWorker
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.entries[w]; ok {
		return ErrAlreadyRegistered
	}
	if w.Key != nil {
		if _, ok := s.keys[w.Key]; ok {
			return nil
		}
		s.keys[w.Key] = w
	}

	e := &entry{w: w}
	s.entries[w] = e
	s.spawnLocked(e)
	s.logger.Debug().Str("worker", w.Name).Msg("worker registered")
	return nil
}

func (s *Supervisor) spawnLocked(e *entry) {
	ctx, cancel := context.WithCancel(s.ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	e.cur = r
	routine := e.w.Routine
	go func() {
		defer close(r.done)
		var pc panics.Catcher
		pc.Try(func() {
			r.err = routine(ctx)
		})
		if rec := pc.Recovered(); rec != nil {
			r.err = rec.AsError()
		}
	}()
}

// Check performs one monitor pass: every worker that has exited is joined
// and started again. Running workers are left alone.
func (s *Supervisor) Check() {
	s.mu.Lock()
	var dead []*entry
	for _, e := range s.entries {
		select {
		case <-e.cur.done:
			dead = append(dead, e)
		default:
		}
	}
	s.mu.Unlock()

	for _, e := range dead {
		s.limiter.Take()

		s.mu.Lock()
		if s.stopped || s.entries[e.w] != e || s.ctx.Err() != nil {
			s.mu.Unlock()
			continue
		}
		prev := e.cur
		e.cur.cancel()
		e.restarts++
		s.spawnLocked(e)
		restarts := e.restarts
		s.mu.Unlock()

		s.logger.Warn().Str("worker", e.w.Name).Err(prev.err).Int("restarts", restarts).Msg("worker died, restarted")
		metrics.IncrCounterWithDimGroup("supervisor", "restart_total", 1, metrics.Dimension{"worker": e.w.Name})
	}
}

// Remove cancels w, waits for it to return and reports how many times it was
// restarted.
func (s *Supervisor) Remove(w *Worker) (int, error) {
	s.mu.Lock()
	e, ok := s.entries[w]
	if !ok {
		s.mu.Unlock()
		return 0, ErrNotRegistered
	}
	delete(s.entries, w)
	if w.Key != nil && s.keys[w.Key] == w {
		delete(s.keys, w.Key)
	}
	r := e.cur
	restarts := e.restarts
	s.mu.Unlock()

	r.cancel()
	<-r.done
	s.logger.Debug().Str("worker", w.Name).Int("restarts", restarts).Msg("worker removed")
	return restarts, nil
}

// Restarts reports the restart count of w.
func (s *Supervisor) Restarts(w *Worker) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[w]
	if !ok {
		return 0, false
	}
	return e.restarts, true
}

// Running reports whether w is registered and its routine has not returned.
func (s *Supervisor) Running(w *Worker) bool {
	s.mu.Lock()
	e, ok := s.entries[w]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-e.cur.done:
		return false
	default:
		return true
	}
}

// Count reports the number of registered workers.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every worker and the monitor and waits for all of them.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	runs := make([]*run, 0, len(s.entries))
	for w, e := range s.entries {
		runs = append(runs, e.cur)
		delete(s.entries, w)
	}
	s.keys = make(map[any]*Worker)
	monitor := s.monitor
	s.mu.Unlock()

	s.cancel()
	if monitor != nil {
		<-monitor
	}
	for _, r := range runs {
		<-r.done
	}
}
