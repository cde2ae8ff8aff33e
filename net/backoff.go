package net

import (
	"math"
	"math/rand"
	"time"
)

// BackoffCfg shapes the delay between link reopen attempts.
type BackoffCfg struct {
	InitialMs  int     `mapstructure:"initialMs"`
	MaxMs      int     `mapstructure:"maxMs"`
	Multiplier float64 `mapstructure:"multiplier"`
	Jitter     bool    `mapstructure:"jitter"`
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffCfg, attempt int, rng *rand.Rand) time.Duration {
	initial := time.Duration(cfg.InitialMs) * time.Millisecond
	if attempt <= 1 || initial <= 0 {
		return initial
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(initial) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if maxDelay := float64(cfg.MaxMs) * float64(time.Millisecond); cfg.MaxMs > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
