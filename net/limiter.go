package net

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// TxLimiter paces frames written to the link with a token bucket. The
// limiter can be replaced at runtime without disturbing waiters.
type TxLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

func newRateLimiter(limit int, burst int) *rate.Limiter {
	if limit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}

// NewTxLimiter creates a limiter allowing limit frames per second with the
// given burst. A limit of zero or less disables pacing.
//
// Example usage:
// limiter := NewTxLimiter(50, 5) // 50 frames per second, bursts of 5
func NewTxLimiter(limit int, burst int) *TxLimiter {
	self := &TxLimiter{}
	self.limiter.Store(newRateLimiter(limit, burst))
	return self
}

// Take blocks until a token is available or ctx is done.
func (l *TxLimiter) Take(ctx context.Context) error {
	return l.limiter.Load().Wait(ctx)
}

// Reload replaces the limiter configuration.
func (l *TxLimiter) Reload(limit int, burst int) {
	l.limiter.Store(newRateLimiter(limit, burst))
}

// Limit reports the current rate in frames per second.
func (l *TxLimiter) Limit() rate.Limit {
	return l.limiter.Load().Limit()
}
