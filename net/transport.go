// Package net implements the host side of a framed serial radio link: the
// frame codec, connection tables, frame-id tracking and the receive, transmit
// and delivery pipelines that multiplex one physical link into many logical
// connections.
package net

import (
	"context"
	"errors"
	"io"
	stdnet "net"
	"os"
	"sync"
	"syscall"
	"time"
)

// ByteTransport carries raw escaped bytes to and from the radio. A Read that
// returns io.EOF signals end of stream.
type ByteTransport interface {
	io.ReadWriteCloser
}

// Reopener is implemented by transports that can re-establish the link after
// end of stream or a fatal I/O error.
type Reopener interface {
	Reopen() error
}

// OpenFunc opens the underlying stream of a StreamTransport.
type OpenFunc func() (io.ReadWriteCloser, error)

// StreamTransport adapts any io.ReadWriteCloser into a reopenable transport.
type StreamTransport struct {
	open OpenFunc

	mu     sync.RWMutex
	rwc    io.ReadWriteCloser
	closed bool
}

// NewStreamTransport opens the stream once and keeps open for Reopen.
func NewStreamTransport(open OpenFunc) (*StreamTransport, error) {
	if open == nil {
		return nil, ErrInvalidParam
	}
	rwc, err := open()
	if err != nil {
		return nil, err
	}
	return &StreamTransport{open: open, rwc: rwc}, nil
}

func (t *StreamTransport) current() (io.ReadWriteCloser, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, os.ErrClosed
	}
	return t.rwc, nil
}

func (t *StreamTransport) Read(p []byte) (int, error) {
	rwc, err := t.current()
	if err != nil {
		return 0, err
	}
	return rwc.Read(p)
}

func (t *StreamTransport) Write(p []byte) (int, error) {
	rwc, err := t.current()
	if err != nil {
		return 0, err
	}
	return rwc.Write(p)
}

// Reopen closes the current stream and opens a new one.
func (t *StreamTransport) Reopen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return os.ErrClosed
	}
	_ = t.rwc.Close()
	rwc, err := t.open()
	if err != nil {
		return err
	}
	t.rwc = rwc
	return nil
}

func (t *StreamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.rwc.Close()
}

// IsTransient reports whether err is worth retrying on the same stream.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne stdnet.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// linkReader retries transient read errors and idle zero-byte reads, and
// stops at the next read once ctx is done.
type linkReader struct {
	ctx        context.Context
	t          ByteTransport
	maxRetries int
	idle       time.Duration
	onRetry    func(err error)
}

func (r *linkReader) Read(p []byte) (int, error) {
	retries := 0
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		n, err := r.t.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == nil {
			select {
			case <-r.ctx.Done():
				return 0, r.ctx.Err()
			case <-time.After(r.idle):
			}
			continue
		}
		if IsTransient(err) && retries < r.maxRetries {
			retries++
			if r.onRetry != nil {
				r.onRetry(err)
			}
			continue
		}
		return 0, err
	}
}
