// Package fifo provides the mutex-guarded ordered collection used as the
// mailbox primitive by every pipeline of the engine.
package fifo

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

// ErrFull is returned when an insert would exceed the list capacity.
// The list stays consistent; callers treat it as resource exhaustion.
var ErrFull = errors.New("fifo: list is full")

// List is an ordered collection safe for concurrent use.
// The lock is held only for the critical section of each call.
type List[T comparable] struct {
	mu     sync.Mutex
	items  *list.List
	limit  int
	notify chan struct{}
}

// New creates a List. A limit of 0 means unbounded.
func New[T comparable](limit int) *List[T] {
	return &List[T]{
		items:  list.New(),
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

func (l *List[T]) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// AddHead inserts item at the head.
func (l *List[T]) AddHead(item T) error {
	l.mu.Lock()
	if l.limit > 0 && l.items.Len() >= l.limit {
		l.mu.Unlock()
		return ErrFull
	}
	l.items.PushFront(item)
	l.mu.Unlock()
	l.signal()
	return nil
}

// AddTail appends item at the tail.
func (l *List[T]) AddTail(item T) error {
	l.mu.Lock()
	if l.limit > 0 && l.items.Len() >= l.limit {
		l.mu.Unlock()
		return ErrFull
	}
	l.items.PushBack(item)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Head returns the first item without removing it.
func (l *List[T]) Head() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	e := l.items.Front()
	if e == nil {
		return zero, false
	}
	return e.Value.(T), true
}

// Tail returns the last item without removing it.
func (l *List[T]) Tail() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	e := l.items.Back()
	if e == nil {
		return zero, false
	}
	return e.Value.(T), true
}

// ExtractHead removes and returns the first item.
func (l *List[T]) ExtractHead() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	e := l.items.Front()
	if e == nil {
		return zero, false
	}
	return l.items.Remove(e).(T), true
}

// ExtractTail removes and returns the last item.
func (l *List[T]) ExtractTail() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	e := l.items.Back()
	if e == nil {
		return zero, false
	}
	return l.items.Remove(e).(T), true
}

// Remove deletes the first occurrence of item and reports whether it was found.
func (l *List[T]) Remove(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for e := l.items.Front(); e != nil; e = e.Next() {
		if e.Value.(T) == item {
			l.items.Remove(e)
			return true
		}
	}
	return false
}

// Count returns the number of items.
func (l *List[T]) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items.Len()
}

// Each calls fn for every item in order until fn returns false.
// fn runs under the list lock and must not call back into the list.
func (l *List[T]) Each(fn func(T) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for e := l.items.Front(); e != nil; e = e.Next() {
		if !fn(e.Value.(T)) {
			return
		}
	}
}

// Drain removes every item and returns them in order.
func (l *List[T]) Drain() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, 0, l.items.Len())
	for e := l.items.Front(); e != nil; e = l.items.Front() {
		out = append(out, l.items.Remove(e).(T))
	}
	return out
}

// PopWait extracts the head, blocking until an item arrives or ctx is done.
// A single consumer per list is assumed.
func (l *List[T]) PopWait(ctx context.Context) (T, error) {
	for {
		if item, ok := l.ExtractHead(); ok {
			return item, nil
		}
		select {
		case <-l.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Notify exposes the wake-up channel. A receive means the list may have
// changed; it carries no guarantee that an item is present.
func (l *List[T]) Notify() <-chan struct{} {
	return l.notify
}
