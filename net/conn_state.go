package net

import (
	"fmt"
	"sync"
)

// ConnID is a generational handle to a connection. A zero ConnID is invalid
// and an ID whose connection has been freed never resolves again.
type ConnID struct {
	Index uint32
	Gen   uint32
}

func (id ConnID) Valid() bool {
	return id.Gen != 0
}

func (id ConnID) String() string {
	return fmt.Sprintf("%d.%d", id.Index, id.Gen)
}

type connState int

const (
	connActive connState = iota
	connEnding           // unlinked, delivery worker still running
	connFreed
)

func (s connState) String() string {
	switch s {
	case connActive:
		return "active"
	case connEnding:
		return "ending"
	case connFreed:
		return "freed"
	}
	return fmt.Sprintf("connState(%d)", int(s))
}

type connEvent int

const (
	evEnd        connEvent = iota // end requested, no delivery worker running
	evEndBusy                     // end requested while a delivery worker runs
	evWorkerExit                  // delivery worker returned
)

// nextConnState is the connection lifecycle as a pure function. The bool
// reports whether the transition releases the connection's resources.
func nextConnState(s connState, ev connEvent) (connState, bool, error) {
	switch {
	case s == connActive && ev == evEnd:
		return connFreed, true, nil
	case s == connActive && ev == evEndBusy:
		return connEnding, false, nil
	case s == connActive && ev == evWorkerExit:
		return connActive, false, nil
	case s == connEnding && ev == evWorkerExit:
		return connFreed, true, nil
	case s == connEnding && (ev == evEnd || ev == evEndBusy):
		return s, false, ErrConnEnded
	case s == connFreed:
		return s, false, ErrConnEnded
	}
	return s, false, fmt.Errorf("%w: event %d in state %s", ErrInvalidParam, ev, s)
}

// connArena maps ConnIDs to live connections with slot reuse.
type connArena struct {
	mu    sync.Mutex
	slots []arenaSlot
	free  []uint32
	live  int
}

type arenaSlot struct {
	gen  uint32
	conn *Conn
}

func (a *connArena) alloc(c *Conn) ConnID {
	a.mu.Lock()
	defer a.mu.Unlock()
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.conn = c
	a.live++
	return ConnID{Index: idx, Gen: s.gen}
}

func (a *connArena) get(id ConnID) *Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !id.Valid() || int(id.Index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[id.Index]
	if s.gen != id.Gen {
		return nil
	}
	return s.conn
}

func (a *connArena) release(id ConnID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !id.Valid() || int(id.Index) >= len(a.slots) {
		return
	}
	s := &a.slots[id.Index]
	if s.gen != id.Gen || s.conn == nil {
		return
	}
	s.conn = nil
	a.free = append(a.free, id.Index)
	a.live--
}

func (a *connArena) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}
