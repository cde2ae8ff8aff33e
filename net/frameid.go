package net

import (
	"sync"
	"time"
)

const frameIDSlots = 256

type frameSlot struct {
	owner  ConnID
	result chan byte
}

// FrameIDTracker hands out the 255 usable frame ids (1..255) and pairs each
// with the acknowledgment that eventually carries it back. Id 0 means no
// acknowledgment was requested and is never issued.
type FrameIDTracker struct {
	mu    sync.Mutex
	slots [frameIDSlots]frameSlot
	last  byte
	inUse int
}

func NewFrameIDTracker() *FrameIDTracker {
	return &FrameIDTracker{}
}

// Alloc reserves the next free id after the last one issued. ErrNoFrameID
// means every id is outstanding.
func (t *FrameIDTracker) Alloc(owner ConnID) (byte, error) {
	if !owner.Valid() {
		return 0, ErrInvalidParam
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < frameIDSlots-1; i++ {
		id := byte((int(t.last)+i)%(frameIDSlots-1) + 1)
		s := &t.slots[id]
		if s.owner.Valid() {
			continue
		}
		s.owner = owner
		s.result = make(chan byte, 1)
		t.last = id
		t.inUse++
		return id, nil
	}
	return 0, ErrNoFrameID
}

// Deliver hands an acknowledgment to the waiter of id. Acks for ids nobody
// owns are late or abandoned and are dropped.
func (t *FrameIDTracker) Deliver(id byte, retVal byte) bool {
	if id == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[id]
	if !s.owner.Valid() {
		return false
	}
	select {
	case s.result <- retVal:
		return true
	default:
		return false
	}
}

// Wait blocks until the ack for id arrives or timeout elapses, then releases
// id. A timeout is reported as ErrAckTimeout.
func (t *FrameIDTracker) Wait(id byte, timeout time.Duration) (byte, error) {
	t.mu.Lock()
	s := &t.slots[id]
	if id == 0 || !s.owner.Valid() {
		t.mu.Unlock()
		return 0, ErrInvalidParam
	}
	ch := s.result
	t.mu.Unlock()
	defer t.release(id, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return 0, ErrAckTimeout
	}
}

// Release frees id. Releasing a free id is a no-op.
func (t *FrameIDTracker) Release(id byte) {
	t.release(id, nil)
}

// release frees id; a non-nil ch restricts it to the allocation that created ch.
func (t *FrameIDTracker) release(id byte, ch chan byte) {
	if id == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[id]
	if !s.owner.Valid() || (ch != nil && s.result != ch) {
		return
	}
	s.owner = ConnID{}
	s.result = nil
	t.inUse--
}

// Owner reports who holds id.
func (t *FrameIDTracker) Owner(id byte) (ConnID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.slots[id].owner
	return o, o.Valid()
}

// InUse reports how many ids are outstanding.
func (t *FrameIDTracker) InUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inUse
}
