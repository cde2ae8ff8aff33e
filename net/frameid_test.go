package net

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOwner = ConnID{Index: 0, Gen: 1}

func TestFrameIDAllocSkipsZeroAndWraps(t *testing.T) {
	tr := NewFrameIDTracker()

	seen := make(map[byte]bool)
	for i := 0; i < 255; i++ {
		id, err := tr.Alloc(testOwner)
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	_, err := tr.Alloc(testOwner)
	assert.ErrorIs(t, err, ErrNoFrameID)
	assert.Equal(t, 255, tr.InUse())

	tr.Release(42)
	id, err := tr.Alloc(testOwner)
	require.NoError(t, err)
	assert.Equal(t, byte(42), id)
}

func TestFrameIDAllocMovesForward(t *testing.T) {
	tr := NewFrameIDTracker()
	a, _ := tr.Alloc(testOwner)
	tr.Release(a)
	b, _ := tr.Alloc(testOwner)
	assert.Equal(t, a+1, b)

	_, err := tr.Alloc(ConnID{})
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestFrameIDDeliverAndWait(t *testing.T) {
	tr := NewFrameIDTracker()
	id, err := tr.Alloc(testOwner)
	require.NoError(t, err)
	owner, ok := tr.Owner(id)
	require.True(t, ok)
	assert.Equal(t, testOwner, owner)

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Deliver(id, 0x02)
	}()
	v, err := tr.Wait(id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), v)
	assert.Zero(t, tr.InUse())

	// late ack for a released id
	assert.False(t, tr.Deliver(id, 0))
	assert.False(t, tr.Deliver(0, 0))
}

func TestFrameIDWaitTimeoutReleases(t *testing.T) {
	tr := NewFrameIDTracker()
	id, err := tr.Alloc(testOwner)
	require.NoError(t, err)

	start := time.Now()
	_, err = tr.Wait(id, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	_, ok := tr.Owner(id)
	assert.False(t, ok)

	_, err = tr.Wait(id, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestFrameIDStaleWaitKeepsNewOwner(t *testing.T) {
	tr := NewFrameIDTracker()
	id, _ := tr.Alloc(testOwner)

	tr.mu.Lock()
	stale := tr.slots[id].result
	tr.mu.Unlock()

	tr.Release(id)
	other := ConnID{Index: 1, Gen: 1}
	for {
		got, err := tr.Alloc(other)
		require.NoError(t, err)
		if got == id {
			break
		}
	}
	tr.release(id, stale)
	owner, ok := tr.Owner(id)
	require.True(t, ok)
	assert.Equal(t, other, owner)
}

func TestFrameIDConcurrentUse(t *testing.T) {
	tr := NewFrameIDTracker()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			owner := ConnID{Index: uint32(g), Gen: 1}
			for i := 0; i < 200; i++ {
				id, err := tr.Alloc(owner)
				if err != nil {
					continue
				}
				tr.Deliver(id, byte(i))
				v, err := tr.Wait(id, time.Second)
				assert.NoError(t, err)
				assert.Equal(t, byte(i), v)
			}
		}(g)
	}
	wg.Wait()
	assert.Zero(t, tr.InUse())
}
