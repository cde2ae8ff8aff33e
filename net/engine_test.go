package net

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/xbee/log"
)

func rxCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectAndReceive(t *testing.T) {
	e, radio := newTestEngine(t, nil)
	assert.Equal(t, testModeName, e.Mode())

	c, err := e.Connect("data", ShortAddr(0x1234), "user")
	require.NoError(t, err)
	assert.Equal(t, "Data", c.Type())
	assert.Equal(t, "user", c.UserData())
	assert.Same(t, c, e.Conn(c.ID()))

	require.NoError(t, radio.inject(opDataRx, 0x12, 0x34, 'h', 'i'))
	pkt, err := c.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), pkt.Data)
	assert.Equal(t, "Data", pkt.ConnType)
	assert.Equal(t, uint16(0x1234), pkt.Address.Short)
	assert.False(t, pkt.Timestamp.IsZero())
	pkt.Release()

	_, err = c.Rx()
	assert.ErrorIs(t, err, ErrNoPacket)
}

func TestConnectExistingAndValidation(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	c1, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)
	again, err := e.Connect("Data", ShortAddr(1), nil)
	assert.ErrorIs(t, err, ErrConnExists)
	assert.Same(t, c1, again)

	c2, err := e.Connect("Data", ShortAddr(2), nil)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID(), c2.ID())

	_, err = e.Connect("Local AT", ShortAddr(3), nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = e.Connect("Data", Address{}, nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = e.Connect("Nope", ShortAddr(1), nil)
	assert.ErrorIs(t, err, ErrUnknownConnType)

	assert.Len(t, e.Conns(), 2)
}

func TestConnectWithoutMode(t *testing.T) {
	cfg := testEngineCfg()
	cfg.Mode = ""
	e, _ := newTestEngine(t, cfg)
	assert.Equal(t, "", e.Mode())

	_, err := e.Connect("Data", ShortAddr(1), nil)
	assert.ErrorIs(t, err, ErrNoMode)
}

func TestTxAcked(t *testing.T) {
	e, radio := newTestEngine(t, nil)
	radio.autoAck.Store(true)

	c, err := e.Connect("Data", ShortAddr(0xBEEF), nil)
	require.NoError(t, err)

	require.NoError(t, c.TxString(context.Background(), "ping"))
	frame := radio.next(t)
	assert.Equal(t, opDataTx, frame[0])
	assert.NotZero(t, frame[1])
	assert.Equal(t, []byte{0xBE, 0xEF}, frame[2:4])
	assert.Equal(t, []byte("ping"), frame[4:])

	assert.Zero(t, c.FrameID())
	assert.Zero(t, e.FrameIDs().InUse())
}

func TestTxNegativeAck(t *testing.T) {
	e, radio := newTestEngine(t, nil)
	radio.autoAck.Store(true)
	radio.ackStatus.Store(0x21)

	c, err := e.Connect("Data", ShortAddr(7), nil)
	require.NoError(t, err)

	err = c.Tx(context.Background(), []byte{1})
	status, ok := IsTxError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, byte(0x21), status)
}

func TestTxAckTimeout(t *testing.T) {
	cfg := testEngineCfg()
	cfg.AckTimeoutMs = 1000
	e, radio := newTestEngine(t, cfg)

	c, err := e.Connect("Data", ShortAddr(7), nil)
	require.NoError(t, err)

	start := time.Now()
	err = c.Tx(context.Background(), []byte{1})
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 1200*time.Millisecond)

	radio.next(t)
	assert.Zero(t, e.FrameIDs().InUse())
}

func TestTxWithoutAck(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(7), nil)
	require.NoError(t, err)

	require.NoError(t, c.Tx(context.Background(), []byte("x"), WithoutAck(), WithBroadcast()))
	frame := radio.next(t)
	assert.Zero(t, frame[1])
	assert.Equal(t, []byte{0xFF, 0xFF}, frame[2:4])
}

func TestTxOrdering(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(7), nil)
	require.NoError(t, err)
	_, err = c.SetSettings(ConnSettings{})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Tx(context.Background(), []byte{byte(i)}))
	}
	for i := 0; i < 50; i++ {
		frame := radio.next(t)
		assert.Equal(t, byte(i), frame[4])
	}
}

func TestTxDataTooLong(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(7), nil)
	require.NoError(t, err)
	err = c.Tx(context.Background(), make([]byte, 101))
	assert.ErrorIs(t, err, ErrDataTooLong)
	assert.Zero(t, e.FrameIDs().InUse())
}

func TestTxReceiveOnlyType(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	c, err := e.Connect("Transmit Status", Address{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Tx(context.Background(), []byte{1}, WithoutAck()), ErrNoEncoder)
}

func TestFrameIDExhaustionDegrades(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(7), nil)
	require.NoError(t, err)

	var held []byte
	for {
		id, err := e.FrameIDs().Alloc(c.ID())
		if err != nil {
			break
		}
		held = append(held, id)
	}
	require.Len(t, held, 255)

	require.NoError(t, c.Tx(context.Background(), []byte{1}))
	assert.Zero(t, radio.next(t)[1])

	for _, id := range held {
		e.FrameIDs().Release(id)
	}
	radio.autoAck.Store(true)
	require.NoError(t, c.Tx(context.Background(), []byte{2}))
	assert.NotZero(t, radio.next(t)[1])
}

func TestLocalATRoundTrip(t *testing.T) {
	e, radio := newTestEngine(t, nil)
	radio.autoAck.Store(true)

	c, err := e.Connect("Local AT", Address{}, nil)
	require.NoError(t, err)

	require.NoError(t, c.TxString(context.Background(), "NI"))
	frame := radio.next(t)
	assert.Equal(t, opLocalTx, frame[0])
	assert.Equal(t, "NI", string(frame[2:4]))

	pkt, err := c.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "NI", pkt.ATCommand)
	assert.Equal(t, frame[1], pkt.FrameID)
	pkt.Release()
}

func TestChecksumErrorRecovers(t *testing.T) {
	var discards sync.Map
	e, radio := newTestEngine(t, nil, WithDiscardHook(func(reason DiscardReason) {
		discards.Store(reason, true)
	}))

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)

	bad := mustFrame(t, opDataRx, 0, 1, 'x')
	bad[len(bad)-1] ^= 0x01
	require.NoError(t, radio.injectRaw(bad))
	require.NoError(t, radio.inject(opDataRx, 0, 1, 'y'))

	pkt, err := c.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), pkt.Data)
	pkt.Release()

	_, seen := discards.Load(DiscardChecksum)
	assert.True(t, seen)
	assert.Zero(t, c.RxCount())
}

func TestResyncOnStartMidFrame(t *testing.T) {
	var resyncs atomic.Int32
	e, radio := newTestEngine(t, nil, WithDiscardHook(func(reason DiscardReason) {
		if reason == DiscardResync {
			resyncs.Add(1)
		}
	}))

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)

	require.NoError(t, radio.injectRaw([]byte{0x7E, 0x00, 0x05, opDataRx, 0x00}))
	require.NoError(t, radio.inject(opDataRx, 0, 1, 'z'))

	pkt, err := c.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("z"), pkt.Data)
	pkt.Release()
	assert.Equal(t, int32(1), resyncs.Load())
}

func TestEscapedAddressRoundTrip(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(0x7D11), nil)
	require.NoError(t, err)

	require.NoError(t, radio.inject(opDataRx, 0x7D, 0x11, 0x7E, 0x13))
	pkt, err := c.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7E, 0x13}, pkt.Data)
	pkt.Release()

	require.NoError(t, c.Tx(context.Background(), []byte{0x7D}, WithoutAck()))
	frame := radio.next(t)
	assert.Equal(t, []byte{opDataTx, 0, 0x7D, 0x11, 0x7D}, frame)
}

func TestUnmatchedFrameIsDiscarded(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)

	require.NoError(t, radio.inject(opDataRx, 0, 2, 'a'))
	require.NoError(t, radio.inject(0x42, 1, 2, 3))
	require.NoError(t, radio.inject(opDataRx, 0, 1, 'b'))

	pkt, err := c.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), pkt.Data)
	pkt.Release()
}

func TestDiscardLogsSourceAddress(t *testing.T) {
	var out syncBuffer
	e, radio := newTestEngine(t, nil, WithLogger(log.NewLoggerWithWriter(&out, 9)))

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)

	require.NoError(t, radio.inject(opDataRx, 0, 9, 'a'))
	require.NoError(t, radio.inject(opDataRx, 0, 1, 'b'))

	// both frames go through the same handler worker, in order
	pkt, err := c.RxWait(rxCtx(t))
	require.NoError(t, err)
	pkt.Release()

	logged := out.String()
	assert.Contains(t, logged, `"reason":"no_connection"`)
	assert.Contains(t, logged, `"addr":"short=0x0009"`)
}

func TestSleepingConnections(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c1, err := e.Connect("Data", ShortAddr(5), nil)
	require.NoError(t, err)
	require.NoError(t, c1.Sleep(false))

	// a sleeping connection does not block a new one for the same address
	c2, err := e.Connect("Data", ShortAddr(5), nil)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)

	again, err := e.Connect("Data", ShortAddr(5), nil)
	assert.ErrorIs(t, err, ErrConnExists)
	assert.Same(t, c2, again)

	require.NoError(t, radio.inject(opDataRx, 0, 5, 1))
	pkt, err := c2.RxWait(rxCtx(t))
	require.NoError(t, err)
	pkt.Release()
	assert.Zero(t, c1.RxCount())

	require.NoError(t, c2.Sleep(false))
	require.NoError(t, c1.Wake())
	require.NoError(t, radio.inject(opDataRx, 0, 5, 2))
	pkt, err = c1.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, pkt.Data)
	pkt.Release()
}

func TestConnectAddressLessBehindSleepingHead(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	head, err := e.Connect("Local AT", Address{}, nil)
	require.NoError(t, err)
	require.NoError(t, head.Sleep(false))

	awake, err := e.Connect("Local AT", Address{}, nil)
	require.NoError(t, err)
	assert.NotSame(t, head, awake)

	again, err := e.Connect("Local AT", Address{}, nil)
	assert.ErrorIs(t, err, ErrConnExists)
	assert.Same(t, awake, again)
	assert.Len(t, e.Conns(), 2)
}

func TestWakeRejectsAwakeDuplicate(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c1, err := e.Connect("Data", ShortAddr(5), nil)
	require.NoError(t, err)
	require.NoError(t, c1.Sleep(false))
	c2, err := e.Connect("Data", ShortAddr(5), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, c1.Wake(), ErrConnExists)
	assert.True(t, c1.IsSleeping())
	assert.False(t, c2.IsSleeping())

	require.NoError(t, radio.inject(opDataRx, 0, 5, 7))
	pkt, err := c2.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, pkt.Data)
	pkt.Release()

	// once the duplicate is gone the sleeper may wake
	require.NoError(t, c2.End())
	require.NoError(t, c1.Wake())
	assert.False(t, c1.IsSleeping())

	// waking an awake connection is a no-op
	require.NoError(t, c1.Wake())
}

func TestSleepingOnlyMatchDiscardsUnlessWakeOnRx(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(5), nil)
	require.NoError(t, err)
	marker, err := e.Connect("Data", ShortAddr(6), nil)
	require.NoError(t, err)
	require.NoError(t, c.Sleep(false))

	// frames of one handler are processed in order
	require.NoError(t, radio.inject(opDataRx, 0, 5, 1))
	require.NoError(t, radio.inject(opDataRx, 0, 6, 0))
	m, err := marker.RxWait(rxCtx(t))
	require.NoError(t, err)
	m.Release()
	assert.Zero(t, c.RxCount())

	require.NoError(t, c.Sleep(true))
	require.NoError(t, radio.inject(opDataRx, 0, 5, 2))

	pkt, err := c.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, pkt.Data)
	pkt.Release()
	assert.False(t, c.IsSleeping())
}

func TestCatchAll(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	_, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)
	catch, err := e.Connect("Data", ShortAddr(UnknownShort), nil)
	require.NoError(t, err)
	_, err = catch.SetSettings(ConnSettings{CatchAll: true})
	require.NoError(t, err)

	require.NoError(t, radio.inject(opDataRx, 0, 9, 'q'))
	pkt, err := catch.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, uint16(9), pkt.Address.Short)
	pkt.Release()
}

func TestDeliveryCallbacksPerConnection(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	type got struct {
		conn *Conn
		data byte
	}
	results := make(chan got, 20)
	recv := ReceiverFunc(func(c *Conn, pkt *Packet) Disposition {
		results <- got{conn: c, data: pkt.Data[0]}
		return Release
	})

	c1, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)
	c2, err := e.Connect("Data", ShortAddr(2), nil)
	require.NoError(t, err)
	require.NoError(t, c1.SetReceiver(recv))
	require.NoError(t, c2.SetReceiver(recv))

	for i := byte(0); i < 5; i++ {
		require.NoError(t, radio.inject(opDataRx, 0, 1, 10+i))
		require.NoError(t, radio.inject(opDataRx, 0, 2, 20+i))
	}

	var from1, from2 []byte
	for i := 0; i < 10; i++ {
		select {
		case r := <-results:
			switch r.conn {
			case c1:
				from1 = append(from1, r.data)
			case c2:
				from2 = append(from2, r.data)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("delivery timed out")
		}
	}
	assert.Equal(t, []byte{10, 11, 12, 13, 14}, from1)
	assert.Equal(t, []byte{20, 21, 22, 23, 24}, from2)

	_, err = c1.Rx()
	assert.ErrorIs(t, err, ErrCallbackActive)
}

func TestReceiverPanicDropsOnePacket(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)

	var retained *Packet
	got := make(chan byte, 2)
	require.NoError(t, c.SetReceiver(ReceiverFunc(func(_ *Conn, pkt *Packet) Disposition {
		if pkt.Data[0] == 1 {
			panic("boom")
		}
		retained = pkt
		got <- pkt.Data[0]
		return Retain
	})))

	require.NoError(t, radio.inject(opDataRx, 0, 1, 1))
	require.NoError(t, radio.inject(opDataRx, 0, 1, 2))

	select {
	case v := <-got:
		assert.Equal(t, byte(2), v)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery timed out")
	}
	retained.Release()
}

func TestReceiverAttachedLaterGetsQueued(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)
	require.NoError(t, radio.inject(opDataRx, 0, 1, 7))
	require.Eventually(t, func() bool { return c.RxCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	got := make(chan byte, 1)
	require.NoError(t, c.SetReceiver(ReceiverFunc(func(_ *Conn, pkt *Packet) Disposition {
		got <- pkt.Data[0]
		return Release
	})))
	select {
	case v := <-got:
		assert.Equal(t, byte(7), v)
	case <-time.After(2 * time.Second):
		t.Fatal("queued packet not delivered")
	}
}

func TestEndDeferredWhileDelivering(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)
	id := c.ID()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	require.NoError(t, c.SetReceiver(ReceiverFunc(func(_ *Conn, _ *Packet) Disposition {
		close(entered)
		<-unblock
		return Release
	})))
	require.NoError(t, radio.inject(opDataRx, 0, 1, 1))
	<-entered

	require.NoError(t, c.End())
	assert.False(t, c.Done())
	assert.ErrorIs(t, c.End(), ErrConnEnded)
	_, err = c.Rx()
	assert.ErrorIs(t, err, ErrConnEnded)

	close(unblock)
	require.Eventually(t, c.Done, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, e.Conn(id))
	assert.Empty(t, e.Conns())
}

func TestEndFreesImmediately(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)
	require.NoError(t, radio.inject(opDataRx, 0, 1, 1))
	require.Eventually(t, func() bool { return c.RxCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.End())
	assert.True(t, c.Done())
	assert.Zero(t, c.RxCount())
	assert.ErrorIs(t, c.Tx(context.Background(), []byte{1}), ErrConnEnded)

	// the address is free again
	c2, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)
	assert.NotEqual(t, c.ID(), c2.ID())
}

func TestSetModeSwitch(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	old, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, e.SetMode("missing"), ErrUnknownMode)
	assert.Equal(t, testModeName, e.Mode())

	require.NoError(t, e.SetMode(testMode2Name))
	assert.Equal(t, testMode2Name, e.Mode())
	assert.True(t, old.Done())
	assert.ErrorIs(t, old.Tx(context.Background(), []byte{1}, WithoutAck()), ErrConnEnded)

	_, err = e.Connect("Local AT", Address{}, nil)
	assert.ErrorIs(t, err, ErrUnknownConnType)

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)
	require.NoError(t, radio.inject(opDataRx, 0, 1, 'o'))
	require.NoError(t, radio.inject(opDataRx2, 0, 1, 'n'))

	pkt, err := c.RxWait(rxCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("n"), pkt.Data)
	pkt.Release()
}

func TestSetModeUnderTraffic(t *testing.T) {
	e, radio := newTestEngine(t, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			op := opDataRx
			if i%2 == 1 {
				op = opDataRx2
			}
			_ = radio.inject(op, 0, 1, byte(i))
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if c, err := e.Connect("Data", ShortAddr(1), nil); err == nil {
				_ = c.Tx(context.Background(), []byte{1}, WithoutAck())
			}
		}
	}()

	for i := 0; i < 10; i++ {
		name := testMode2Name
		if i%2 == 1 {
			name = testModeName
		}
		require.NoError(t, e.SetMode(name))
		time.Sleep(5 * time.Millisecond)
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, testModeName, e.Mode())
}

func TestCloseEngine(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	SetDefault(e)
	require.Same(t, e, Default())

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.NoError(t, e.Close())
	assert.Nil(t, Default())
	assert.True(t, c.Done())

	assert.ErrorIs(t, c.Tx(context.Background(), []byte{1}), ErrEngineClosed)
	_, err = e.Connect("Data", ShortAddr(2), nil)
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.ErrorIs(t, e.SetMode(testModeName), ErrEngineClosed)
}

func TestReaderReopensAfterEOF(t *testing.T) {
	transport := newScriptedTransport(
		mustFrame(t, opDataRx, 0, 1, 'a'),
		mustFrame(t, opDataRx, 0, 1, 'b'),
	)
	cfg := testEngineCfg()
	cfg.ReopenBackoff = BackoffCfg{InitialMs: 100, MaxMs: 200, Multiplier: 2}
	e, err := Open(cfg, transport, WithLogger(testLogger()))
	require.NoError(t, err)
	defer e.Close()

	c, err := e.Connect("Data", ShortAddr(1), nil)
	require.NoError(t, err)

	// the first frame may be routed before the connection exists
	deadline := time.After(2 * time.Second)
	for {
		pkt, err := c.Rx()
		if err == nil {
			if pkt.Data[0] == 'b' {
				pkt.Release()
				break
			}
			pkt.Release()
		}
		select {
		case <-deadline:
			t.Fatal("frame after reopen not received")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.GreaterOrEqual(t, transport.Reopens(), 1)
}

func TestDeadLinkRestartsReader(t *testing.T) {
	transport := newScriptedTransport()
	cfg := testEngineCfg()
	cfg.MaxReopen = 1
	cfg.ReopenBackoff = BackoffCfg{InitialMs: 1}
	e, err := Open(cfg, transport, WithLogger(testLogger()))
	require.NoError(t, err)
	defer e.Close()

	assert.Eventually(t, func() bool {
		n, _ := e.sup.Restarts(e.rxWorker)
		return n > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	cfg := testEngineCfg()
	cfg.AckTimeoutMs = -1
	_, err := Open(cfg, newScriptedTransport())
	assert.ErrorIs(t, err, ErrInvalidParam)

	cfg = testEngineCfg()
	cfg.Mode = "missing"
	_, err = Open(cfg, newScriptedTransport(), WithLogger(testLogger()))
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestOnConfigChanged(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	next := testEngineCfg()
	next.AckTimeoutMs = 1500
	next.TxRateLimit = 10
	next.MaxPayload = 64
	require.NoError(t, e.OnConfigChanged("engine", next, e.config()))

	assert.Equal(t, 1500, e.config().AckTimeoutMs)
	assert.Equal(t, DefaultLimits().MaxPayload, e.config().MaxPayload)
	assert.InDelta(t, 10, float64(e.limiter.Limit()), 0.001)

	assert.NoError(t, e.OnConfigChanged("other", nil, nil))
	bad := testEngineCfg()
	bad.TxBurst = -1
	assert.Error(t, e.OnConfigChanged("engine", bad, nil))
}
