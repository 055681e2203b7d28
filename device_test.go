package qdma

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qdma-core/qdma/internal/uapi"
)

func allCaps() Capabilities {
	return Capabilities{
		STEnabled: true, MMEnabled: true, MMCompletionEnabled: true,
		DescBypassEnabled: true, PrefetchEnabled: true, Desc64ByteSupported: true,
		NumPFs: 1, QMax: 64,
	}
}

func newOpenDevice(t *testing.T, qmax uint32) (*Device, *TestHwOps) {
	t.Helper()
	dev, hw, _ := NewTestDevice(DefaultDeviceParams(0, 0, qmax), allCaps())
	require.NoError(t, dev.Init())
	require.NoError(t, dev.Open())
	t.Cleanup(func() { dev.Close() })
	return dev, hw
}

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

// completeH2C stands in for hardware: it posts the descriptor-ring
// writeback CIDX and nudges the queue's poll work.
func completeH2C(dev *Device, qid uint16, cidx uint16) {
	qp, _ := dev.Queue(qid)
	qp.inner.H2C().Ring().WriteWbStatus(uapi.WbStatusBase{Cidx: cidx})
	qp.inner.KickH2C()
}

func completeC2H(dev *Device, qid uint16, cidx uint16) {
	qp, _ := dev.Queue(qid)
	qp.inner.C2H().Ring().WriteWbStatus(uapi.WbStatusBase{Cidx: cidx})
	qp.inner.KickC2H()
}

func TestMMLoopback4K(t *testing.T) {
	dev, hw := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.RingCapacity = 2048
	_, err := dev.AddQueue(0, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.StartQueue(0))

	var h2cDone, c2hDone atomic.Bool
	require.NoError(t, dev.EnqueueMMRequest(0, false, []SGElement{{Phys: 0x1000_0000, Len: 4096}}, 0x2000,
		func(priv interface{}, err error) {
			assert.NoError(t, err)
			h2cDone.Store(true)
		}, nil))
	require.NoError(t, dev.EnqueueMMRequest(0, true, []SGElement{{Phys: 0x2000_0000, Len: 4096}}, 0x2000,
		func(priv interface{}, err error) {
			assert.NoError(t, err)
			c2hDone.Store(true)
		}, nil))

	require.Eventually(t, func() bool {
		h, okH := hw.LastH2CPidx(0)
		c, okC := hw.LastC2HPidx(0)
		return okH && h == 1 && okC && c == 1
	}, waitFor, tick, "each 4 KiB request fits one descriptor, so both PIDX advance by exactly 1")

	completeH2C(dev, 0, 1)
	completeC2H(dev, 0, 1)
	require.Eventually(t, func() bool { return h2cDone.Load() && c2hDone.Load() }, waitFor, tick)
}

func TestMMSplitAtFragBoundary(t *testing.T) {
	dev, hw := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.RingCapacity = 2048
	_, err := dev.AddQueue(0, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.StartQueue(0))

	var calls atomic.Int32
	require.NoError(t, dev.EnqueueMMRequest(0, false, []SGElement{{Phys: 0x1000_0000, Len: 120_000}}, 0,
		func(priv interface{}, err error) {
			assert.NoError(t, err)
			calls.Add(1)
		}, nil))

	// 120000 exceeds the per-descriptor maximum, so it is chunked at the
	// 61440 boundary: exactly two descriptors, EOP only on the second.
	require.Eventually(t, func() bool {
		p, ok := hw.LastH2CPidx(0)
		return ok && p == 2
	}, waitFor, tick)

	qp, _ := dev.Queue(0)
	d0 := uapi.UnmarshalMMDescriptor(qp.inner.H2C().Ring().Slot(0))
	d1 := uapi.UnmarshalMMDescriptor(qp.inner.H2C().Ring().Slot(1))
	assert.Equal(t, uint32(61440), d0.Length)
	assert.Equal(t, uint32(120_000-61440), d1.Length)
	assert.True(t, d0.SOP)
	assert.False(t, d0.EOP)
	assert.True(t, d1.EOP)

	completeH2C(dev, 0, 2)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
	assert.Equal(t, int32(1), calls.Load(), "a split request still completes exactly once")
}

func TestSTTxMultiSegment(t *testing.T) {
	dev, hw := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.IsST = true
	cfg.RingCapacity = 64
	cfg.CmptRingCapacity = 64
	cfg.C2HBufferSize = 2048
	_, err := dev.AddQueue(0, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.StartQueue(0))

	var calls atomic.Int32
	sg := []SGElement{{Phys: 0xa000, Len: 1500}, {Phys: 0xb000, Len: 1500}, {Phys: 0xc000, Len: 64}}
	require.NoError(t, dev.EnqueueSTTxRequest(0, sg, func(priv interface{}, err error) {
		assert.NoError(t, err)
		calls.Add(1)
	}, nil))

	require.Eventually(t, func() bool {
		p, ok := hw.LastH2CPidx(0)
		return ok && p == 3
	}, waitFor, tick)

	qp, _ := dev.Queue(0)
	for i, want := range []struct {
		length   uint32
		sop, eop bool
	}{{1500, true, false}, {1500, false, false}, {64, false, true}} {
		d := uapi.UnmarshalSTDescriptor(qp.inner.H2C().Ring().Slot(uint32(i)))
		assert.Equal(t, want.length, d.Length, "descriptor %d length", i)
		assert.Equal(t, want.length, d.PldLen, "descriptor %d pld_len mirrors length", i)
		assert.Equal(t, want.sop, d.SOP, "descriptor %d sop", i)
		assert.Equal(t, want.eop, d.EOP, "descriptor %d eop", i)
	}

	completeH2C(dev, 0, 3)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
}

func TestSTZeroLengthTx(t *testing.T) {
	dev, hw := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.IsST = true
	cfg.RingCapacity = 64
	cfg.CmptRingCapacity = 64
	cfg.C2HBufferSize = 2048
	_, err := dev.AddQueue(0, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.StartQueue(0))

	var calls atomic.Int32
	require.NoError(t, dev.EnqueueSTTxRequest(0, nil, func(priv interface{}, err error) {
		assert.NoError(t, err)
		calls.Add(1)
	}, nil))

	require.Eventually(t, func() bool {
		p, ok := hw.LastH2CPidx(0)
		return ok && p == 1
	}, waitFor, tick)

	qp, _ := dev.Queue(0)
	d := uapi.UnmarshalSTDescriptor(qp.inner.H2C().Ring().Slot(0))
	assert.Zero(t, d.Length)
	assert.True(t, d.SOP)
	assert.True(t, d.EOP)

	completeH2C(dev, 0, 1)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick)
}

func TestSTRxPacketCoalescing(t *testing.T) {
	dev, _ := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.IsST = true
	cfg.RingCapacity = 64
	cfg.CmptRingCapacity = 64
	cfg.C2HBufferSize = 2048
	_, err := dev.AddQueue(0, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.StartQueue(0))

	qp, _ := dev.Queue(0)
	cmpt := qp.inner.C2H().CmptRing()

	// The device delivers two 4096-byte packets, each crossing two
	// 2048-byte receive buffers.
	for i := uint32(0); i < 2; i++ {
		copy(cmpt.Slot(i), uapi.MarshalCmptHeader(uapi.CmptHeader{DescUsed: true, Length: 4096}))
	}
	cmpt.WriteWbStatus(uapi.WbStatusBase{Pidx: 2})

	type result struct {
		frags int
		bytes int
	}
	var mu sync.Mutex
	var results []result

	for i := 0; i < 4; i++ {
		require.NoError(t, dev.EnqueueSTRxRequest(0, 2048, func(priv interface{}, frags []Fragment, err error) {
			if err != nil {
				// The two requests left unmatched are cancelled when the
				// device closes at cleanup.
				assert.True(t, IsCode(err, ErrCodeCancelled), "unexpected error: %v", err)
				return
			}
			total := 0
			for _, f := range frags {
				total += len(f.Data)
			}
			mu.Lock()
			results = append(results, result{frags: len(frags), bytes: total})
			mu.Unlock()
		}, nil))
	}

	// Two packets satisfy the first two requests whole; the other two
	// stay pending until more data arrives.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	for _, r := range results {
		assert.Equal(t, 2, r.frags, "each completed request sees both fragments of its packet")
		assert.Equal(t, 4096, r.bytes)
	}
}

func TestSTZeroLengthRxConsumesOneFragment(t *testing.T) {
	dev, _ := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.IsST = true
	cfg.RingCapacity = 64
	cfg.CmptRingCapacity = 64
	cfg.C2HBufferSize = 2048
	_, err := dev.AddQueue(0, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.StartQueue(0))

	qp, _ := dev.Queue(0)
	cmpt := qp.inner.C2H().CmptRing()
	copy(cmpt.Slot(0), uapi.MarshalCmptHeader(uapi.CmptHeader{DescUsed: true, Length: 1024}))
	cmpt.WriteWbStatus(uapi.WbStatusBase{Pidx: 1})

	var got atomic.Int32
	require.NoError(t, dev.EnqueueSTRxRequest(0, 0, func(priv interface{}, frags []Fragment, err error) {
		assert.NoError(t, err)
		assert.Len(t, frags, 1, "a zero-length request consumes exactly one fragment")
		got.Add(1)
	}, nil))

	require.Eventually(t, func() bool { return got.Load() == 1 }, waitFor, tick)
}

func TestStopWhilePendingCancelsAll(t *testing.T) {
	dev, hw := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.RingCapacity = 2048
	_, err := dev.AddQueue(0, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.StartQueue(0))

	var cancelled atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, dev.EnqueueMMRequest(0, false, []SGElement{{Phys: 0x1000, Len: 512}}, 0,
			func(priv interface{}, err error) {
				if IsCode(err, ErrCodeCancelled) {
					cancelled.Add(1)
				}
			}, nil))
	}

	require.NoError(t, dev.StopQueue(0))

	assert.Equal(t, int32(3), cancelled.Load(), "every pending request completes with Cancelled")
	state, err := dev.GetQueuesState(0)
	require.NoError(t, err)
	assert.Equal(t, QueueAdded, state)

	assert.True(t, hw.WasInvalidated(CtxSW, false, 0), "stop invalidates rather than clears contexts")
	assert.True(t, hw.WasInvalidated(CtxSW, true, 0))
	assert.True(t, hw.WasInvalidated(CtxCMPT, true, 0))
}

func TestLifecycleIdempotence(t *testing.T) {
	dev, _ := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.RingCapacity = 64
	_, err := dev.AddQueue(0, cfg)
	require.NoError(t, err)

	require.Error(t, dev.StopQueue(0), "stop before start must fail")
	require.NoError(t, dev.StartQueue(0))
	require.Error(t, dev.StartQueue(0), "double start must fail")

	state, _ := dev.GetQueuesState(0)
	assert.Equal(t, QueueStarted, state, "failed transition leaves state unchanged")

	require.NoError(t, dev.StopQueue(0))
	require.Error(t, dev.StopQueue(0), "double stop must fail")
	require.NoError(t, dev.RemoveQueue(0))
	require.Error(t, dev.RemoveQueue(0), "remove after remove must fail")
}

func TestSetQmaxRejectedWhileQueuesActive(t *testing.T) {
	dev, _ := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.RingCapacity = 64
	for qid := uint16(0); qid < 4; qid++ {
		_, err := dev.AddQueue(qid, cfg)
		require.NoError(t, err)
		require.NoError(t, dev.StartQueue(qid))
	}

	err := dev.SetQmax(0, 2)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeResourceExhausted))

	for qid := uint16(0); qid < 4; qid++ {
		state, serr := dev.GetQueuesState(qid)
		require.NoError(t, serr)
		assert.Equal(t, QueueStarted, state, "a rejected set_qmax leaves queues untouched")
	}
	assert.True(t, dev.IsQueueInRange(3), "the window is unchanged")
	assert.Equal(t, StateOnline, dev.State(), "a rejected set_qmax transitions the device back online")
}

func TestSetQmaxBracketsOfflineOnline(t *testing.T) {
	dev, _ := newOpenDevice(t, 4)
	require.Equal(t, StateOnline, dev.State())

	require.NoError(t, dev.SetQmax(0, 8))
	assert.Equal(t, StateOnline, dev.State(), "a successful set_qmax ends back online")
	assert.True(t, dev.IsQueueInRange(7), "the new window is applied")
	assert.False(t, dev.IsQueueInRange(8))
}

func TestSetQmaxRequiresOnlineDevice(t *testing.T) {
	dev, _, _ := NewTestDevice(DefaultDeviceParams(0, 0, 4), allCaps())
	t.Cleanup(func() { dev.Close() })
	require.NoError(t, dev.Init())

	err := dev.SetQmax(0, 2)
	require.Error(t, err, "set_qmax before Open must fail")
	assert.True(t, IsCode(err, ErrCodeInvalidState))
}

func TestBackpressureFillsRingWithoutLosingRequests(t *testing.T) {
	dev, hw := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.RingCapacity = 8 // 7 usable slots
	_, err := dev.AddQueue(0, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.StartQueue(0))

	var done atomic.Int32
	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, dev.EnqueueMMRequest(0, false, []SGElement{{Phys: 0x1000, Len: 64}}, 0,
			func(priv interface{}, err error) {
				if err == nil {
					done.Add(1)
				}
			}, nil))
	}

	// With no completions the ring fills to its 7 usable slots and the
	// partial-service path holds the rest.
	require.Eventually(t, func() bool {
		p, ok := hw.LastH2CPidx(0)
		return ok && p == 7
	}, waitFor, tick)

	qp, _ := dev.Queue(0)
	assert.Zero(t, qp.inner.H2C().Ring().FreeEntries())

	// Drain in hardware-sized steps until every request has completed.
	require.Eventually(t, func() bool {
		cidx := uint16(qp.inner.H2C().Ring().SwIndex())
		completeH2C(dev, 0, cidx)
		return done.Load() == n
	}, waitFor, 5*time.Millisecond)
}

func TestUDDOnlyPacketCallback(t *testing.T) {
	dev, _ := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.IsST = true
	cfg.RingCapacity = 64
	cfg.CmptRingCapacity = 64
	cfg.C2HBufferSize = 2048

	var uddSeen atomic.Bool
	cfg.ProcSTUddCb = func(qid uint16, udd []byte, priv interface{}) {
		uddSeen.Store(true)
	}

	_, err := dev.AddQueueWithUDDCache(0, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.StartQueue(0))

	qp, _ := dev.Queue(0)
	cmpt := qp.inner.C2H().CmptRing()
	entry := uapi.MarshalCmptHeader(uapi.CmptHeader{DescUsed: false, UDDBytes: 4})
	slot := cmpt.Slot(0)
	copy(slot, entry)
	copy(slot[uapi.CmptHeaderWireSize:], []byte{0x11, 0x22, 0x33, 0x44})
	cmpt.WriteWbStatus(uapi.WbStatusBase{Pidx: 1})
	qp.inner.KickC2H()

	require.Eventually(t, func() bool { return uddSeen.Load() }, waitFor, tick)

	_, ok := dev.RetrieveLastSTUDDData(0)
	assert.True(t, ok, "the device caches the last UDD-only payload")
}

func TestHardwareErrorFailsQueue(t *testing.T) {
	dev, _ := newOpenDevice(t, 4)

	cfg := DefaultQueueConfig()
	cfg.IsST = true
	cfg.RingCapacity = 64
	cfg.CmptRingCapacity = 64
	cfg.C2HBufferSize = 2048
	_, err := dev.AddQueue(0, cfg)
	require.NoError(t, err)
	require.NoError(t, dev.StartQueue(0))

	var gotErr atomic.Bool
	require.NoError(t, dev.EnqueueSTRxRequest(0, 1024, func(priv interface{}, frags []Fragment, err error) {
		if err != nil {
			gotErr.Store(true)
		}
	}, nil))

	qp, _ := dev.Queue(0)
	cmpt := qp.inner.C2H().CmptRing()
	copy(cmpt.Slot(0), uapi.MarshalCmptHeader(uapi.CmptHeader{DescUsed: true, DescError: 1, Length: 128}))
	cmpt.WriteWbStatus(uapi.WbStatusBase{Pidx: 1})
	qp.inner.KickC2H()

	require.Eventually(t, func() bool { return gotErr.Load() }, waitFor, tick,
		"a desc_error completion fails the pending request")

	require.Eventually(t, func() bool {
		return dev.EnqueueSTRxRequest(0, 64, func(interface{}, []Fragment, error) {}, nil) != nil
	}, waitFor, tick, "the failed queue rejects new receive requests")
}
