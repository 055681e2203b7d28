package qdma

import (
	"github.com/qdma-core/qdma/internal/hwops"
	"github.com/qdma-core/qdma/internal/interfaces"
	"github.com/qdma-core/qdma/internal/ring"
)

// TestMmio wraps internal/hwops.MockMmio, giving callers outside this
// module an in-memory Mmio implementation for unit tests without
// importing an internal package.
type TestMmio struct {
	inner *hwops.MockMmio
}

// NewTestMmio returns a TestMmio with each BAR backed by a zeroed
// in-memory buffer of the given size.
func NewTestMmio(configSize, userSize, bypassSize int) *TestMmio {
	return &TestMmio{inner: hwops.NewMockMmio(configSize, userSize, bypassSize)}
}

func (t *TestMmio) ReadBar(bar interfaces.BarType, offset uintptr, data []byte) error {
	return t.inner.ReadBar(bar, offset, data)
}
func (t *TestMmio) WriteBar(bar interfaces.BarType, offset uintptr, data []byte) error {
	return t.inner.WriteBar(bar, offset, data)
}
func (t *TestMmio) BarInfo(bar interfaces.BarType) (uintptr, uintptr, error) {
	return t.inner.BarInfo(bar)
}

// CallCounts returns the number of ReadBar/WriteBar calls observed.
func (t *TestMmio) CallCounts() (reads, writes int) { return t.inner.CallCounts() }

// TestHwOps wraps internal/hwops.MockHwOps, giving callers a fully
// in-memory HwOps implementation for exercising AddQueue/StartQueue/
// StopQueue and request submission without real hardware.
type TestHwOps struct {
	inner *hwops.MockHwOps
}

// NewTestHwOps returns a TestHwOps reporting the given capabilities.
func NewTestHwOps(caps Capabilities) *TestHwOps {
	return &TestHwOps{inner: hwops.NewMockHwOps(caps.toInternal())}
}

func (t *TestHwOps) Context(op interfaces.CtxOp, ctx interfaces.CtxType, isC2H bool, qidAbs uint16, data []byte) ([]byte, error) {
	return t.inner.Context(op, ctx, isC2H, qidAbs, data)
}

// WasInvalidated reports whether ctx/qid/direction's context was
// invalidated and has not since been written or cleared.
func (t *TestHwOps) WasInvalidated(ctx interfaces.CtxType, isC2H bool, qidAbs uint16) bool {
	return t.inner.WasInvalidated(ctx, isC2H, qidAbs)
}
func (t *TestHwOps) WriteH2CPidx(qidAbs uint16, pidx uint32) error {
	return t.inner.WriteH2CPidx(qidAbs, pidx)
}
func (t *TestHwOps) WriteC2HPidx(qidAbs uint16, pidx uint32) error {
	return t.inner.WriteC2HPidx(qidAbs, pidx)
}
func (t *TestHwOps) WriteCmptCidx(qidAbs uint16, cidx uint32, armIrq bool) error {
	return t.inner.WriteCmptCidx(qidAbs, cidx, armIrq)
}
func (t *TestHwOps) WriteFmap(fn uint16, qbase, qmax uint32) error {
	return t.inner.WriteFmap(fn, qbase, qmax)
}
func (t *TestHwOps) MaskIntr(vector uint32, mask bool) error {
	return t.inner.MaskIntr(vector, mask)
}
func (t *TestHwOps) WriteIntrCidx(vector uint32, cidx uint32) error {
	return t.inner.WriteIntrCidx(vector, cidx)
}
func (t *TestHwOps) Capabilities() (interfaces.Capabilities, error) { return t.inner.Capabilities() }
func (t *TestHwOps) VersionInfo() (uint16, uint16, uint16, error)   { return t.inner.VersionInfo() }
func (t *TestHwOps) ReadCSR() (interfaces.CSRConf, error)           { return t.inner.ReadCSR() }
func (t *TestHwOps) WriteQid2Vec(qidAbs uint16, isC2H bool, vector uint32, coalescing bool) error {
	return t.inner.WriteQid2Vec(qidAbs, isC2H, vector, coalescing)
}

// LastH2CPidx returns the last PIDX written for qidAbs's H2C doorbell.
func (t *TestHwOps) LastH2CPidx(qidAbs uint16) (uint32, bool) { return t.inner.LastH2CPidx(qidAbs) }

// LastC2HPidx returns the last PIDX written for qidAbs's C2H doorbell.
func (t *TestHwOps) LastC2HPidx(qidAbs uint16) (uint32, bool) { return t.inner.LastC2HPidx(qidAbs) }

// SetCSR installs a CSR snapshot the mock will return from ReadCSR.
func (t *TestHwOps) SetCSR(csr CSRSnapshot) {
	t.inner.SetCSR(interfaces.CSRConf{
		RingSize:          csr.RingSize,
		C2HTimerCount:     csr.C2HTimerCount,
		C2HThresholdCount: csr.C2HThresholdCount,
		C2HBufferSize:     csr.C2HBufferSize,
		WritebackInterval: csr.WritebackInterval,
	})
}

// FailNextContext arms (true) or disarms (false) Context failures: while
// armed, every Context call fails, for exercising rollback paths in
// AddQueue/StartQueue.
func (t *TestHwOps) FailNextContext(fail bool) { t.inner.FailContext = fail }

// ContextCalls returns the number of Context calls observed so far.
func (t *TestHwOps) ContextCalls() int { return t.inner.ContextCalls }

// NewTestAllocator returns a DmaAllocator backed by anonymous mmap
// regions, suitable for tests and reference builds without a real IOMMU.
func NewTestAllocator() interfaces.DmaAllocator { return ring.NewMmapAllocator() }

// NewTestDevice wires a TestMmio/TestHwOps/TestAllocator and a fresh
// resource manager into a ready-to-use Device, the single entry point
// unit tests outside this module should use to exercise the Driver API
// surface end to end.
func NewTestDevice(params DeviceParams, caps Capabilities) (*Device, *TestHwOps, *TestMmio) {
	mmio := NewTestMmio(4096, 4096, 4096)
	hw := NewTestHwOps(caps)
	alloc := NewTestAllocator()
	dev := NewDevice(mmio, hw, alloc, NewResourceManager(), params)
	return dev, hw, mmio
}
