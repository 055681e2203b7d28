package hwops

import (
	"sync"

	"github.com/qdma-core/qdma/internal/interfaces"
	"github.com/qdma-core/qdma/internal/uapi"
)

// MockMmio is an in-memory fake of interfaces.Mmio for tests, with
// call-count tracking.
type MockMmio struct {
	mu     sync.Mutex
	bars   map[interfaces.BarType][]byte
	reads  int
	writes int
}

// NewMockMmio returns a MockMmio with each BAR backed by a zeroed
// in-memory buffer of the given size.
func NewMockMmio(configSize, userSize, bypassSize int) *MockMmio {
	return &MockMmio{
		bars: map[interfaces.BarType][]byte{
			interfaces.BarConfig: make([]byte, configSize),
			interfaces.BarUser:   make([]byte, userSize),
			interfaces.BarBypass: make([]byte, bypassSize),
		},
	}
}

func (m *MockMmio) ReadBar(bar interfaces.BarType, offset uintptr, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	buf := m.bars[bar]
	copy(data, buf[offset:])
	return nil
}

func (m *MockMmio) WriteBar(bar interfaces.BarType, offset uintptr, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	buf := m.bars[bar]
	copy(buf[offset:], data)
	return nil
}

func (m *MockMmio) BarInfo(bar interfaces.BarType) (uintptr, uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return 0, uintptr(len(m.bars[bar])), nil
}

// CallCounts returns the number of ReadBar/WriteBar calls observed.
func (m *MockMmio) CallCounts() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}

// MockHwOps is an in-memory fake of interfaces.HwOps, used throughout
// the internal package tests in place of a register-programmed
// binding.
type MockHwOps struct {
	mu sync.Mutex

	caps interfaces.Capabilities

	ctxStore    map[ctxKey][]byte
	invalidated map[ctxKey]bool
	h2cPidx     map[uint16]uint32
	c2hPidx     map[uint16]uint32
	cmptCidx    map[uint16]uint32
	intrCidx    map[uint32]uint32
	qid2vec     map[qidDirKey]uapi.Qid2VecContext
	masked      map[uint32]bool
	fmap        map[uint16][2]uint32

	csr interfaces.CSRConf

	ContextCalls int
	FailContext  bool
}

type ctxKey struct {
	ctx   interfaces.CtxType
	isC2H bool
	qid   uint16
}

type qidDirKey struct {
	qid   uint16
	isC2H bool
}

// NewMockHwOps returns a ready-to-use MockHwOps with the given
// capability bits.
func NewMockHwOps(caps interfaces.Capabilities) *MockHwOps {
	return &MockHwOps{
		caps:        caps,
		ctxStore:    make(map[ctxKey][]byte),
		invalidated: make(map[ctxKey]bool),
		h2cPidx:     make(map[uint16]uint32),
		c2hPidx:     make(map[uint16]uint32),
		cmptCidx:    make(map[uint16]uint32),
		intrCidx:    make(map[uint32]uint32),
		qid2vec:     make(map[qidDirKey]uapi.Qid2VecContext),
		masked:      make(map[uint32]bool),
		fmap:        make(map[uint16][2]uint32),
	}
}

func (m *MockHwOps) Context(op interfaces.CtxOp, ctx interfaces.CtxType, isC2H bool, qidAbs uint16, data []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContextCalls++
	if m.FailContext {
		return nil, errMockHwFailure
	}

	key := ctxKey{ctx: ctx, isC2H: isC2H, qid: qidAbs}
	switch op {
	case interfaces.CtxOpWrite:
		buf := make([]byte, len(data))
		copy(buf, data)
		m.ctxStore[key] = buf
		delete(m.invalidated, key)
		return nil, nil
	case interfaces.CtxOpRead:
		return m.ctxStore[key], nil
	case interfaces.CtxOpClear:
		delete(m.ctxStore, key)
		delete(m.invalidated, key)
		return nil, nil
	case interfaces.CtxOpInvalidate:
		delete(m.ctxStore, key)
		m.invalidated[key] = true
		return nil, nil
	default:
		return nil, errMockHwFailure
	}
}

// WasInvalidated reports whether ctx/qid/direction's context was
// CtxOpInvalidate'd with no CtxOpWrite or CtxOpClear since, letting tests
// assert stop()'s invalidate semantics distinctly from add()/remove()'s
// clear semantics.
func (m *MockHwOps) WasInvalidated(ctx interfaces.CtxType, isC2H bool, qidAbs uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidated[ctxKey{ctx: ctx, isC2H: isC2H, qid: qidAbs}]
}

func (m *MockHwOps) WriteH2CPidx(qidAbs uint16, pidx uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h2cPidx[qidAbs] = pidx
	return nil
}

func (m *MockHwOps) WriteC2HPidx(qidAbs uint16, pidx uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c2hPidx[qidAbs] = pidx
	return nil
}

func (m *MockHwOps) WriteCmptCidx(qidAbs uint16, cidx uint32, armIrq bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmptCidx[qidAbs] = cidx
	return nil
}

func (m *MockHwOps) WriteFmap(fn uint16, qbase uint32, qmax uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fmap[fn] = [2]uint32{qbase, qmax}
	return nil
}

func (m *MockHwOps) MaskIntr(vector uint32, mask bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masked[vector] = mask
	return nil
}

func (m *MockHwOps) WriteIntrCidx(vector uint32, cidx uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intrCidx[vector] = cidx
	return nil
}

func (m *MockHwOps) Capabilities() (interfaces.Capabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps, nil
}

func (m *MockHwOps) VersionInfo() (uint16, uint16, uint16, error) {
	return 2020, 2, 0, nil
}

func (m *MockHwOps) ReadCSR() (interfaces.CSRConf, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.csr, nil
}

// WriteQid2Vec implements interfaces.Qid2VecCapable.
func (m *MockHwOps) WriteQid2Vec(qidAbs uint16, isC2H bool, vector uint32, coalescing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qid2vec[qidDirKey{qid: qidAbs, isC2H: isC2H}] = uapi.Qid2VecContext{
		Vector:     uint16(vector),
		Coalescing: coalescing,
	}
	return nil
}

// LastH2CPidx returns the last PIDX written for qidAbs's H2C doorbell,
// for test assertions.
func (m *MockHwOps) LastH2CPidx(qidAbs uint16) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.h2cPidx[qidAbs]
	return v, ok
}

// LastIntrCidx returns the last CIDX written for a vector's coalescing
// ring, for test assertions.
func (m *MockHwOps) LastIntrCidx(vector uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.intrCidx[vector]
	return v, ok
}

// LastC2HPidx returns the last PIDX written for qidAbs's C2H doorbell,
// for test assertions.
func (m *MockHwOps) LastC2HPidx(qidAbs uint16) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.c2hPidx[qidAbs]
	return v, ok
}

// SetCSR installs a CSR snapshot the mock will return from ReadCSR.
func (m *MockHwOps) SetCSR(csr interfaces.CSRConf) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.csr = csr
}

type mockHwError string

func (e mockHwError) Error() string { return string(e) }

const errMockHwFailure = mockHwError("mock hwops: simulated context programming failure")

var (
	_ interfaces.HwOps          = (*MockHwOps)(nil)
	_ interfaces.Qid2VecCapable = (*MockHwOps)(nil)
	_ interfaces.Mmio           = (*MockMmio)(nil)
)
