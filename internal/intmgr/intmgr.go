// Package intmgr implements vector allocation across the device's
// three interrupt modes: Poll (no vectors), DirectIrq (least-loaded
// data vector per queue), and CoalescedIrq (one coalescing ring per
// vector, shared by every queue linked to it).
package intmgr

import (
	"sync"

	"github.com/qdma-core/qdma/internal/interfaces"
	"github.com/qdma-core/qdma/internal/intring"
	"github.com/qdma-core/qdma/internal/queue"
)

// Mode selects how the device delivers completion notifications.
type Mode int

const (
	ModePoll Mode = iota
	ModeDirectIrq
	ModeCoalescedIrq
)

// Layout describes the per-function MSI-X vector partition: one Error
// vector on the master PF, then the User vectors, then data vectors.
type Layout struct {
	HasErrorVector bool
	UserVectors    int
	DataVectors    int
}

type errNotApplicable string

func (e errNotApplicable) Error() string { return string(e) }

// Manager assigns and tracks interrupt vectors for one function.
type Manager struct {
	mode      Mode
	hwops     interfaces.HwOps
	allocator interfaces.DmaAllocator
	layout    Layout
	baseData  uint32

	mu       sync.Mutex
	weight   []uint32
	assigned map[uint16]uint32 // qidAbs -> data-vector index (relative to baseData)
	rings    map[uint32]*intring.Ring
}

// New constructs a Manager for the given mode and vector layout.
// allocator is only used in ModeCoalescedIrq, to back coalescing rings.
func New(mode Mode, hwops interfaces.HwOps, allocator interfaces.DmaAllocator, layout Layout) *Manager {
	base := uint32(0)
	if layout.HasErrorVector {
		base++
	}
	base += uint32(layout.UserVectors)

	return &Manager{
		mode:      mode,
		hwops:     hwops,
		allocator: allocator,
		layout:    layout,
		baseData:  base,
		weight:    make([]uint32, layout.DataVectors),
		assigned:  make(map[uint16]uint32),
		rings:     make(map[uint32]*intring.Ring),
	}
}

// Assign picks the least-loaded data vector for qidAbs (DirectIrq) or
// the vector backing qidAbs's coalescing ring (CoalescedIrq). It errors
// in Poll mode: callers must not invoke a VectorAssigner when the
// device runs without interrupts.
func (m *Manager) Assign(qidAbs uint16) (vector uint32, coalescing bool, err error) {
	if m.mode == ModePoll {
		return 0, false, errNotApplicable("interrupt manager is in Poll mode")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := leastLoaded(m.weight)
	m.weight[idx]++
	m.assigned[qidAbs] = idx

	if m.mode == ModeCoalescedIrq {
		if _, ok := m.rings[idx]; !ok {
			ring, rerr := intring.New(m.allocator)
			if rerr != nil {
				m.weight[idx]--
				delete(m.assigned, qidAbs)
				return 0, false, rerr
			}
			m.rings[idx] = ring
		}
	}

	// Unmask the MSI-X entry when the vector picks up its first queue.
	if m.weight[idx] == 1 {
		m.hwops.MaskIntr(m.baseData+idx, false)
	}
	return m.baseData + idx, m.mode == ModeCoalescedIrq, nil
}

// Release returns qidAbs's vector to the pool, decrementing its weight
// and masking the MSI-X entry once no queue references it.
func (m *Manager) Release(qidAbs uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.assigned[qidAbs]
	if !ok {
		return
	}
	delete(m.assigned, qidAbs)
	if m.weight[idx] > 0 {
		m.weight[idx]--
	}
	if m.weight[idx] == 0 {
		m.hwops.MaskIntr(m.baseData+idx, true)
	}
}

// CoalescingRing returns the ring backing the given absolute vector
// number, if any (used by Device.ServiceVector in CoalescedIrq mode and
// by Device.IntRingDump).
func (m *Manager) CoalescingRing(vector uint32) (*intring.Ring, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rings[vector-m.baseData]
	return r, ok
}

// QueuesOnVector lists the queues currently assigned to the given
// absolute vector number, used by the DirectIrq ISR to dispatch every
// queue sharing it.
func (m *Manager) QueuesOnVector(vector uint32) []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var qids []uint16
	for qid, idx := range m.assigned {
		if m.baseData+idx == vector {
			qids = append(qids, qid)
		}
	}
	return qids
}

// Mask masks or unmasks the MSI-X table entry for vector.
func (m *Manager) Mask(vector uint32, mask bool) error {
	return m.hwops.MaskIntr(vector, mask)
}

func leastLoaded(weight []uint32) uint32 {
	best := uint32(0)
	for i := 1; i < len(weight); i++ {
		if weight[i] < weight[best] {
			best = uint32(i)
		}
	}
	return best
}

var _ queue.VectorAssigner = (*Manager)(nil)
