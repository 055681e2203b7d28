// Package resource implements the queue-index allocator and
// per-function active-queue accounting: each Manager holds a map from
// bus range to {qbase, qmax, per-function queue counts}, guarded by
// one mutex. There is no package-level instance; callers share a
// Manager by passing the same one around.
package resource

import "sync"

// FunctionCounts tracks how many queues of each kind are currently
// added (from add until remove, whether started or not) for one
// function, used to block dev_update/set_qmax while any are in use.
type FunctionCounts struct {
	H2CActive  int
	C2HActive  int
	CmptActive int
}

func (c FunctionCounts) total() int { return c.H2CActive + c.C2HActive + c.CmptActive }

type busEntry struct {
	qbase  uint32
	qmax   uint32
	counts map[uint16]*FunctionCounts // per function-id
}

// Manager is the process-wide resource registry.
type Manager struct {
	mu  sync.Mutex
	bus map[uint32]*busEntry // keyed by a caller-assigned bus-range handle
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{bus: make(map[uint32]*busEntry)}
}

// Register installs the qbase/qmax window for a bus range, used once at
// device open.
func (m *Manager) Register(busRange uint32, qbase, qmax uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bus[busRange] = &busEntry{qbase: qbase, qmax: qmax, counts: make(map[uint16]*FunctionCounts)}
}

// Window returns the current qbase/qmax for a bus range.
func (m *Manager) Window(busRange uint32) (qbase, qmax uint32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.bus[busRange]
	if !ok {
		return 0, 0, false
	}
	return e.qbase, e.qmax, true
}

// ActiveQueues returns a copy of the function's current active-queue
// counts.
func (m *Manager) ActiveQueues(busRange uint32, fn uint16) FunctionCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.bus[busRange]
	if !ok {
		return FunctionCounts{}
	}
	c, ok := e.counts[fn]
	if !ok {
		return FunctionCounts{}
	}
	return *c
}

func (m *Manager) countsFor(e *busEntry, fn uint16) *FunctionCounts {
	c, ok := e.counts[fn]
	if !ok {
		c = &FunctionCounts{}
		e.counts[fn] = c
	}
	return c
}

// MarkActive increments the appropriate active-queue counter when a
// queue is added under the function.
func (m *Manager) MarkActive(busRange uint32, fn uint16, isC2H, hasCmpt bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.bus[busRange]
	if !ok {
		return
	}
	c := m.countsFor(e, fn)
	if isC2H {
		c.C2HActive++
	} else {
		c.H2CActive++
	}
	if hasCmpt {
		c.CmptActive++
	}
}

// MarkInactive decrements the appropriate active-queue counter when a
// queue is removed.
func (m *Manager) MarkInactive(busRange uint32, fn uint16, isC2H, hasCmpt bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.bus[busRange]
	if !ok {
		return
	}
	c := m.countsFor(e, fn)
	if isC2H {
		if c.C2HActive > 0 {
			c.C2HActive--
		}
	} else if c.H2CActive > 0 {
		c.H2CActive--
	}
	if hasCmpt && c.CmptActive > 0 {
		c.CmptActive--
	}
}

// DevUpdate changes a function's qmax, failing with false if the
// function currently has any active queue.
func (m *Manager) DevUpdate(busRange uint32, fn uint16, newQmax uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.bus[busRange]
	if !ok {
		return false
	}
	if c, ok := e.counts[fn]; ok && c.total() > 0 {
		return false
	}
	e.qmax = newQmax
	return true
}

// SetQmax rebuilds the bus range's qbase/qmax window, failing with
// false if any function under it has an active queue.
func (m *Manager) SetQmax(busRange uint32, newQbase, newQmax uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.bus[busRange]
	if !ok {
		return false
	}
	for _, c := range e.counts {
		if c.total() > 0 {
			return false
		}
	}
	e.qbase = newQbase
	e.qmax = newQmax
	return true
}
