// Package threadmgr implements the fixed per-CPU poll-worker pool
// every QueuePair registers its request-processing and
// completion-servicing work with: goroutines locked to their OS thread
// and pinned with golang.org/x/sys/unix affinity calls, each draining
// a round-serviced list of poll ops.
package threadmgr

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/qdma-core/qdma/internal/constants"
	"github.com/qdma-core/qdma/internal/queue"
)

type opEntry struct {
	id uint64
	fn func() queue.ServiceStatus
}

type worker struct {
	cpu  int
	sem  chan struct{}
	stop chan struct{}
	done chan struct{}

	mu  sync.Mutex
	ops []*opEntry
}

func newWorker(cpu int) *worker {
	return &worker{
		cpu:  cpu,
		sem:  make(chan struct{}, constants.MaxPendingWakeups),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (w *worker) weight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ops)
}

// wake increments the worker's pending-wakeup semaphore, bounded to
// constants.MaxPendingWakeups pending signals.
func (w *worker) wake() {
	select {
	case w.sem <- struct{}{}:
	default:
	}
}

func (w *worker) run() {
	defer close(w.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pinToCPU(w.cpu)

	for {
		select {
		case <-w.stop:
			return
		case <-w.sem:
			w.serviceOnce()
		}
	}
}

func (w *worker) serviceOnce() {
	w.mu.Lock()
	ops := make([]*opEntry, len(w.ops))
	copy(ops, w.ops)
	w.mu.Unlock()

	again := false
	for _, op := range ops {
		if op.fn() == queue.ServiceContinue {
			again = true
		}
	}
	if again {
		w.wake()
	}
}

// pinToCPU pins the calling OS thread to a single CPU. Affinity errors
// are not fatal: the worker still runs, just without being held to its
// CPU.
func pinToCPU(cpu int) {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	unix.SchedSetaffinity(0, &set)
}

// Manager is the fixed pool of per-CPU poll workers every QueuePair
// registers request-processing/completion poll ops with.
// It implements internal/queue.PollRegistrar.
type Manager struct {
	workers []*worker

	mu      sync.Mutex
	nextID  uint64
	opOwner map[uint64]int
}

// New spawns one worker per numWorkers, pinned to CPUs 0..numWorkers-1.
func New(numWorkers int) *Manager {
	if numWorkers < 1 {
		numWorkers = 1
	}
	m := &Manager{
		workers: make([]*worker, numWorkers),
		opOwner: make(map[uint64]int),
	}
	for i := 0; i < numWorkers; i++ {
		m.workers[i] = newWorker(i)
		go m.workers[i].run()
	}
	return m
}

// ActiveProcessors returns the number of poll workers.
func (m *Manager) ActiveProcessors() int { return len(m.workers) }

// Register places fn on the least-loaded worker and returns a token
// for Unregister.
func (m *Manager) Register(fn func() queue.ServiceStatus) interface{} {
	m.mu.Lock()
	widx := m.leastLoadedLocked()
	id := m.nextID
	m.nextID++
	m.opOwner[id] = widx
	m.mu.Unlock()

	w := m.workers[widx]
	w.mu.Lock()
	w.ops = append(w.ops, &opEntry{id: id, fn: fn})
	w.mu.Unlock()
	w.wake()

	return id
}

// Unregister removes a previously registered poll op.
func (m *Manager) Unregister(token interface{}) {
	id, ok := token.(uint64)
	if !ok {
		return
	}

	m.mu.Lock()
	widx, ok := m.opOwner[id]
	if ok {
		delete(m.opOwner, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	w := m.workers[widx]
	w.mu.Lock()
	for i, e := range w.ops {
		if e.id == id {
			w.ops = append(w.ops[:i:i], w.ops[i+1:]...)
			break
		}
	}
	w.mu.Unlock()
}

func (m *Manager) leastLoadedLocked() int {
	best := 0
	bestWeight := m.workers[0].weight()
	for i := 1; i < len(m.workers); i++ {
		if w := m.workers[i].weight(); w < bestWeight {
			best = i
			bestWeight = w
		}
	}
	return best
}

// Wake nudges the worker owning the given poll op, used by enqueue
// paths to kick their queue's request processor without waking the
// whole pool.
func (m *Manager) Wake(token interface{}) {
	id, ok := token.(uint64)
	if !ok {
		return
	}
	m.mu.Lock()
	widx, ok := m.opOwner[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.workers[widx].wake()
}

// WakeAll nudges every worker once; used after an ISR-queued DPC in
// interrupt modes hands off to the poll engine.
func (m *Manager) WakeAll() {
	for _, w := range m.workers {
		w.wake()
	}
}

// Stop terminates every worker goroutine and waits for them to exit.
func (m *Manager) Stop() {
	for _, w := range m.workers {
		close(w.stop)
	}
	for _, w := range m.workers {
		<-w.done
	}
}

var _ queue.PollRegistrar = (*Manager)(nil)
