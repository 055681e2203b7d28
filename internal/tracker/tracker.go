// Package tracker implements the two request-tracker shapes the queue
// engine needs: an index-parallel shadow array for MM/ST-H2C
// completions, and a bounded SPSC queue of length-aware requests for
// ST C2H.
package tracker

import (
	"sync"
	"time"
)

// CompletionFunc is invoked exactly once per completed MM/ST-H2C
// request, with err nil on success, a Cancelled/HardwareError kind
// otherwise.
type CompletionFunc func(priv interface{}, err error)

type entry struct {
	cb   CompletionFunc
	priv interface{}
	set  bool
}

// EntryTracker is the index-parallel request tracker for MM and ST H2C
// transfers. It has one slot per descriptor-ring slot; only the slot
// carrying a request's EOP descriptor holds a callback. There is no
// locking: the enqueue path publishes at the ring's sw_index and the
// poll thread only ever reads at or behind the ring's hw_index, so
// producer and consumer never touch the same slot concurrently.
type EntryTracker struct {
	entries []entry
}

// NewEntryTracker allocates a tracker with one slot per ring entry.
func NewEntryTracker(capacity uint32) *EntryTracker {
	return &EntryTracker{entries: make([]entry, capacity)}
}

// Set records the callback and private data for the EOP descriptor at
// index idx.
func (t *EntryTracker) Set(idx uint32, cb CompletionFunc, priv interface{}) {
	t.entries[idx] = entry{cb: cb, priv: priv, set: true}
}

// Take returns and clears the callback registered at idx, if any.
func (t *EntryTracker) Take(idx uint32) (CompletionFunc, interface{}, bool) {
	e := t.entries[idx]
	if !e.set {
		return nil, nil, false
	}
	t.entries[idx] = entry{}
	return e.cb, e.priv, true
}

// STCompletionFunc is invoked exactly once per completed ST C2H request
// with the reassembled fragment list, or with an error.
type STCompletionFunc func(priv interface{}, fragments []Fragment, err error)

// Fragment mirrors a reassembled packet fragment handed to a completed
// ST C2H request's callback.
type Fragment struct {
	Data []byte
	UDD  []byte
	SOP  bool
	EOP  bool
}

// C2HRequest is one pending ST C2H receive request.
type C2HRequest struct {
	Len   int
	Cb    STCompletionFunc
	Priv  interface{}
	Start time.Time
}

// C2HTracker is the bounded SPSC queue of pending ST C2H receive
// requests. The enqueue path is the producer; the poll thread is the
// sole consumer. The tracker's own mutex guards its indices.
type C2HTracker struct {
	mu       sync.Mutex
	capacity uint32
	requests []C2HRequest
	pidx     uint32
	cidx     uint32
	count    uint32
}

// NewC2HTracker allocates a bounded queue with capacity equal to the
// descriptor-ring capacity.
func NewC2HTracker(capacity uint32) *C2HTracker {
	return &C2HTracker{capacity: capacity, requests: make([]C2HRequest, capacity)}
}

// Push appends a pending receive request. It reports false if the
// tracker is full (ResourceExhausted at the caller).
func (t *C2HTracker) Push(req C2HRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == t.capacity {
		return false
	}
	t.requests[t.pidx] = req
	t.pidx = (t.pidx + 1) % t.capacity
	t.count++
	return true
}

// Peek returns the oldest pending request without removing it.
func (t *C2HTracker) Peek() (C2HRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return C2HRequest{}, false
	}
	return t.requests[t.cidx], true
}

// Pop removes the oldest pending request.
func (t *C2HTracker) Pop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return
	}
	t.requests[t.cidx] = C2HRequest{}
	t.cidx = (t.cidx + 1) % t.capacity
	t.count--
}

// Len returns the number of pending requests.
func (t *C2HTracker) Len() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// CancelAll pops every pending request, invoking each callback with
// err.
func (t *C2HTracker) CancelAll(err error) {
	t.mu.Lock()
	pending := make([]C2HRequest, 0, t.count)
	for t.count > 0 {
		pending = append(pending, t.requests[t.cidx])
		t.requests[t.cidx] = C2HRequest{}
		t.cidx = (t.cidx + 1) % t.capacity
		t.count--
	}
	t.mu.Unlock()

	for _, req := range pending {
		if req.Cb != nil {
			req.Cb(req.Priv, nil, err)
		}
	}
}
