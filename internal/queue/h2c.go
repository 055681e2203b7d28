package queue

import (
	"sync"
	"time"

	"github.com/qdma-core/qdma/internal/constants"
	"github.com/qdma-core/qdma/internal/interfaces"
	"github.com/qdma-core/qdma/internal/ring"
	"github.com/qdma-core/qdma/internal/tracker"
	"github.com/qdma-core/qdma/internal/uapi"
)

// H2cQueue is the host-to-card direction bundle: a descriptor ring plus
// the index-parallel request tracker, used for both MM and ST-H2C
// traffic.
type H2cQueue struct {
	desc *ring.RingBuffer
	trk  *tracker.EntryTracker

	hwops  interfaces.HwOps
	qidAbs uint16

	isMM       bool
	descSize   int
	maxDescLen int
	fragLen    int

	observer interfaces.Observer
	logger   interfaces.Logger

	mu      sync.Mutex
	reqList []*Request
	failed  bool
}

// NewH2cQueue allocates the H2C descriptor ring and tracker for cfg.
func NewH2cQueue(cfg Config, allocator interfaces.DmaAllocator, hwops interfaces.HwOps, observer interfaces.Observer) (*H2cQueue, error) {
	descBytes, err := descSizeBytes(cfg.SwDescSzIndex, cfg.DescBypassEn, cfg.IsST)
	if err != nil {
		return nil, err
	}
	capacity := cfg.H2CRingCapacity
	if capacity == 0 {
		capacity = cfg.RingCapacity
	}
	desc, err := ring.Create(capacity, descBytes, allocator)
	if err != nil {
		return nil, err
	}

	maxDescLen := constants.MMMaxDescLen
	if cfg.IsST {
		maxDescLen = constants.STMaxDescLen
	}

	return &H2cQueue{
		desc:       desc,
		trk:        tracker.NewEntryTracker(capacity),
		hwops:      hwops,
		qidAbs:     cfg.QidAbs,
		isMM:       !cfg.IsST,
		descSize:   descBytes,
		maxDescLen: maxDescLen,
		fragLen:    constants.SGFragLen,
		observer:   observer,
		logger:     cfg.Logger,
	}, nil
}

// Destroy releases the ring's allocation.
func (h *H2cQueue) Destroy() error { return h.desc.Destroy() }

// Ring exposes the underlying descriptor ring for CSR/context programming.
func (h *H2cQueue) Ring() *ring.RingBuffer { return h.desc }

// Enqueue appends req to the FIFO of requests awaiting descriptor
// generation. Returns an error once the queue has
// entered the failed state.
func (h *H2cQueue) Enqueue(req *Request) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failed {
		return errQueueFailed
	}
	h.reqList = append(h.reqList, req)
	if h.observer != nil {
		h.observer.ObserveEnqueue(h.qidAbs, false, uint64(req.totalLen))
	}
	return nil
}

// Process generates descriptors for as many queued requests as the ring
// has room for, up to MaxReqServiceCnt requests per call.
// It returns ServiceContinue when the ring filled up or the per-call
// request budget was hit with work still pending.
func (h *H2cQueue) Process() ServiceStatus {
	h.mu.Lock()
	served := 0
	wrote := false
	for len(h.reqList) > 0 && served < constants.MaxReqServiceCnt {
		req := h.reqList[0]
		full := false
		for !req.done() {
			if h.desc.FreeEntries() == 0 {
				full = true
				break
			}
			chunk := req.nextChunk(h.maxDescLen, h.fragLen)
			h.writeDescriptor(chunk, req)
			if chunk.eop {
				h.trk.Set(h.desc.SwIndex(), h.observedCb(req), req.Priv)
			}
			h.desc.AdvanceSwIndex(1)
			wrote = true
			req.advance(chunk)
		}
		if full {
			break
		}
		h.reqList = h.reqList[1:]
		served++
	}
	remaining := len(h.reqList) > 0
	h.mu.Unlock()

	if wrote {
		ring.WriteBarrier()
		h.hwops.WriteH2CPidx(h.qidAbs, h.desc.SwIndex())
	}
	if h.observer != nil {
		h.observer.ObserveQueueDepth(h.qidAbs, false, h.desc.FreeEntries())
	}
	if remaining {
		return ServiceContinue
	}
	return ServiceFinished
}

// observedCb wraps a request's completion callback so the observer sees
// every H2C completion with its byte count and latency.
func (h *H2cQueue) observedCb(req *Request) tracker.CompletionFunc {
	inner := req.Cb
	if h.observer == nil {
		return inner
	}
	bytes, started := uint64(req.totalLen), req.start
	return func(priv interface{}, err error) {
		h.observer.ObserveComplete(h.qidAbs, false, bytes, uint64(time.Since(started)), err == nil)
		if inner != nil {
			inner(priv, err)
		}
	}
}

func (h *H2cQueue) writeDescriptor(c descChunk, req *Request) {
	slot := h.desc.Slot(h.desc.SwIndex())
	if h.isMM {
		d := uapi.MMDescriptor{
			SrcAddr: c.elem.Phys + uint64(c.offset),
			DstAddr: req.DeviceOffset + uint64(c.bytesDone),
			Length:  uint32(c.length),
			SOP:     c.sop,
			EOP:     c.eop,
			Valid:   true,
		}
		copy(slot, uapi.MarshalMMDescriptor(d, h.descSize))
		return
	}
	d := uapi.STDescriptor{
		Addr:   c.elem.Phys + uint64(c.offset),
		Length: uint32(c.length),
		PldLen: uint32(c.length),
		SOP:    c.sop,
		EOP:    c.eop,
	}
	copy(slot, uapi.MarshalSTDescriptor(d, h.descSize))
}

// ServiceCompletions drains newly-reported completions from the ring's
// writeback cidx, invoking each EOP request's callback.
func (h *H2cQueue) ServiceCompletions(budget int) ServiceStatus {
	oldCidx := h.desc.HwIndex()
	newCidx := uint32(h.desc.WbStatus().Cidx) % h.desc.Capacity()
	count := h.desc.IndexDelta(oldCidx, newCidx)

	processed := count
	if processed > uint32(budget) {
		processed = uint32(budget)
	}

	ring.ReadBarrier()
	for step := uint32(0); step < processed; step++ {
		idx := h.desc.Advance(oldCidx, step)
		if cb, priv, ok := h.trk.Take(idx); ok && cb != nil {
			cb(priv, nil)
		}
	}
	h.desc.SetHwIndex(h.desc.Advance(oldCidx, processed))

	if processed < count {
		return ServiceContinue
	}
	return ServiceFinished
}

// CancelAll fails every queued and in-flight request with err.
func (h *H2cQueue) CancelAll(err error) {
	h.mu.Lock()
	h.failed = true
	pending := h.reqList
	h.reqList = nil
	h.mu.Unlock()

	if h.logger != nil && len(pending) > 0 {
		h.logger.Debugf("queue %d: cancelling %d queued h2c requests: %v", h.qidAbs, len(pending), err)
	}

	for _, req := range pending {
		if req.Cb != nil {
			req.Cb(req.Priv, err)
		}
	}

	for idx := uint32(0); idx < h.desc.Capacity(); idx++ {
		if cb, priv, ok := h.trk.Take(idx); ok && cb != nil {
			cb(priv, err)
		}
	}
}

// Reset clears the failed flag, called from remove()/add() re-init.
func (h *H2cQueue) Reset() {
	h.mu.Lock()
	h.failed = false
	h.mu.Unlock()
}

type errQueueFailedT string

func (e errQueueFailedT) Error() string { return string(e) }

var errQueueFailed = errQueueFailedT("queue is in the failed state")
