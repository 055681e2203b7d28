package queue

import (
	"sync"
	"time"

	"github.com/qdma-core/qdma/internal/constants"
	"github.com/qdma-core/qdma/internal/fragqueue"
	"github.com/qdma-core/qdma/internal/interfaces"
	"github.com/qdma-core/qdma/internal/ring"
	"github.com/qdma-core/qdma/internal/tracker"
	"github.com/qdma-core/qdma/internal/uapi"
)

// C2hQueue is the card-to-host direction bundle. For MM it mirrors
// H2cQueue (descriptor ring + index-parallel tracker, source/destination
// swapped). For ST it additionally owns the completion ring, the
// prefilled receive-buffer ring, the packet fragment queue, and the
// bounded request tracker that together implement reassembly and
// request matching.
type C2hQueue struct {
	desc *ring.RingBuffer
	cmpt *ring.RingBuffer // nil unless ST (or MM with completion enabled)

	hwops  interfaces.HwOps
	qidAbs uint16

	isST       bool
	isMM       bool
	descSize   int
	maxDescLen int
	fragLen    int

	observer interfaces.Observer
	logger   interfaces.Logger
	ipFamily uapi.IPFamily
	uddCb    func(qidAbs uint16, udd []byte, priv interface{})

	// MM path.
	mmTrk   *tracker.EntryTracker
	mu      sync.Mutex
	reqList []*Request
	failed  bool
	failErr error

	// ST path.
	allocator interfaces.DmaAllocator
	bufSize   uint32
	pktVA     []byte
	pktPhys   uint64
	fragQ     *fragqueue.Queue
	c2hTrk    *tracker.C2HTracker

	consumedSinceDoorbell uint32

	// Adaptive completion coalescing (only the poll thread touches these).
	adapter    CounterAdapter
	thIdx      uint8
	tmIdx      uint8
	avgPending float64
	cfg        Config
}

// NewC2hQueue allocates the C2H descriptor ring, the index-parallel MM
// tracker, and (for ST, or for MM with EnMMCmpl) a completion ring; ST
// additionally gets receive buffers, a fragment queue, and the bounded
// request tracker.
func NewC2hQueue(cfg Config, allocator interfaces.DmaAllocator, hwops interfaces.HwOps, observer interfaces.Observer) (*C2hQueue, error) {
	descBytes, err := descSizeBytes(cfg.SwDescSzIndex, cfg.DescBypassEn, cfg.IsST)
	if err != nil {
		return nil, err
	}
	capacity := cfg.C2HRingCapacity
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

	c := &C2hQueue{
		desc:       desc,
		hwops:      hwops,
		qidAbs:     cfg.QidAbs,
		isST:       cfg.IsST,
		isMM:       !cfg.IsST,
		descSize:   descBytes,
		maxDescLen: maxDescLen,
		fragLen:    constants.SGFragLen,
		observer:   observer,
		logger:     cfg.Logger,
		ipFamily:   cfg.IPFamily,
		uddCb:      cfg.ProcSTUddCb,
		adapter:    cfg.CounterAdapter,
		thIdx:      cfg.C2HThCntIndex,
		tmIdx:      cfg.C2HTimerCntIndex,
		cfg:        cfg,
	}

	if !cfg.IsST {
		c.mmTrk = tracker.NewEntryTracker(capacity)
		if !cfg.EnMMCmpl {
			return c, nil
		}
		cmptBytes := int(constants.DescriptorSizes[cfg.CmptSzIndex])
		cmptCap := cfg.CmptRingCapacity
		if cmptCap == 0 {
			cmptCap = capacity
		}
		cmpt, err := ring.Create(cmptCap, cmptBytes, allocator)
		if err != nil {
			desc.Destroy()
			return nil, err
		}
		c.cmpt = cmpt
		return c, nil
	}

	cmptBytes := int(constants.DescriptorSizes[cfg.CmptSzIndex])
	cmpt, err := ring.Create(cfg.CmptRingCapacity, cmptBytes, allocator)
	if err != nil {
		desc.Destroy()
		return nil, err
	}

	bufTotal := int(capacity) * int(cfg.C2HBufferSize)
	pktVA, pktPhys, err := allocator.Allocate(bufTotal)
	if err != nil {
		desc.Destroy()
		cmpt.Destroy()
		return nil, err
	}

	c.cmpt = cmpt
	c.allocator = allocator
	c.bufSize = cfg.C2HBufferSize
	c.pktVA = pktVA
	c.pktPhys = pktPhys
	c.fragQ = fragqueue.New(cfg.CmptRingCapacity)
	c.c2hTrk = tracker.NewC2HTracker(cfg.CmptRingCapacity)

	return c, nil
}

// Destroy releases every allocation owned by the queue.
func (c *C2hQueue) Destroy() error {
	if err := c.desc.Destroy(); err != nil {
		return err
	}
	if c.cmpt != nil {
		if err := c.cmpt.Destroy(); err != nil {
			return err
		}
	}
	if c.pktVA != nil {
		return c.allocator.Free(c.pktVA)
	}
	return nil
}

// Ring exposes the receive/data descriptor ring for context programming.
func (c *C2hQueue) Ring() *ring.RingBuffer { return c.desc }

// CmptRing exposes the completion ring, nil for MM queues.
func (c *C2hQueue) CmptRing() *ring.RingBuffer { return c.cmpt }

func (c *C2hQueue) bufAt(i uint32) []byte {
	off := int(i) * int(c.bufSize)
	return c.pktVA[off : off+int(c.bufSize)]
}

func (c *C2hQueue) bufPhys(i uint32) uint64 {
	return c.pktPhys + uint64(i)*uint64(c.bufSize)
}

// Prefill writes one receive-buffer descriptor per free ring slot and
// primes the PIDX so hardware can begin writing immediately on start().
func (c *C2hQueue) Prefill() error {
	if !c.isST {
		return nil
	}
	n := c.desc.Capacity() - 1
	for i := uint32(0); i < n; i++ {
		d := uapi.STDescriptor{Addr: c.bufPhys(i), Length: c.bufSize}
		copy(c.desc.Slot(i), uapi.MarshalSTDescriptor(d, c.descSize))
	}
	c.desc.SetSwIndex(n)
	ring.WriteBarrier()
	return c.hwops.WriteC2HPidx(c.qidAbs, n)
}

// EnqueueMM appends an MM C2H (card-to-host) request.
func (c *C2hQueue) EnqueueMM(req *Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return c.failure()
	}
	c.reqList = append(c.reqList, req)
	if c.observer != nil {
		c.observer.ObserveEnqueue(c.qidAbs, true, uint64(req.totalLen))
	}
	return nil
}

// EnqueueRX registers a pending ST C2H receive request for length
// bytes; length 0 consumes exactly the next queued fragment whatever
// its size.
func (c *C2hQueue) EnqueueRX(length int, cb tracker.STCompletionFunc, priv interface{}) error {
	c.mu.Lock()
	if c.failed {
		err := c.failure()
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if !c.c2hTrk.Push(tracker.C2HRequest{Len: length, Cb: cb, Priv: priv, Start: time.Now()}) {
		return errTrackerFull
	}
	if c.observer != nil {
		c.observer.ObserveEnqueue(c.qidAbs, true, uint64(length))
	}
	return nil
}

// failure returns the stored hardware error, or the generic failed-state
// error when the queue failed without one. Caller holds c.mu.
func (c *C2hQueue) failure() error {
	if c.failErr != nil {
		return c.failErr
	}
	return errQueueFailed
}

// failST marks the queue failed with err and fails every pending receive
// request; subsequent completion-ring entries are dropped and future
// enqueues return the stored error.
func (c *C2hQueue) failST(err error) {
	c.mu.Lock()
	c.failed = true
	c.failErr = err
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("queue %d: completion ring reported a hardware error: %v", c.qidAbs, err)
	}
	c.c2hTrk.CancelAll(err)
}

// ProcessMM generates descriptors for queued MM C2H requests.
func (c *C2hQueue) ProcessMM() ServiceStatus {
	c.mu.Lock()
	served := 0
	wrote := false
	for len(c.reqList) > 0 && served < constants.MaxReqServiceCnt {
		req := c.reqList[0]
		full := false
		for !req.done() {
			if c.desc.FreeEntries() == 0 {
				full = true
				break
			}
			chunk := req.nextChunk(c.maxDescLen, c.fragLen)
			d := uapi.MMDescriptor{
				SrcAddr: req.DeviceOffset + uint64(chunk.bytesDone),
				DstAddr: chunk.elem.Phys + uint64(chunk.offset),
				Length:  uint32(chunk.length),
				SOP:     chunk.sop,
				EOP:     chunk.eop,
				Valid:   true,
			}
			copy(c.desc.Slot(c.desc.SwIndex()), uapi.MarshalMMDescriptor(d, c.descSize))
			if chunk.eop {
				c.mmTrk.Set(c.desc.SwIndex(), c.observedCb(req), req.Priv)
			}
			c.desc.AdvanceSwIndex(1)
			wrote = true
			req.advance(chunk)
		}
		if full {
			break
		}
		c.reqList = c.reqList[1:]
		served++
	}
	remaining := len(c.reqList) > 0
	c.mu.Unlock()

	if wrote {
		ring.WriteBarrier()
		c.hwops.WriteC2HPidx(c.qidAbs, c.desc.SwIndex())
	}
	if c.observer != nil {
		c.observer.ObserveQueueDepth(c.qidAbs, true, c.desc.FreeEntries())
	}
	if remaining {
		return ServiceContinue
	}
	return ServiceFinished
}

// observedCb wraps a request's completion callback so the observer sees
// every MM C2H completion with its byte count and latency.
func (c *C2hQueue) observedCb(req *Request) tracker.CompletionFunc {
	inner := req.Cb
	if c.observer == nil {
		return inner
	}
	bytes, started := uint64(req.totalLen), req.start
	return func(priv interface{}, err error) {
		c.observer.ObserveComplete(c.qidAbs, true, bytes, uint64(time.Since(started)), err == nil)
		if inner != nil {
			inner(priv, err)
		}
	}
}

// ServiceMMCompletions drains MM C2H completions the same way H2cQueue
// does.
func (c *C2hQueue) ServiceMMCompletions(budget int) ServiceStatus {
	oldCidx := c.desc.HwIndex()
	newCidx := uint32(c.desc.WbStatus().Cidx) % c.desc.Capacity()
	count := c.desc.IndexDelta(oldCidx, newCidx)

	processed := count
	if processed > uint32(budget) {
		processed = uint32(budget)
	}

	ring.ReadBarrier()
	for step := uint32(0); step < processed; step++ {
		idx := c.desc.Advance(oldCidx, step)
		if cb, priv, ok := c.mmTrk.Take(idx); ok && cb != nil {
			cb(priv, nil)
		}
	}
	c.desc.SetHwIndex(c.desc.Advance(oldCidx, processed))

	if processed < count {
		return ServiceContinue
	}
	return ServiceFinished
}

// ServiceSTReassembly drains new completion-ring entries, pushing
// reassembled fragments onto the fragment queue. Descriptor slots are
// only handed back to the device once request matching has delivered
// their fragments; reassembly advances the shadow consumer index but
// never the PIDX, so inbound DMA cannot overwrite a buffer a queued
// fragment still points into.
func (c *C2hQueue) ServiceSTReassembly(budget int) ServiceStatus {
	c.mu.Lock()
	if c.failed {
		c.mu.Unlock()
		return ServiceFinished
	}
	c.mu.Unlock()

	oldCidx := c.cmpt.HwIndex()
	wbPidx := uint32(c.cmpt.WbStatus().Pidx) % c.cmpt.Capacity()
	count := c.cmpt.IndexDelta(oldCidx, wbPidx)

	limit := count
	if limit > uint32(budget) {
		limit = uint32(budget)
	}

	ring.ReadBarrier()
	done := uint32(0)
	for ; done < limit; done++ {
		idx := c.cmpt.Advance(oldCidx, done)
		raw := c.cmpt.Slot(idx)
		hdr := uapi.UnmarshalCmptHeader(raw)

		if hdr.DataFrmt != 0 || hdr.DescError != 0 {
			c.cmpt.SetHwIndex(c.cmpt.Advance(oldCidx, done))
			c.hwops.WriteCmptCidx(c.qidAbs, c.cmpt.HwIndex(), true)
			c.failST(errDescError)
			return ServiceFinished
		}

		var udd []byte
		if hdr.UDDBytes > 0 && len(raw) > uapi.CmptHeaderWireSize {
			udd = uapi.ParseUDD(c.ipFamily, raw[uapi.CmptHeaderWireSize:])
		}

		if !hdr.DescUsed {
			if c.uddCb != nil {
				c.uddCb(c.qidAbs, udd, nil)
			}
			continue
		}

		length := int(hdr.Length)
		bufCount := 1
		if c.bufSize > 0 && length > 0 {
			bufCount = (length + int(c.bufSize) - 1) / int(c.bufSize)
		}

		ok := true
		for k := 0; k < bufCount; k++ {
			bufIdx := c.desc.Advance(c.desc.HwIndex(), uint32(k))
			fragLen := int(c.bufSize)
			if k == bufCount-1 {
				fragLen = length - k*int(c.bufSize)
				if fragLen < 0 {
					fragLen = 0
				}
			}
			e := fragqueue.Entry{
				Data:       c.bufAt(bufIdx)[:fragLen],
				SOP:        k == 0,
				EOP:        k == bufCount-1,
				PacketType: hdr.DataFrmt,
			}
			if k == 0 {
				e.UDD = udd
			}
			if !c.fragQ.Push(e) {
				ok = false
				break
			}
		}
		if !ok {
			break
		}

		c.desc.AdvanceHwIndex(uint32(bufCount))
	}

	c.cmpt.SetHwIndex(c.cmpt.Advance(oldCidx, done))
	c.hwops.WriteCmptCidx(c.qidAbs, c.cmpt.HwIndex(), true)
	c.adaptCoalescing(count - done)

	if done < count {
		return ServiceContinue
	}
	return ServiceFinished
}

// adaptCoalescing folds the number of completion entries left pending
// after a service pass into a moving average and lets the configured
// CounterAdapter retune the threshold/timer indices, re-programming the
// completion context when they move.
func (c *C2hQueue) adaptCoalescing(pending uint32) {
	if c.adapter == nil {
		return
	}
	const alpha = 0.25
	c.avgPending = (1-alpha)*c.avgPending + alpha*float64(pending)

	th, tm := c.adapter.Adapt(c.thIdx, c.tmIdx, c.avgPending)
	if th == c.thIdx && tm == c.tmIdx {
		return
	}
	c.thIdx, c.tmIdx = th, tm

	cmpt := uapi.CmptContext{
		EnStatDesc: true, TrigMode: c.cfg.TrigMode,
		CounterIdx: th, TimerIdx: tm,
		RingszIdx: c.cfg.C2HRingSzIndex, OvfChkDis: c.cfg.CmplOvfDis,
		Valid: true, DescSz: c.cfg.CmptSzIndex, BasePhys: c.cmpt.PhysAddr(),
		Pidx: uint16(c.cmpt.HwIndex()),
	}
	if _, err := c.hwops.Context(interfaces.CtxOpWrite, interfaces.CtxCMPT, true, c.qidAbs, uapi.MarshalCmptContext(cmpt)); err != nil && c.logger != nil {
		c.logger.Printf("queue %d: retuning completion coalescing failed: %v", c.qidAbs, err)
	}
}

// ServiceSTRequestMatching pairs queued receive requests against
// reassembled fragments, firing each satisfied request's callback.
func (c *C2hQueue) ServiceSTRequestMatching() ServiceStatus {
	for {
		req, ok := c.c2hTrk.Peek()
		if !ok {
			return ServiceFinished
		}

		if req.Len == 0 {
			frag, ok := c.fragQ.Pop()
			if !ok {
				return ServiceContinue
			}
			c.c2hTrk.Pop()
			c.completeRX(req, []tracker.Fragment{fragToFragment(frag)}, len(frag.Data))
			c.replenishRX(1)
			continue
		}

		if c.fragQ.AvailableBytes() < uint64(req.Len) {
			return ServiceContinue
		}

		// Consume until the byte sum covers the request, then keep going
		// to the current packet's EOP so a packet is never split across
		// two requests.
		frags := getFragScratch()
		total := 0
		for {
			frag, ok := c.fragQ.Pop()
			if !ok {
				break
			}
			frags = append(frags, fragToFragment(frag))
			total += len(frag.Data)
			if total >= req.Len && frag.EOP {
				break
			}
		}
		c.c2hTrk.Pop()
		c.completeRX(req, frags, total)
		consumed := uint32(len(frags))
		putFragScratch(frags)
		c.replenishRX(consumed)
	}
}

// replenishRX returns consumed descriptor slots to the device once the
// fragments in them have been delivered, batch-writing the PIDX every
// C2HPidxBatchSize slots. The recycled descriptors keep the buffer
// addresses the prefill gave them, so advancing the producer index is
// all a refill takes.
func (c *C2hQueue) replenishRX(consumed uint32) {
	c.consumedSinceDoorbell += consumed
	if c.consumedSinceDoorbell < constants.C2HPidxBatchSize {
		return
	}
	c.desc.AdvanceSwIndex(c.consumedSinceDoorbell)
	ring.WriteBarrier()
	c.hwops.WriteC2HPidx(c.qidAbs, c.desc.SwIndex())
	c.consumedSinceDoorbell = 0
}

// completeRX fires a satisfied receive request's callback. The fragment
// list (and the buffers it points into) is valid only for the duration
// of the callback; the descriptor slots behind it are recycled to the
// device afterwards.
func (c *C2hQueue) completeRX(req tracker.C2HRequest, frags []tracker.Fragment, total int) {
	if req.Cb != nil {
		req.Cb(req.Priv, frags, nil)
	}
	if c.observer != nil {
		c.observer.ObserveComplete(c.qidAbs, true, uint64(total), uint64(time.Since(req.Start)), true)
	}
}

func fragToFragment(e fragqueue.Entry) tracker.Fragment {
	return tracker.Fragment{Data: e.Data, UDD: e.UDD, SOP: e.SOP, EOP: e.EOP}
}

// CancelAll fails every queued MM request or ST receive request with
// err.
func (c *C2hQueue) CancelAll(err error) {
	if c.isST {
		c.mu.Lock()
		c.failed = true
		c.failErr = err
		c.mu.Unlock()
		c.c2hTrk.CancelAll(err)
		return
	}

	c.mu.Lock()
	c.failed = true
	pending := c.reqList
	c.reqList = nil
	c.mu.Unlock()

	for _, req := range pending {
		if req.Cb != nil {
			req.Cb(req.Priv, err)
		}
	}
	for idx := uint32(0); idx < c.desc.Capacity(); idx++ {
		if cb, priv, ok := c.mmTrk.Take(idx); ok && cb != nil {
			cb(priv, err)
		}
	}
}

// Reset clears the failed flag and resets batching state, called from
// remove()/add() re-init.
func (c *C2hQueue) Reset() {
	c.mu.Lock()
	c.failed = false
	c.failErr = nil
	c.mu.Unlock()
	c.consumedSinceDoorbell = 0
}

type errDescErrorT string

func (e errDescErrorT) Error() string { return string(e) }

var errDescError = errDescErrorT("completion entry reported a descriptor error")

type errTrackerFullT string

func (e errTrackerFullT) Error() string { return string(e) }

var errTrackerFull = errTrackerFullT("receive request tracker is full")
