// Package queue implements a single queue direction pair: the H2C and
// C2H descriptor-ring bundles, the lifecycle state machine that wires
// them to hardware contexts and poll registration, and the shared
// request/config types both directions build on.
package queue

import (
	"sync/atomic"
	"time"

	"github.com/qdma-core/qdma/internal/constants"
	"github.com/qdma-core/qdma/internal/interfaces"
	"github.com/qdma-core/qdma/internal/ring"
	"github.com/qdma-core/qdma/internal/uapi"
)

// State is one of the four QueuePair lifecycle states.
type State int32

const (
	Available State = iota
	Added
	Started
	Busy
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Added:
		return "added"
	case Started:
		return "started"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// PollRegistrar is the subset of ThreadManager a QueuePair needs to
// register/unregister its poll work. Accepted as an
// interface so this package never imports internal/threadmgr.
type PollRegistrar interface {
	Register(fn func() ServiceStatus) (token interface{})
	Unregister(token interface{})
	// Wake nudges the worker servicing the given poll op; enqueue paths
	// call it so a sleeping worker picks up freshly queued requests.
	Wake(token interface{})
}

// VectorAssigner is the subset of InterruptManager a QueuePair needs to
// obtain and release an interrupt vector. Nil when the
// device runs in Poll mode.
type VectorAssigner interface {
	Assign(qidAbs uint16) (vector uint32, coalescing bool, err error)
	Release(qidAbs uint16)
}

// QueuePair bundles one H2C and one C2H direction under a single
// lifecycle state machine.
type QueuePair struct {
	qidAbs uint16
	funcID uint16
	hwops  interfaces.HwOps

	state atomic.Int32

	h2c *H2cQueue
	c2h *C2hQueue

	cfg Config

	registrar PollRegistrar
	h2cToken  interface{}
	c2hToken  interface{}
	vector    uint32
	hasIrq    bool

	logger interfaces.Logger
}

// New constructs a QueuePair in the Available state; call Add to
// allocate rings and program the device.
func New(qidAbs, funcID uint16, hwops interfaces.HwOps) *QueuePair {
	qp := &QueuePair{qidAbs: qidAbs, funcID: funcID, hwops: hwops}
	qp.state.Store(int32(Available))
	return qp
}

// State returns the pair's current lifecycle state.
func (qp *QueuePair) State() State { return State(qp.state.Load()) }

func (qp *QueuePair) transition(from, to State) bool {
	return qp.state.CompareAndSwap(int32(from), int32(to))
}

// Add allocates the descriptor rings and (for ST) the completion ring,
// receive buffers, fragment queue, and request tracker, validating cfg
// against the device's reported capabilities.
func (qp *QueuePair) Add(cfg Config, allocator interfaces.DmaAllocator, observer interfaces.Observer) error {
	if !qp.transition(Available, Added) {
		return errBadTransition(qp.State(), Added)
	}

	caps, err := qp.hwops.Capabilities()
	if err != nil {
		qp.state.Store(int32(Available))
		return err
	}
	if cfg.IsST && !caps.STEnabled {
		qp.state.Store(int32(Available))
		return errUnsupported("streaming mode not enabled on this device")
	}
	if !cfg.IsST && !caps.MMEnabled {
		qp.state.Store(int32(Available))
		return errUnsupported("memory-mapped mode not enabled on this device")
	}
	if cfg.EnMMCmpl && !caps.MMCompletionEnabled {
		qp.state.Store(int32(Available))
		return errUnsupported("MM completion ring not enabled on this device")
	}
	if cfg.DescBypassEn && !caps.DescBypassEnabled {
		qp.state.Store(int32(Available))
		return errUnsupported("descriptor bypass not enabled on this device")
	}
	if cfg.PfchEn && !caps.PrefetchEnabled {
		qp.state.Store(int32(Available))
		return errUnsupported("prefetch not enabled on this device")
	}
	if cfg.PfchBypassEn && !caps.PrefetchBypassEnabled {
		qp.state.Store(int32(Available))
		return errUnsupported("prefetch bypass not enabled on this device")
	}
	if cfg.CmplOvfDis && !caps.CmplOvfDisSupported {
		qp.state.Store(int32(Available))
		return errUnsupported("completion overflow-check disable not supported on this device")
	}
	if int(cfg.SwDescSzIndex) < len(constants.DescriptorSizes) &&
		constants.DescriptorSizes[cfg.SwDescSzIndex] == 64 && !caps.Desc64ByteSupported {
		qp.state.Store(int32(Available))
		return errUnsupported("64-byte descriptors not supported on this device")
	}

	cfg.QidAbs = qp.qidAbs
	cfg.FuncID = qp.funcID
	if cfg.CounterAdapter == nil {
		cfg.CounterAdapter = DefaultCounterAdapter()
	}
	if cfg.WBTimeout <= 0 {
		cfg.WBTimeout = constants.DefaultWBTimeout
	}

	h2c, err := NewH2cQueue(cfg, allocator, qp.hwops, observer)
	if err != nil {
		qp.state.Store(int32(Available))
		return err
	}
	c2h, err := NewC2hQueue(cfg, allocator, qp.hwops, observer)
	if err != nil {
		h2c.Destroy()
		qp.state.Store(int32(Available))
		return err
	}

	qp.h2c = h2c
	qp.c2h = c2h
	qp.cfg = cfg
	qp.logger = cfg.Logger

	qp.clearContexts()
	return nil
}

// Start programs SW/CMPT/Prefetch/Qid2Vec contexts, prefills the ST C2H
// receive-buffer ring, assigns an interrupt vector (unless in Poll
// mode), and registers poll work. On any failure it
// rolls back everything it had done and leaves the pair in Added.
func (qp *QueuePair) Start(registrar PollRegistrar, assigner VectorAssigner) error {
	if !qp.transition(Added, Started) {
		return errBadTransition(qp.State(), Started)
	}

	if err := qp.programContexts(assigner); err != nil {
		qp.rollbackStart(assigner)
		return err
	}

	if err := qp.seedDoorbells(); err != nil {
		qp.rollbackStart(assigner)
		return err
	}

	qp.registrar = registrar
	qp.h2cToken = registrar.Register(func() ServiceStatus {
		s1 := qp.h2c.Process()
		s2 := qp.h2c.ServiceCompletions(constants.CompletionBudget)
		if s1 == ServiceContinue || s2 == ServiceContinue {
			return ServiceContinue
		}
		return ServiceFinished
	})

	qp.c2hToken = registrar.Register(func() ServiceStatus {
		if qp.cfg.IsST {
			s1 := qp.c2h.ServiceSTReassembly(constants.CompletionBudget)
			s2 := qp.c2h.ServiceSTRequestMatching()
			if s1 == ServiceContinue || s2 == ServiceContinue {
				return ServiceContinue
			}
			return ServiceFinished
		}
		s1 := qp.c2h.ProcessMM()
		s2 := qp.c2h.ServiceMMCompletions(constants.CompletionBudget)
		if s1 == ServiceContinue || s2 == ServiceContinue {
			return ServiceContinue
		}
		return ServiceFinished
	})

	return nil
}

// rollbackStart undoes a partially-completed Start: contexts are
// cleared, an assigned vector is released, and the pair returns to
// Added.
func (qp *QueuePair) rollbackStart(assigner VectorAssigner) {
	qp.clearContexts()
	if qp.hasIrq && assigner != nil {
		assigner.Release(qp.qidAbs)
		qp.hasIrq = false
	}
	qp.state.Store(int32(Added))
}

// seedDoorbells establishes the initial PIDX/CIDX the device sees on
// start: zero for H2C and MM C2H, capacity-1 for ST C2H (the prefilled
// receive ring), and zero for the completion ring's CIDX.
func (qp *QueuePair) seedDoorbells() error {
	if err := qp.hwops.WriteH2CPidx(qp.qidAbs, 0); err != nil {
		return err
	}
	if qp.cfg.IsST {
		if err := qp.c2h.Prefill(); err != nil {
			return err
		}
	} else if err := qp.hwops.WriteC2HPidx(qp.qidAbs, 0); err != nil {
		return err
	}
	if qp.c2h.CmptRing() != nil {
		return qp.hwops.WriteCmptCidx(qp.qidAbs, 0, qp.hasIrq)
	}
	return nil
}

// KickH2C wakes the worker servicing this pair's H2C poll work; a no-op
// unless the pair is started.
func (qp *QueuePair) KickH2C() {
	if qp.registrar != nil && qp.h2cToken != nil {
		qp.registrar.Wake(qp.h2cToken)
	}
}

// KickC2H wakes the worker servicing this pair's C2H poll work.
func (qp *QueuePair) KickC2H() {
	if qp.registrar != nil && qp.c2hToken != nil {
		qp.registrar.Wake(qp.c2hToken)
	}
}

func (qp *QueuePair) programContexts(assigner VectorAssigner) error {
	var vector uint16
	var coalescing bool
	qp.hasIrq = assigner != nil
	if qp.hasIrq {
		v, c, err := assigner.Assign(qp.qidAbs)
		if err != nil {
			return err
		}
		qp.vector = v
		vector = uint16(v)
		coalescing = c
	}

	h2cSW := uapi.SWContext{
		Qen: true, WbiChk: true, FncID: qp.funcID, RngszIdx: qp.cfg.H2CRingSzIndex,
		DescSz: qp.cfg.SwDescSzIndex, Bypass: qp.cfg.DescBypassEn,
		WbkEn: true, IrqEn: qp.hasIrq, IsMM: !qp.cfg.IsST,
		RingBasePhys: qp.h2c.Ring().PhysAddr(), Vector: vector, IntrAggr: coalescing,
	}
	if _, err := qp.hwops.Context(interfaces.CtxOpWrite, interfaces.CtxSW, false, qp.qidAbs, uapi.MarshalSWContext(h2cSW)); err != nil {
		return err
	}

	c2hSW := h2cSW
	c2hSW.RngszIdx = qp.cfg.C2HRingSzIndex
	c2hSW.RingBasePhys = qp.c2h.Ring().PhysAddr()
	if _, err := qp.hwops.Context(interfaces.CtxOpWrite, interfaces.CtxSW, true, qp.qidAbs, uapi.MarshalSWContext(c2hSW)); err != nil {
		return err
	}

	if qp.cfg.IsST || qp.cfg.EnMMCmpl {
		cmpt := uapi.CmptContext{
			EnStatDesc: true, TrigMode: qp.cfg.TrigMode,
			CounterIdx: qp.cfg.C2HThCntIndex, TimerIdx: qp.cfg.C2HTimerCntIndex,
			RingszIdx: qp.cfg.C2HRingSzIndex, OvfChkDis: qp.cfg.CmplOvfDis,
			Valid: true, DescSz: qp.cfg.CmptSzIndex, BasePhys: qp.c2h.CmptRing().PhysAddr(),
		}
		if _, err := qp.hwops.Context(interfaces.CtxOpWrite, interfaces.CtxCMPT, true, qp.qidAbs, uapi.MarshalCmptContext(cmpt)); err != nil {
			return err
		}

		if qp.cfg.IsST && qp.cfg.PfchEn {
			pfch := uapi.PrefetchContext{BufSzIdx: qp.cfg.C2HBuffSzIndex, Valid: true, PfchEn: true, Bypass: qp.cfg.PfchBypassEn}
			if _, err := qp.hwops.Context(interfaces.CtxOpWrite, interfaces.CtxPrefetch, true, qp.qidAbs, uapi.MarshalPrefetchContext(pfch)); err != nil {
				return err
			}
		}
	}

	if qp.hasIrq {
		if q2v, ok := qp.hwops.(interfaces.Qid2VecCapable); ok {
			if err := q2v.WriteQid2Vec(qp.qidAbs, true, qp.vector, coalescing); err != nil {
				return err
			}
			if err := q2v.WriteQid2Vec(qp.qidAbs, false, qp.vector, coalescing); err != nil {
				return err
			}
		}
	}

	return nil
}

// perDirectionCtx lists the context kinds maintained once per
// direction; cmpt/prefetch exist only on the C2H side and are handled
// separately below.
var perDirectionCtx = []interfaces.CtxType{interfaces.CtxSW, interfaces.CtxHW, interfaces.CtxCredit, interfaces.CtxQid2Vec}
var c2hOnlyCtx = []interfaces.CtxType{interfaces.CtxCMPT, interfaces.CtxPrefetch}

// clearContexts clears every context kind for both directions, used by
// add()'s sweep once its rings are allocated, start()'s rollback-on-failure, and
// remove().
func (qp *QueuePair) clearContexts() { qp.contextSweep(interfaces.CtxOpClear) }

// invalidateContexts invalidates (rather than merely clears) every
// context kind, used by stop() so the device may not write the ring
// again.
func (qp *QueuePair) invalidateContexts() { qp.contextSweep(interfaces.CtxOpInvalidate) }

func (qp *QueuePair) contextSweep(op interfaces.CtxOp) {
	for _, ctx := range perDirectionCtx {
		qp.contextOp(op, ctx, false)
		qp.contextOp(op, ctx, true)
	}
	for _, ctx := range c2hOnlyCtx {
		qp.contextOp(op, ctx, true)
	}
}

func (qp *QueuePair) contextOp(op interfaces.CtxOp, ctx interfaces.CtxType, isC2H bool) {
	if _, err := qp.hwops.Context(op, ctx, isC2H, qp.qidAbs, nil); err != nil && qp.logger != nil {
		qp.logger.Printf("queue %d: %s %s context (c2h=%v) failed: %v", qp.qidAbs, op, ctx, isC2H, err)
	}
}

// Stop quiesces the pair, unregisters poll work, releases its vector,
// and completes every pending request with a Cancelled error. Stop is best-effort: it always reaches Added, logging
// rather than failing on a hardware context error.
func (qp *QueuePair) Stop(registrar PollRegistrar, assigner VectorAssigner) error {
	if !qp.transition(Started, Busy) {
		return errBadTransition(qp.State(), Busy)
	}

	time.Sleep(constants.StopQuiesceWait)
	if !qp.waitWriteback(qp.h2c.Ring(), qp.cfg.WBTimeout) && qp.logger != nil {
		qp.logger.Printf("queue %d: h2c writeback did not quiesce within %v", qp.qidAbs, qp.cfg.WBTimeout)
	}

	if qp.h2cToken != nil {
		registrar.Unregister(qp.h2cToken)
		qp.h2cToken = nil
	}
	if qp.c2hToken != nil {
		registrar.Unregister(qp.c2hToken)
		qp.c2hToken = nil
	}
	if qp.hasIrq && assigner != nil {
		assigner.Release(qp.qidAbs)
		qp.hasIrq = false
	}
	qp.registrar = nil

	cancelErr := stopCancelError()
	qp.h2c.CancelAll(cancelErr)
	qp.c2h.CancelAll(cancelErr)

	qp.invalidateContexts()

	qp.state.Store(int32(Added))
	return nil
}

// waitWriteback polls the ring's writeback CIDX until the engine has
// consumed every posted descriptor or the configured timeout elapses.
func (qp *QueuePair) waitWriteback(r *ring.RingBuffer, timeout time.Duration) bool {
	target := r.SwIndex()
	deadline := time.Now().Add(timeout)
	for {
		if uint32(r.WbStatus().Cidx)%r.Capacity() == target {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(constants.WBPollInterval)
	}
}

// Remove releases every ring/buffer allocation and returns the pair to
// Available.
func (qp *QueuePair) Remove() error {
	if !qp.transition(Added, Busy) {
		return errBadTransition(qp.State(), Busy)
	}

	qp.clearContexts()

	var firstErr error
	if err := qp.h2c.Destroy(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := qp.c2h.Destroy(); err != nil && firstErr == nil {
		firstErr = err
	}
	qp.h2c = nil
	qp.c2h = nil

	qp.state.Store(int32(Available))
	return firstErr
}

// H2C exposes the pair's host-to-card bundle (nil before Add).
func (qp *QueuePair) H2C() *H2cQueue { return qp.h2c }

// C2H exposes the pair's card-to-host bundle (nil before Add).
func (qp *QueuePair) C2H() *C2hQueue { return qp.c2h }

// QidAbs returns the pair's absolute queue index.
func (qp *QueuePair) QidAbs() uint16 { return qp.qidAbs }

type transitionError struct {
	from, to State
}

func (e transitionError) Error() string {
	return "invalid queue pair transition from " + e.from.String() + " attempting " + e.to.String()
}

func errBadTransition(from, to State) error { return transitionError{from: from, to: to} }

type unsupportedError string

func (e unsupportedError) Error() string { return string(e) }
func errUnsupported(msg string) error    { return unsupportedError(msg) }

type cancelError string

func (e cancelError) Error() string { return string(e) }

// ErrCancelled is delivered to every pending request's callback when its
// queue is stopped; the public API
// maps it onto the Cancelled error kind.
var ErrCancelled error = cancelError("request cancelled: queue stopped")

func stopCancelError() error { return ErrCancelled }
