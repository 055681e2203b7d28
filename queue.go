package qdma

import (
	"time"

	iqueue "github.com/qdma-core/qdma/internal/queue"
	"github.com/qdma-core/qdma/internal/tracker"
	"github.com/qdma-core/qdma/internal/uapi"
)

// TrigMode enumerates when hardware fires a completion notification
// , mirrored here so callers never
// need to import an internal package to build a QueueConfig.
type TrigMode uint8

const (
	TrigDisable TrigMode = iota
	TrigEvery
	TrigUserCount
	TrigUser
	TrigUserTimer
	TrigUserTimerCount
)

func (m TrigMode) toUapi() uapi.TrigMode { return uapi.TrigMode(m) }

// IPFamily selects the completion-entry UDD layout: soft IP masks the
// low 4 bits of the first byte, Versal hard IP carries 3 leading header
// bytes before the side-band data.
type IPFamily uint8

const (
	IPFamilySoft IPFamily = iota
	IPFamilyVersalHard
)

func (f IPFamily) toUapi() uapi.IPFamily { return uapi.IPFamily(f) }

// QueueState mirrors internal/queue.State at the public boundary.
type QueueState int32

const (
	QueueAvailable QueueState = iota
	QueueAdded
	QueueStarted
	QueueBusy
)

func (s QueueState) String() string { return iqueue.State(s).String() }

// SGElement is one scatter-gather element of a DMA request.
type SGElement struct {
	Phys uint64
	Len  int
}

func toInternalSGList(sg []SGElement) []iqueue.SGElement {
	out := make([]iqueue.SGElement, len(sg))
	for i, e := range sg {
		out[i] = iqueue.SGElement{Phys: e.Phys, Len: e.Len}
	}
	return out
}

// CompletionFunc is invoked exactly once per completed MM/ST-H2C
// request.
type CompletionFunc func(priv interface{}, err error)

// Fragment mirrors a reassembled ST C2H packet fragment handed to a
// completed receive request's callback.
type Fragment struct {
	Data []byte
	UDD  []byte
	SOP  bool
	EOP  bool
}

// STCompletionFunc is invoked exactly once per completed ST C2H receive
// request with its reassembled fragment list, or with an error.
type STCompletionFunc func(priv interface{}, fragments []Fragment, err error)

func toInternalSTCb(qidAbs uint16, cb STCompletionFunc) tracker.STCompletionFunc {
	if cb == nil {
		return nil
	}
	return func(priv interface{}, frags []tracker.Fragment, err error) {
		out := make([]Fragment, len(frags))
		for i, f := range frags {
			out[i] = Fragment{Data: f.Data, UDD: f.UDD, SOP: f.SOP, EOP: f.EOP}
		}
		cb(priv, out, completionError(qidAbs, err))
	}
}

// completionError maps an internal completion error onto the public
// taxonomy: cancellation on stop becomes Cancelled, anything else a
// HardwareError.
func completionError(qidAbs uint16, err error) error {
	if err == nil {
		return nil
	}
	if err == iqueue.ErrCancelled {
		return NewQueueError("completion", 0, int(qidAbs), ErrCodeCancelled, err.Error())
	}
	return NewQueueError("completion", 0, int(qidAbs), ErrCodeHardwareError, err.Error())
}

// QueueConfig carries every per-queue tunable. One QueueConfig is
// supplied per queue when it is added to a Device.
type QueueConfig struct {
	IsST bool

	H2CRingSzIndex   uint8
	C2HRingSzIndex   uint8
	C2HBuffSzIndex   uint8
	C2HThCntIndex    uint8
	C2HTimerCntIndex uint8
	CmptSzIndex      uint8
	TrigMode         TrigMode
	SwDescSzIndex    uint8

	DescBypassEn bool
	PfchEn       bool
	PfchBypassEn bool
	CmplOvfDis   bool
	EnMMCmpl     bool

	// ProcSTUddCb, when set, is invoked with the UDD bytes of each ST C2H
	// completion entry that carries no data (UDD-only).
	ProcSTUddCb func(qidAbs uint16, udd []byte, priv interface{})

	WBTimeout time.Duration

	RingCapacity     uint32
	H2CRingCapacity  uint32
	C2HRingCapacity  uint32
	CmptRingCapacity uint32
	C2HBufferSize    uint32

	IPFamily IPFamily
}

// DefaultQueueConfig returns a ready-to-use MM queue configuration.
func DefaultQueueConfig() QueueConfig {
	d := iqueue.DefaultConfig()
	return QueueConfig{
		IsST:             d.IsST,
		H2CRingSzIndex:   d.H2CRingSzIndex,
		C2HRingSzIndex:   d.C2HRingSzIndex,
		C2HBuffSzIndex:   d.C2HBuffSzIndex,
		C2HThCntIndex:    d.C2HThCntIndex,
		C2HTimerCntIndex: d.C2HTimerCntIndex,
		CmptSzIndex:      d.CmptSzIndex,
		TrigMode:         TrigMode(d.TrigMode),
		SwDescSzIndex:    d.SwDescSzIndex,
		WBTimeout:        d.WBTimeout,
		RingCapacity:     d.RingCapacity,
		CmptRingCapacity: d.CmptRingCapacity,
		C2HBufferSize:    d.C2HBufferSize,
		IPFamily:         IPFamily(d.IPFamily),
	}
}

func (c QueueConfig) toInternal(funcID, qidAbs uint16) iqueue.Config {
	return iqueue.Config{
		IsST:             c.IsST,
		H2CRingSzIndex:   c.H2CRingSzIndex,
		C2HRingSzIndex:   c.C2HRingSzIndex,
		C2HBuffSzIndex:   c.C2HBuffSzIndex,
		C2HThCntIndex:    c.C2HThCntIndex,
		C2HTimerCntIndex: c.C2HTimerCntIndex,
		CmptSzIndex:      c.CmptSzIndex,
		TrigMode:         c.TrigMode.toUapi(),
		SwDescSzIndex:    c.SwDescSzIndex,
		DescBypassEn:     c.DescBypassEn,
		PfchEn:           c.PfchEn,
		PfchBypassEn:     c.PfchBypassEn,
		CmplOvfDis:       c.CmplOvfDis,
		EnMMCmpl:         c.EnMMCmpl,
		ProcSTUddCb:      c.ProcSTUddCb,
		WBTimeout:        c.WBTimeout,
		FuncID:           funcID,
		QidAbs:           qidAbs,
		RingCapacity:     c.RingCapacity,
		H2CRingCapacity:  c.H2CRingCapacity,
		C2HRingCapacity:  c.C2HRingCapacity,
		CmptRingCapacity: c.CmptRingCapacity,
		C2HBufferSize:    c.C2HBufferSize,
		IPFamily:         c.IPFamily.toUapi(),
	}
}

// QueuePair is the public handle for one added queue, returned by Device.Queue.
type QueuePair struct {
	qidAbs uint16
	inner  *iqueue.QueuePair
}

// QidAbs returns the queue's device-wide absolute index.
func (qp *QueuePair) QidAbs() uint16 { return qp.qidAbs }

// State returns the queue's current lifecycle state.
func (qp *QueuePair) State() QueueState { return QueueState(qp.inner.State()) }
