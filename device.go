package qdma

import (
	"sync"

	"github.com/qdma-core/qdma/internal/interfaces"
	"github.com/qdma-core/qdma/internal/intmgr"
	"github.com/qdma-core/qdma/internal/intring"
	"github.com/qdma-core/qdma/internal/logging"
	iqueue "github.com/qdma-core/qdma/internal/queue"
	"github.com/qdma-core/qdma/internal/resource"
	"github.com/qdma-core/qdma/internal/threadmgr"
	"github.com/qdma-core/qdma/internal/tracker"
	"github.com/qdma-core/qdma/internal/uapi"
)

// These aliases let a hardware binding implement HwOps/Mmio/DmaAllocator
// and reference BAR/context constants without importing an internal
// package.
type (
	HwOps           = interfaces.HwOps
	Mmio            = interfaces.Mmio
	DmaAllocator    = interfaces.DmaAllocator
	BarType         = interfaces.BarType
	CtxType         = interfaces.CtxType
	CtxOp           = interfaces.CtxOp
	Qid2VecCapable  = interfaces.Qid2VecCapable
	ResourceManager = resource.Manager
)

const (
	BarConfig = interfaces.BarConfig
	BarUser   = interfaces.BarUser
	BarBypass = interfaces.BarBypass

	CtxSW       = interfaces.CtxSW
	CtxHW       = interfaces.CtxHW
	CtxCredit   = interfaces.CtxCredit
	CtxCMPT     = interfaces.CtxCMPT
	CtxPrefetch = interfaces.CtxPrefetch
	CtxQid2Vec  = interfaces.CtxQid2Vec

	CtxOpRead       = interfaces.CtxOpRead
	CtxOpWrite      = interfaces.CtxOpWrite
	CtxOpClear      = interfaces.CtxOpClear
	CtxOpInvalidate = interfaces.CtxOpInvalidate
)

// NewResourceManager returns a new, empty resource registry. Each call
// creates an independent Manager; Devices share queue accounting only
// when they are handed the same one. One Manager is typically shared
// across every Device on the same PCIe bus range.
func NewResourceManager() *ResourceManager { return resource.New() }

// DriverMode selects how the device delivers completion notifications.
type DriverMode int

const (
	ModePoll DriverMode = iota
	ModeDirectIrq
	ModeCoalescedIrq
)

func (m DriverMode) toIntmgr() intmgr.Mode { return intmgr.Mode(m) }

// VectorLayout describes the per-function MSI-X vector partition.
type VectorLayout struct {
	HasErrorVector bool
	UserVectors    int
	DataVectors    int
}

// DeviceParams configures a Device at construction.
type DeviceParams struct {
	FuncID   uint16
	BusRange uint32
	QBase    uint32
	QMax     uint32

	Mode   DriverMode
	Layout VectorLayout

	// NumWorkers sizes the per-CPU poll-thread pool; 0 means
	// one worker.
	NumWorkers int

	IPFamily IPFamily

	Observer Observer
}

// DefaultDeviceParams returns a Poll-mode, single-worker, MM-friendly
// Device configuration.
func DefaultDeviceParams(funcID uint16, qbase, qmax uint32) DeviceParams {
	return DeviceParams{
		FuncID:     funcID,
		BusRange:   0,
		QBase:      qbase,
		QMax:       qmax,
		Mode:       ModePoll,
		NumWorkers: 1,
		IPFamily:   IPFamilySoft,
		Observer:   NoOpObserver{},
	}
}

// DeviceState is the device-wide online/offline/init state.
type DeviceState int

const (
	StateOffline DeviceState = iota
	StateInitializing
	StateOnline
)

// Device is one PCIe function of the DMA engine: its MMIO handles, the
// HwOps vtable, the driver mode, the function's qbase/qmax window, and
// every added QueuePair.
type Device struct {
	mu sync.Mutex

	mmio      interfaces.Mmio
	hwops     interfaces.HwOps
	allocator interfaces.DmaAllocator

	funcID   uint16
	busRange uint32
	qbase    uint32
	qmax     uint32
	mode     DriverMode
	ipFamily IPFamily

	resourceMgr *resource.Manager
	intMgr      *intmgr.Manager
	threadMgr   *threadmgr.Manager

	metrics  *Metrics
	observer Observer

	queues  map[uint16]*QueuePair
	lastUDD map[uint16][]byte

	state DeviceState
}

// NewDevice constructs a Device bound to mmio/hwops/allocator. resourceMgr
// is typically process-wide, shared across
// every Device on the same PCIe bus range; pass resource.New() for a
// single-device program.
func NewDevice(mmio interfaces.Mmio, hwops interfaces.HwOps, allocator interfaces.DmaAllocator, resourceMgr *resource.Manager, params DeviceParams) *Device {
	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if params.Observer != nil {
		observer = teeObserver{NewMetricsObserver(metrics), params.Observer}
	}
	return &Device{
		mmio:        mmio,
		hwops:       hwops,
		allocator:   allocator,
		funcID:      params.FuncID,
		busRange:    params.BusRange,
		qbase:       params.QBase,
		qmax:        params.QMax,
		mode:        params.Mode,
		ipFamily:    params.IPFamily,
		resourceMgr: resourceMgr,
		intMgr: intmgr.New(params.Mode.toIntmgr(), hwops, allocator, intmgr.Layout{
			HasErrorVector: params.Layout.HasErrorVector,
			UserVectors:    params.Layout.UserVectors,
			DataVectors:    params.Layout.DataVectors,
		}),
		threadMgr: threadmgr.New(maxInt(params.NumWorkers, 1)),
		metrics:   metrics,
		observer:  observer,
		queues:    make(map[uint16]*QueuePair),
		lastUDD:   make(map[uint16][]byte),
		state:     StateOffline,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// teeObserver fans every queue event out to the device's own metrics
// and the caller-supplied observer.
type teeObserver [2]Observer

func (t teeObserver) ObserveEnqueue(qid uint16, isC2H bool, bytes uint64) {
	t[0].ObserveEnqueue(qid, isC2H, bytes)
	t[1].ObserveEnqueue(qid, isC2H, bytes)
}

func (t teeObserver) ObserveComplete(qid uint16, isC2H bool, bytes uint64, latencyNs uint64, success bool) {
	t[0].ObserveComplete(qid, isC2H, bytes, latencyNs, success)
	t[1].ObserveComplete(qid, isC2H, bytes, latencyNs, success)
}

func (t teeObserver) ObserveQueueDepth(qid uint16, isC2H bool, freeEntries uint32) {
	t[0].ObserveQueueDepth(qid, isC2H, freeEntries)
	t[1].ObserveQueueDepth(qid, isC2H, freeEntries)
}

// Init validates the device's reported capabilities against qmax and
// prepares it for Open; a no-op beyond that check.
func (d *Device) Init() error {
	caps, err := d.hwops.Capabilities()
	if err != nil {
		return WrapError("Device.Init", ErrCodeHardwareError, err)
	}
	if d.qmax > caps.QMax {
		return NewQueueError("Device.Init", uint32(d.funcID), -1, ErrCodeInvalidParameter, "qmax exceeds device capability")
	}
	return nil
}

// Open registers the function's qbase/qmax window with the resource
// manager, programs FMAP, and marks the device online.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateOnline {
		return NewError("Device.Open", ErrCodeInvalidState, "device already online")
	}

	d.state = StateInitializing
	d.resourceMgr.Register(d.busRange, d.qbase, d.qmax)
	if err := d.hwops.WriteFmap(d.funcID, d.qbase, d.qmax); err != nil {
		d.state = StateOffline
		return WrapError("Device.Open", ErrCodeHardwareError, err)
	}
	d.state = StateOnline
	return nil
}

// Close stops and removes every added queue, stops the poll-thread
// pool, and marks the device offline.
func (d *Device) Close() error {
	d.mu.Lock()
	qids := make([]uint16, 0, len(d.queues))
	for qid := range d.queues {
		qids = append(qids, qid)
	}
	d.mu.Unlock()

	for _, qid := range qids {
		if qp, ok := d.queue(qid); ok && qp.State() == QueueStarted {
			d.StopQueue(qid)
		}
		d.RemoveQueue(qid)
	}

	d.threadMgr.Stop()
	d.metrics.Stop()

	d.mu.Lock()
	d.state = StateOffline
	d.mu.Unlock()
	return nil
}

// ReadBar performs a raw read against the given BAR.
func (d *Device) ReadBar(bar interfaces.BarType, offset uintptr, data []byte) error {
	return d.mmio.ReadBar(bar, offset, data)
}

// WriteBar performs a raw write against the given BAR.
func (d *Device) WriteBar(bar interfaces.BarType, offset uintptr, data []byte) error {
	return d.mmio.WriteBar(bar, offset, data)
}

// GetBarInfo reports a BAR's base address and length.
func (d *Device) GetBarInfo(bar interfaces.BarType) (base uintptr, length uintptr, err error) {
	return d.mmio.BarInfo(bar)
}

// IsQueueInRange reports whether qidAbs falls within this function's
// [qbase, qbase+qmax) window.
func (d *Device) IsQueueInRange(qidAbs uint16) bool {
	return uint32(qidAbs) >= d.qbase && uint32(qidAbs) < d.qbase+d.qmax
}

func (d *Device) queue(qidAbs uint16) (*QueuePair, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	qp, ok := d.queues[qidAbs]
	return qp, ok
}

// AddQueue allocates and configures a new queue at qidAbs, validating
// the configuration against the device's reported capabilities.
func (d *Device) AddQueue(qidAbs uint16, cfg QueueConfig) (*QueuePair, error) {
	if !d.IsQueueInRange(qidAbs) {
		return nil, NewQueueError("Device.AddQueue", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "qid outside function's qbase/qmax window")
	}

	d.mu.Lock()
	if _, exists := d.queues[qidAbs]; exists {
		d.mu.Unlock()
		return nil, NewQueueError("Device.AddQueue", uint32(d.funcID), int(qidAbs), ErrCodeInvalidState, "queue already added")
	}
	d.mu.Unlock()

	icfg := cfg.toInternal(d.funcID, qidAbs)
	icfg.Logger = logging.Default()

	inner := iqueue.New(qidAbs, d.funcID, d.hwops)
	if err := inner.Add(icfg, d.allocator, d.observer); err != nil {
		return nil, WrapError("Device.AddQueue", ErrCodeInvalidParameter, err)
	}

	qp := &QueuePair{qidAbs: qidAbs, inner: inner}
	d.mu.Lock()
	d.queues[qidAbs] = qp
	d.mu.Unlock()

	hasCmpt := inner.C2H().CmptRing() != nil
	d.resourceMgr.MarkActive(d.busRange, d.funcID, false, false)
	d.resourceMgr.MarkActive(d.busRange, d.funcID, true, hasCmpt)
	return qp, nil
}

// StartQueue programs hardware contexts, prefills ST C2H buffers, and
// registers poll work for qidAbs.
func (d *Device) StartQueue(qidAbs uint16) error {
	qp, ok := d.queue(qidAbs)
	if !ok {
		return NewQueueError("Device.StartQueue", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "unknown queue")
	}

	var assigner iqueue.VectorAssigner
	if d.mode != ModePoll {
		assigner = d.intMgr
	}
	if err := qp.inner.Start(d.threadMgr, assigner); err != nil {
		return WrapError("Device.StartQueue", ErrCodeInvalidState, err)
	}
	return nil
}

// StopQueue quiesces qidAbs, cancels pending requests with Cancelled,
// invalidates its hardware contexts, and returns it to Added.
func (d *Device) StopQueue(qidAbs uint16) error {
	qp, ok := d.queue(qidAbs)
	if !ok {
		return NewQueueError("Device.StopQueue", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "unknown queue")
	}

	var assigner iqueue.VectorAssigner
	if d.mode != ModePoll {
		assigner = d.intMgr
	}
	if err := qp.inner.Stop(d.threadMgr, assigner); err != nil {
		return WrapError("Device.StopQueue", ErrCodeInvalidState, err)
	}
	return nil
}

// RemoveQueue frees qidAbs's rings/trackers/buffers and returns it to
// Available.
func (d *Device) RemoveQueue(qidAbs uint16) error {
	qp, ok := d.queue(qidAbs)
	if !ok {
		return NewQueueError("Device.RemoveQueue", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "unknown queue")
	}
	hasCmpt := qp.inner.C2H() != nil && qp.inner.C2H().CmptRing() != nil
	if err := qp.inner.Remove(); err != nil {
		return WrapError("Device.RemoveQueue", ErrCodeInvalidState, err)
	}

	d.mu.Lock()
	delete(d.queues, qidAbs)
	delete(d.lastUDD, qidAbs)
	d.mu.Unlock()

	d.resourceMgr.MarkInactive(d.busRange, d.funcID, false, false)
	d.resourceMgr.MarkInactive(d.busRange, d.funcID, true, hasCmpt)
	return nil
}

// GetQueuesState returns qidAbs's current lifecycle state.
func (d *Device) GetQueuesState(qidAbs uint16) (QueueState, error) {
	qp, ok := d.queue(qidAbs)
	if !ok {
		return 0, NewQueueError("Device.GetQueuesState", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "unknown queue")
	}
	return qp.State(), nil
}

// Queue returns the public handle for a previously added queue.
func (d *Device) Queue(qidAbs uint16) (*QueuePair, bool) { return d.queue(qidAbs) }

// EnqueueMMRequest submits a memory-mapped DMA request in the given
// direction.
func (d *Device) EnqueueMMRequest(qidAbs uint16, isC2H bool, sgList []SGElement, deviceOffset uint64, cb CompletionFunc, priv interface{}) error {
	qp, ok := d.queue(qidAbs)
	if !ok {
		return NewQueueError("Device.EnqueueMMRequest", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "unknown queue")
	}
	if qp.State() != QueueStarted {
		return NewQueueError("Device.EnqueueMMRequest", uint32(d.funcID), int(qidAbs), ErrCodeInvalidState, "queue not started")
	}

	var tcb tracker.CompletionFunc
	if cb != nil {
		tcb = func(priv interface{}, err error) { cb(priv, completionError(qidAbs, err)) }
	}
	req := iqueue.NewRequest(toInternalSGList(sgList), deviceOffset, tcb, priv)

	var err error
	if isC2H {
		err = qp.inner.C2H().EnqueueMM(req)
	} else {
		err = qp.inner.H2C().Enqueue(req)
	}
	if err != nil {
		return WrapError("Device.EnqueueMMRequest", ErrCodeHardwareError, err)
	}
	if isC2H {
		qp.inner.KickC2H()
	} else {
		qp.inner.KickH2C()
	}
	return nil
}

// EnqueueSTTxRequest submits a streaming host-to-card request.
func (d *Device) EnqueueSTTxRequest(qidAbs uint16, sgList []SGElement, cb CompletionFunc, priv interface{}) error {
	qp, ok := d.queue(qidAbs)
	if !ok {
		return NewQueueError("Device.EnqueueSTTxRequest", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "unknown queue")
	}
	if qp.State() != QueueStarted {
		return NewQueueError("Device.EnqueueSTTxRequest", uint32(d.funcID), int(qidAbs), ErrCodeInvalidState, "queue not started")
	}

	var tcb tracker.CompletionFunc
	if cb != nil {
		tcb = func(priv interface{}, err error) { cb(priv, completionError(qidAbs, err)) }
	}
	req := iqueue.NewRequest(toInternalSGList(sgList), 0, tcb, priv)
	if err := qp.inner.H2C().Enqueue(req); err != nil {
		return WrapError("Device.EnqueueSTTxRequest", ErrCodeHardwareError, err)
	}
	qp.inner.KickH2C()
	return nil
}

// EnqueueSTRxRequest registers a pending streaming card-to-host receive
// request; length 0 is legal and consumes exactly the next queued
// fragment, whatever its length.
func (d *Device) EnqueueSTRxRequest(qidAbs uint16, length int, cb STCompletionFunc, priv interface{}) error {
	qp, ok := d.queue(qidAbs)
	if !ok {
		return NewQueueError("Device.EnqueueSTRxRequest", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "unknown queue")
	}
	if qp.State() != QueueStarted {
		return NewQueueError("Device.EnqueueSTRxRequest", uint32(d.funcID), int(qidAbs), ErrCodeInvalidState, "queue not started")
	}
	if length < 0 {
		return NewQueueError("Device.EnqueueSTRxRequest", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "negative length")
	}

	if err := qp.inner.C2H().EnqueueRX(length, toInternalSTCb(qidAbs, cb), priv); err != nil {
		return WrapError("Device.EnqueueSTRxRequest", ErrCodeResourceExhausted, err)
	}
	qp.inner.KickC2H()
	return nil
}

// RetrieveSTUDDData parses the side-band bytes out of a raw completion
// entry buffer, applying the IP-family-specific masking/skip-bytes rule.
func (d *Device) RetrieveSTUDDData(raw []byte) []byte {
	return uapi.ParseUDD(d.ipFamily.toUapi(), raw)
}

// RetrieveLastSTUDDData returns the most recent UDD-only payload
// observed on qidAbs, if any.
func (d *Device) RetrieveLastSTUDDData(qidAbs uint16) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	udd, ok := d.lastUDD[qidAbs]
	return udd, ok
}

// recordUDD caches the last UDD-only payload seen on qidAbs; wired
// through QueueConfig.ProcSTUddCb by AddQueueWithUDDCache.
func (d *Device) recordUDD(qidAbs uint16, udd []byte) {
	d.mu.Lock()
	d.lastUDD[qidAbs] = udd
	d.mu.Unlock()
}

// AddQueueWithUDDCache behaves like AddQueue but wraps cfg.ProcSTUddCb
// (if any) so RetrieveLastSTUDDData stays current, matching the
// original driver's cached "last UDD" convenience accessor.
func (d *Device) AddQueueWithUDDCache(qidAbs uint16, cfg QueueConfig) (*QueuePair, error) {
	userCb := cfg.ProcSTUddCb
	cfg.ProcSTUddCb = func(qid uint16, udd []byte, priv interface{}) {
		d.recordUDD(qid, udd)
		if userCb != nil {
			userCb(qid, udd, priv)
		}
	}
	return d.AddQueue(qidAbs, cfg)
}

// Capabilities mirrors internal/interfaces.Capabilities at the public
// boundary.
type Capabilities struct {
	STEnabled             bool
	MMEnabled             bool
	MMCompletionEnabled   bool
	DescBypassEnabled     bool
	PrefetchEnabled       bool
	PrefetchBypassEnabled bool
	CmplOvfDisSupported   bool
	Desc64ByteSupported   bool
	IsVersalHardIP        bool
	NumPFs                uint32
	QMax                  uint32
}

func (c Capabilities) toInternal() interfaces.Capabilities {
	return interfaces.Capabilities{
		STEnabled:             c.STEnabled,
		MMEnabled:             c.MMEnabled,
		MMCompletionEnabled:   c.MMCompletionEnabled,
		DescBypassEnabled:     c.DescBypassEnabled,
		PrefetchEnabled:       c.PrefetchEnabled,
		PrefetchBypassEnabled: c.PrefetchBypassEnabled,
		CmplOvfDisSupported:   c.CmplOvfDisSupported,
		Desc64ByteSupported:   c.Desc64ByteSupported,
		IsVersalHardIP:        c.IsVersalHardIP,
		NumPFs:                c.NumPFs,
		QMax:                  c.QMax,
	}
}

// GetDevCapabilitiesInfo reports the device's feature bits.
func (d *Device) GetDevCapabilitiesInfo() (Capabilities, error) {
	caps, err := d.hwops.Capabilities()
	if err != nil {
		return Capabilities{}, WrapError("Device.GetDevCapabilitiesInfo", ErrCodeHardwareError, err)
	}
	return Capabilities{
		STEnabled:             caps.STEnabled,
		MMEnabled:             caps.MMEnabled,
		MMCompletionEnabled:   caps.MMCompletionEnabled,
		DescBypassEnabled:     caps.DescBypassEnabled,
		PrefetchEnabled:       caps.PrefetchEnabled,
		PrefetchBypassEnabled: caps.PrefetchBypassEnabled,
		CmplOvfDisSupported:   caps.CmplOvfDisSupported,
		Desc64ByteSupported:   caps.Desc64ByteSupported,
		IsVersalHardIP:        caps.IsVersalHardIP,
		NumPFs:                caps.NumPFs,
		QMax:                  caps.QMax,
	}, nil
}

// DeviceVersionInfo reports the hardware/software version descriptor.
func (d *Device) DeviceVersionInfo() (major, minor, patch uint16, err error) {
	major, minor, patch, err = d.hwops.VersionInfo()
	if err != nil {
		err = WrapError("Device.DeviceVersionInfo", ErrCodeHardwareError, err)
	}
	return
}

// CSRSnapshot mirrors internal/interfaces.CSRConf at the public
// boundary.
type CSRSnapshot struct {
	RingSize          [16]uint32
	C2HTimerCount     [16]uint32
	C2HThresholdCount [16]uint32
	C2HBufferSize     [16]uint32
	WritebackInterval uint32
}

// ReadCSRConf returns the device's global CSR tables.
func (d *Device) ReadCSRConf() (CSRSnapshot, error) {
	csr, err := d.hwops.ReadCSR()
	if err != nil {
		return CSRSnapshot{}, WrapError("Device.ReadCSRConf", ErrCodeHardwareError, err)
	}
	return CSRSnapshot{
		RingSize:          csr.RingSize,
		C2HTimerCount:     csr.C2HTimerCount,
		C2HThresholdCount: csr.C2HThresholdCount,
		C2HBufferSize:     csr.C2HBufferSize,
		WritebackInterval: csr.WritebackInterval,
	}, nil
}

// SetQmax rebuilds the function's qbase/qmax window, failing with
// ResourceExhausted if any queue under it is still active.
func (d *Device) SetQmax(newQbase, newQmax uint32) error {
	d.mu.Lock()
	if d.state != StateOnline {
		d.mu.Unlock()
		return NewError("Device.SetQmax", ErrCodeInvalidState, "device not online")
	}
	d.state = StateOffline
	oldQbase, oldQmax := d.qbase, d.qmax
	d.mu.Unlock()

	backOnline := func() {
		d.mu.Lock()
		d.state = StateOnline
		d.mu.Unlock()
	}

	if !d.resourceMgr.SetQmax(d.busRange, newQbase, newQmax) {
		backOnline()
		return NewQueueError("Device.SetQmax", uint32(d.funcID), -1, ErrCodeResourceExhausted, "cannot resize qmax while queues are active")
	}
	if err := d.hwops.WriteFmap(d.funcID, newQbase, newQmax); err != nil {
		d.resourceMgr.SetQmax(d.busRange, oldQbase, oldQmax)
		backOnline()
		return WrapError("Device.SetQmax", ErrCodeHardwareError, err)
	}

	d.mu.Lock()
	d.qbase = newQbase
	d.qmax = newQmax
	d.state = StateOnline
	d.mu.Unlock()
	return nil
}

// State reports the device-wide lifecycle state.
func (d *Device) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// GetQstatsInfo reports the device's accumulated queue metrics.
func (d *Device) GetQstatsInfo() MetricsSnapshot { return d.metrics.Snapshot() }

// QueueDescDumpInfo is a read-only snapshot of a queue's descriptor-ring
// indices.
type QueueDescDumpInfo struct {
	QidAbs                              uint16
	H2CCapacity, H2CSwIndex, H2CHwIndex uint32
	C2HCapacity, C2HSwIndex, C2HHwIndex uint32
}

// QueueDescDump snapshots qidAbs's descriptor-ring indices.
func (d *Device) QueueDescDump(qidAbs uint16) (QueueDescDumpInfo, error) {
	qp, ok := d.queue(qidAbs)
	if !ok {
		return QueueDescDumpInfo{}, NewQueueError("Device.QueueDescDump", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "unknown queue")
	}
	h2c := qp.inner.H2C().Ring()
	c2h := qp.inner.C2H().Ring()
	return QueueDescDumpInfo{
		QidAbs:      qidAbs,
		H2CCapacity: h2c.Capacity(), H2CSwIndex: h2c.SwIndex(), H2CHwIndex: h2c.HwIndex(),
		C2HCapacity: c2h.Capacity(), C2HSwIndex: c2h.SwIndex(), C2HHwIndex: c2h.HwIndex(),
	}, nil
}

// QueueContextDump is a read-only snapshot of a queue's programmed
// indirect-context payloads. SW and HW
// contexts exist per direction; CMPT and Prefetch only on the C2H side.
type QueueContextDump struct {
	H2CSW []byte
	C2HSW []byte
	H2CHW []byte
	C2HHW []byte

	Cmpt     []byte
	Prefetch []byte
}

// QueueDumpContext reads back qidAbs's SW/HW/CMPT/Prefetch contexts via
// HwOps.Context(CtxOpRead, ...).
func (d *Device) QueueDumpContext(qidAbs uint16) (QueueContextDump, error) {
	if !d.IsQueueInRange(qidAbs) {
		return QueueContextDump{}, NewQueueError("Device.QueueDumpContext", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "qid outside function's window")
	}
	var out QueueContextDump
	var err error
	if out.H2CSW, err = d.hwops.Context(interfaces.CtxOpRead, interfaces.CtxSW, false, qidAbs, nil); err != nil {
		return out, WrapError("Device.QueueDumpContext", ErrCodeHardwareError, err)
	}
	if out.C2HSW, err = d.hwops.Context(interfaces.CtxOpRead, interfaces.CtxSW, true, qidAbs, nil); err != nil {
		return out, WrapError("Device.QueueDumpContext", ErrCodeHardwareError, err)
	}
	if out.H2CHW, err = d.hwops.Context(interfaces.CtxOpRead, interfaces.CtxHW, false, qidAbs, nil); err != nil {
		return out, WrapError("Device.QueueDumpContext", ErrCodeHardwareError, err)
	}
	if out.C2HHW, err = d.hwops.Context(interfaces.CtxOpRead, interfaces.CtxHW, true, qidAbs, nil); err != nil {
		return out, WrapError("Device.QueueDumpContext", ErrCodeHardwareError, err)
	}
	out.Cmpt, _ = d.hwops.Context(interfaces.CtxOpRead, interfaces.CtxCMPT, true, qidAbs, nil)
	out.Prefetch, _ = d.hwops.Context(interfaces.CtxOpRead, interfaces.CtxPrefetch, true, qidAbs, nil)
	return out, nil
}

// ServiceVector is the ISR/DPC entry point the host integration layer
// calls when an MSI-X data vector fires. In
// CoalescedIrq mode it drains the vector's coalescing ring, kicks each
// named queue's poll work, and writes the vector's CIDX; in DirectIrq
// mode it kicks every queue sharing the vector. Poll mode has no
// vectors and the call is a no-op.
func (d *Device) ServiceVector(vector uint32) {
	switch d.mode {
	case ModeCoalescedIrq:
		r, ok := d.intMgr.CoalescingRing(vector)
		if !ok {
			return
		}
		processed := r.Drain(func(e intring.Entry) {
			qp, ok := d.queue(e.Qid)
			if !ok {
				return
			}
			if e.IsC2H {
				qp.inner.KickC2H()
			} else {
				qp.inner.KickH2C()
			}
		})
		if processed > 0 {
			d.hwops.WriteIntrCidx(vector, r.SwIndex())
		}
	case ModeDirectIrq:
		for _, qid := range d.intMgr.QueuesOnVector(vector) {
			if qp, ok := d.queue(qid); ok {
				qp.inner.KickH2C()
				qp.inner.KickC2H()
			}
		}
	}
}

// IntRingSnapshot is a read-only view of one vector's coalescing ring
// software index.
type IntRingSnapshot struct {
	Vector  uint32
	SwIndex uint32
	Present bool
}

// IntRingDump snapshots the coalescing ring backing vector, if any.
func (d *Device) IntRingDump(vector uint32) IntRingSnapshot {
	r, ok := d.intMgr.CoalescingRing(vector)
	if !ok {
		return IntRingSnapshot{Vector: vector}
	}
	return IntRingSnapshot{Vector: vector, SwIndex: r.SwIndex(), Present: true}
}

// RegDump returns the raw bytes of a BAR region.
func (d *Device) RegDump(bar interfaces.BarType, offset uintptr, length int) ([]byte, error) {
	buf := make([]byte, length)
	if err := d.mmio.ReadBar(bar, offset, buf); err != nil {
		return nil, WrapError("Device.RegDump", ErrCodeHardwareError, err)
	}
	return buf, nil
}

// GetRegInfo is an alias for RegDump.
func (d *Device) GetRegInfo(bar interfaces.BarType, offset uintptr, length int) ([]byte, error) {
	return d.RegDump(bar, offset, length)
}

// ReadMMCmptData reads one MM completion entry, valid only when the
// queue was configured with EnMMCmpl and the device reports MM
// completion support; AddQueue rejects
// EnMMCmpl up front when the device capability bit is unset (see
// QueuePair.Add), so reaching here with a nil ring only happens for an
// MM queue added without EnMMCmpl.
func (d *Device) ReadMMCmptData(qidAbs uint16, out []byte) (retLen int, descSz int, err error) {
	qp, ok := d.queue(qidAbs)
	if !ok {
		return 0, 0, NewQueueError("Device.ReadMMCmptData", uint32(d.funcID), int(qidAbs), ErrCodeInvalidParameter, "unknown queue")
	}
	cmpt := qp.inner.C2H().CmptRing()
	if cmpt == nil {
		return 0, 0, NewQueueError("Device.ReadMMCmptData", uint32(d.funcID), int(qidAbs), ErrCodeNotSupported, "MM completion ring not enabled for this queue")
	}
	idx := cmpt.HwIndex()
	slot := cmpt.Slot(idx)
	n := copy(out, slot)
	return n, cmpt.DescSize(), nil
}
