package interfaces

// BarType selects which of the device's BARs an Mmio operation targets.
type BarType int

const (
	BarConfig BarType = iota
	BarUser
	BarBypass
)

// Mmio is the minimal raw BAR access capability the core consumes; BAR
// mapping and the PCIe resource plumbing behind it are out of the core's
// scope and live entirely on the other side of this interface.
type Mmio interface {
	ReadBar(bar BarType, offset uintptr, data []byte) error
	WriteBar(bar BarType, offset uintptr, data []byte) error
	BarInfo(bar BarType) (base uintptr, length uintptr, err error)
}

// CtxType identifies which indirect-context table a context operation
// targets.
type CtxType int

const (
	CtxSW CtxType = iota
	CtxHW
	CtxCredit
	CtxCMPT
	CtxPrefetch
	CtxQid2Vec
)

func (t CtxType) String() string {
	switch t {
	case CtxSW:
		return "sw"
	case CtxHW:
		return "hw"
	case CtxCredit:
		return "credit"
	case CtxCMPT:
		return "cmpt"
	case CtxPrefetch:
		return "prefetch"
	case CtxQid2Vec:
		return "qid2vec"
	default:
		return "unknown"
	}
}

// CtxOp selects a context programming operation.
type CtxOp int

const (
	CtxOpRead CtxOp = iota
	CtxOpWrite
	CtxOpClear
	CtxOpInvalidate
)

func (o CtxOp) String() string {
	switch o {
	case CtxOpRead:
		return "read"
	case CtxOpWrite:
		return "write"
	case CtxOpClear:
		return "clear"
	case CtxOpInvalidate:
		return "invalidate"
	default:
		return "unknown"
	}
}

// Capabilities reports the feature bits QueuePair.Add (internal/queue)
// validates configuration against.
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

// HwOps abstracts away vendor register-layout tables:
// context read/write/clear/invalidate, PIDX/CIDX doorbell writes, and
// capability/version queries. Concrete implementations live in
// internal/hwops, one per IP family.
type HwOps interface {
	// Context programs, reads, clears, or invalidates an indirect-context
	// table entry for a given absolute queue index and direction (SW, HW,
	// and credit contexts are maintained per direction; CMPT and Prefetch
	// only exist on the C2H side). data is the raw marshalled context
	// payload (see internal/uapi).
	Context(op CtxOp, ctx CtxType, isC2H bool, qidAbs uint16, data []byte) ([]byte, error)

	// WriteH2CPidx writes the H2C PIDX doorbell for qidAbs.
	WriteH2CPidx(qidAbs uint16, pidx uint32) error
	// WriteC2HPidx writes the C2H PIDX doorbell for qidAbs.
	WriteC2HPidx(qidAbs uint16, pidx uint32) error
	// WriteCmptCidx writes the completion-ring CIDX for qidAbs, optionally
	// re-arming the trigger (used after draining a CMPT ring).
	WriteCmptCidx(qidAbs uint16, cidx uint32, armIrq bool) error

	// WriteFmap programs the per-function qbase/qmax window (FMAP).
	WriteFmap(fn uint16, qbase uint32, qmax uint32) error

	// MaskIntr masks (mask=true) or unmasks the MSI-X mask table entry at
	// the given vector.
	MaskIntr(vector uint32, mask bool) error

	// WriteIntrCidx writes the interrupt-coalescing ring CIDX for the
	// given vector after its entries have been consumed.
	WriteIntrCidx(vector uint32, cidx uint32) error

	// Capabilities returns the device's feature bits.
	Capabilities() (Capabilities, error)
	// VersionInfo returns a compact hardware/software version descriptor.
	VersionInfo() (major, minor, patch uint16, err error)

	// ReadCSR returns the 16-entry global CSR tables (ring size,
	// C2H timer count, C2H threshold count, C2H buffer size) plus the
	// writeback interval.
	ReadCSR() (CSRConf, error)

	// Register-programmed implementations (hwops.SoftIP) serialize their
	// multi-register sequences internally with an hwops.DeviceRegLock
	// shared across functions on the config BAR, so callers never take
	// a lock themselves; hwops.MockHwOps guards its state with its own
	// mutex.
}

// Qid2VecCapable is an optional HwOps capability: IP families that
// maintain a dedicated qid-to-vector context expose it, and callers
// detect it with a type assertion.
type Qid2VecCapable interface {
	WriteQid2Vec(qidAbs uint16, isC2H bool, vector uint32, coalescing bool) error
}

// CSRConf mirrors qdma_glbl_csr_conf: sixteen-entry tunable tables shared
// by every queue that references an index into them.
type CSRConf struct {
	RingSize          [16]uint32
	C2HTimerCount     [16]uint32
	C2HThresholdCount [16]uint32
	C2HBufferSize     [16]uint32
	WritebackInterval uint32
}

// DmaAllocator provides DMA-coherent memory for ring allocations.
type DmaAllocator interface {
	// Allocate returns a zeroed, page-aligned buffer of at least size
	// bytes and its device-visible physical/IOVA address.
	Allocate(size int) (va []byte, phys uint64, err error)
	// Free releases a buffer previously returned by Allocate.
	Free(va []byte) error
}
