package queue

import (
	"time"

	"github.com/qdma-core/qdma/internal/constants"
	"github.com/qdma-core/qdma/internal/interfaces"
	"github.com/qdma-core/qdma/internal/uapi"
)

// Config carries every per-queue tunable. One Config is supplied when
// a QueuePair is added and applies to both of its directions.
type Config struct {
	IsST bool

	H2CRingSzIndex   uint8
	C2HRingSzIndex   uint8
	C2HBuffSzIndex   uint8
	C2HThCntIndex    uint8
	C2HTimerCntIndex uint8
	CmptSzIndex      uint8 // index into constants.DescriptorSizes
	TrigMode         uapi.TrigMode
	SwDescSzIndex    uint8 // index into constants.DescriptorSizes; 3 (=64B) only with DescBypassEn

	DescBypassEn bool
	PfchEn       bool
	PfchBypassEn bool
	CmplOvfDis   bool
	EnMMCmpl     bool

	// ProcSTUddCb, when set, is invoked with the user-defined-data bytes
	// of each ST C2H completion entry that carries no data (UDD-only).
	ProcSTUddCb func(qidAbs uint16, udd []byte, priv interface{})

	WBTimeout time.Duration

	FuncID uint16
	QidAbs uint16

	// RingCapacity is the default descriptor-ring capacity for both
	// directions; H2CRingCapacity/C2HRingCapacity override it per
	// direction when the resolved CSR ring-size table entries differ
	//.
	RingCapacity     uint32
	H2CRingCapacity  uint32
	C2HRingCapacity  uint32
	CmptRingCapacity uint32
	C2HBufferSize    uint32

	IPFamily uapi.IPFamily

	// CounterAdapter overrides the default hysteresis used to retune
	// C2HThCntIndex/C2HTimerCntIndex under load. Nil selects
	// DefaultCounterAdapter.
	CounterAdapter CounterAdapter

	// Logger receives lifecycle and failure diagnostics (context
	// programming errors, cancellation on stop). Nil disables logging;
	// this package never falls back to a default logger itself.
	Logger interfaces.Logger
}

// DefaultConfig returns an MM queue Config: moderate ring sizes, no
// coalescing, no bypass/prefetch.
func DefaultConfig() Config {
	return Config{
		IsST:             false,
		H2CRingSzIndex:   4, // 2^(4+... ) resolved by the ring-size table; see RingCapacity
		C2HRingSzIndex:   4,
		C2HBuffSzIndex:   2,
		C2HThCntIndex:    0,
		C2HTimerCntIndex: 0,
		CmptSzIndex:      2, // 32B completions
		TrigMode:         uapi.TrigEvery,
		SwDescSzIndex:    2, // 32B descriptors
		WBTimeout:        constants.DefaultWBTimeout,
		RingCapacity:     1024,
		CmptRingCapacity: 1024,
		C2HBufferSize:    4096,
		IPFamily:         uapi.IPFamilySoft,
	}
}

// descSizeBytes resolves an index into constants.DescriptorSizes into bytes,
// validating it against the 64-byte bypass-only restriction
// and against the engine's minimum descriptor width for the queue mode:
// ST descriptors need 16 bytes, MM descriptors 32.
func descSizeBytes(idx uint8, bypassAllowed, isST bool) (int, error) {
	if int(idx) >= len(constants.DescriptorSizes) {
		return 0, errInvalidConfig("descriptor size index out of range")
	}
	sz := constants.DescriptorSizes[idx]
	if sz == 64 && !bypassAllowed {
		return 0, errInvalidConfig("64-byte descriptors require bypass mode")
	}
	if isST && sz < uapi.STDescWireSize {
		return 0, errInvalidConfig("descriptor size too small for streaming descriptors")
	}
	if !isST && sz < uapi.MMDescWireSize {
		return 0, errInvalidConfig("descriptor size too small for memory-mapped descriptors")
	}
	return sz, nil
}

type errInvalidConfig string

func (e errInvalidConfig) Error() string { return string(e) }
