// Package uapi defines the fixed-layout wire structures the engine
// exchanges with hardware through HwOps/Mmio: indirect-context
// payloads, writeback-status cells, and descriptor/completion ring
// entries. The CSR snapshot type (CSRConf) lives in internal/interfaces.
// Structures are plain Go values; Marshal/Unmarshal pack and unpack
// them to the little-endian byte layout the device expects rather than
// depending on unsafe field offsets.
package uapi

// SWContext is the per-direction software descriptor-ring context
// programmed into the device on start().
type SWContext struct {
	Pidx         uint16
	Qen          bool
	WbiChk       bool
	FncID        uint16
	RngszIdx     uint8
	DescSz       uint8
	Bypass       bool
	MMChannel    uint8
	WbkEn        bool
	IrqEn        bool
	IsMM         bool
	RingBasePhys uint64
	Vector       uint16
	IntrAggr     bool
}

// CmptContext is the completion-ring context, required for
// every ST C2H queue and optional for MM queues with completion enabled.
type CmptContext struct {
	EnStatDesc bool
	TrigMode   TrigMode
	CounterIdx uint8
	TimerIdx   uint8
	RingszIdx  uint8
	OvfChkDis  bool
	Color      bool
	Pidx       uint16
	Valid      bool
	DescSz     uint8
	BasePhys   uint64
}

// PrefetchContext configures ST C2H descriptor prefetching.
type PrefetchContext struct {
	BufSzIdx uint8
	Valid    bool
	PfchEn   bool
	Bypass   bool
}

// Qid2VecContext maps a queue direction to an interrupt vector, exposed
// only when HwOps implements interfaces.Qid2VecCapable.
type Qid2VecContext struct {
	Vector     uint16
	Coalescing bool
}

// TrigMode enumerates when hardware fires a completion notification.
type TrigMode uint8

const (
	TrigDisable TrigMode = iota
	TrigEvery
	TrigUserCount
	TrigUser
	TrigUserTimer
	TrigUserTimerCount
)

// WbStatusBase is the trailing writeback-status cell every ring's DMA
// allocation carries.
type WbStatusBase struct {
	Pidx     uint16
	Cidx     uint16
	Color    uint8
	IrqState uint8
}

// CmptHeader is the common prefix of every ST C2H completion entry,
// present regardless of the entry's configured size.
type CmptHeader struct {
	DataFrmt  uint8
	Color     uint8
	DescError uint8
	DescUsed  bool
	Length    uint32
	UDDBytes  uint8
}

// CmptEntry is a tagged completion entry: a common header plus a
// size-dependent tail slice carrying UDD bytes.
type CmptEntry struct {
	CmptHeader
	Tail []byte // length == DescSz - len(marshalled CmptHeader)
}

// IPFamily distinguishes the UDD layout variance between IP families:
// soft IP masks the low 4 bits of the first byte, Versal hard IP skips
// 3 leading header bytes.
type IPFamily uint8

const (
	IPFamilySoft IPFamily = iota
	IPFamilyVersalHard
)

// ParseUDD extracts the side-band bytes from a raw completion entry
// buffer according to the IP family's documented layout variance.
func ParseUDD(family IPFamily, raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	switch family {
	case IPFamilyVersalHard:
		if len(raw) <= 3 {
			return nil
		}
		return raw[3:]
	default:
		out := make([]byte, len(raw))
		copy(out, raw)
		out[0] &^= 0x0f
		return out
	}
}
