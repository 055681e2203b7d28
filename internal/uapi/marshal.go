package uapi

import "encoding/binary"

// Wire sizes for each fixed-layout struct this package marshals: a
// literal byte count enforced by the marshal functions, not inferred
// from unsafe.Sizeof a Go struct whose layout the compiler is free to
// rearrange.
const (
	SWContextWireSize       = 24
	CmptContextWireSize     = 16
	PrefetchContextWireSize = 4
	Qid2VecContextWireSize  = 4
	WbStatusWireSize        = 6
	CmptHeaderWireSize      = 8
)

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func byteToBool(b uint8) bool {
	return b&0x1 != 0
}

// MarshalSWContext packs an SWContext into its wire layout.
func MarshalSWContext(c SWContext) []byte {
	buf := make([]byte, SWContextWireSize)
	binary.LittleEndian.PutUint16(buf[0:2], c.Pidx)
	flags := boolToByte(c.Qen) |
		boolToByte(c.WbiChk)<<1 |
		boolToByte(c.Bypass)<<2 |
		boolToByte(c.WbkEn)<<3 |
		boolToByte(c.IrqEn)<<4 |
		boolToByte(c.IsMM)<<5 |
		boolToByte(c.IntrAggr)<<6
	buf[2] = flags
	buf[3] = c.RngszIdx
	buf[4] = c.DescSz
	buf[5] = c.MMChannel
	binary.LittleEndian.PutUint16(buf[6:8], c.FncID)
	binary.LittleEndian.PutUint64(buf[8:16], c.RingBasePhys)
	binary.LittleEndian.PutUint16(buf[16:18], c.Vector)
	return buf
}

// UnmarshalSWContext unpacks a wire-layout SWContext.
func UnmarshalSWContext(buf []byte) SWContext {
	_ = buf[SWContextWireSize-1]
	flags := buf[2]
	return SWContext{
		Pidx:         binary.LittleEndian.Uint16(buf[0:2]),
		Qen:          flags&0x01 != 0,
		WbiChk:       flags&0x02 != 0,
		Bypass:       flags&0x04 != 0,
		WbkEn:        flags&0x08 != 0,
		IrqEn:        flags&0x10 != 0,
		IsMM:         flags&0x20 != 0,
		IntrAggr:     flags&0x40 != 0,
		RngszIdx:     buf[3],
		DescSz:       buf[4],
		MMChannel:    buf[5],
		FncID:        binary.LittleEndian.Uint16(buf[6:8]),
		RingBasePhys: binary.LittleEndian.Uint64(buf[8:16]),
		Vector:       binary.LittleEndian.Uint16(buf[16:18]),
	}
}

// MarshalCmptContext packs a CmptContext into its wire layout.
func MarshalCmptContext(c CmptContext) []byte {
	buf := make([]byte, CmptContextWireSize)
	flags := boolToByte(c.EnStatDesc) |
		boolToByte(c.OvfChkDis)<<1 |
		boolToByte(c.Color)<<2 |
		boolToByte(c.Valid)<<3
	buf[0] = flags
	buf[1] = uint8(c.TrigMode)
	buf[2] = c.CounterIdx
	buf[3] = c.TimerIdx
	buf[4] = c.RingszIdx
	buf[5] = c.DescSz
	binary.LittleEndian.PutUint16(buf[6:8], c.Pidx)
	binary.LittleEndian.PutUint64(buf[8:16], c.BasePhys)
	return buf
}

// UnmarshalCmptContext unpacks a wire-layout CmptContext.
func UnmarshalCmptContext(buf []byte) CmptContext {
	_ = buf[CmptContextWireSize-1]
	flags := buf[0]
	return CmptContext{
		EnStatDesc: flags&0x01 != 0,
		OvfChkDis:  flags&0x02 != 0,
		Color:      flags&0x04 != 0,
		Valid:      flags&0x08 != 0,
		TrigMode:   TrigMode(buf[1]),
		CounterIdx: buf[2],
		TimerIdx:   buf[3],
		RingszIdx:  buf[4],
		DescSz:     buf[5],
		Pidx:       binary.LittleEndian.Uint16(buf[6:8]),
		BasePhys:   binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// MarshalPrefetchContext packs a PrefetchContext into its wire layout.
func MarshalPrefetchContext(c PrefetchContext) []byte {
	buf := make([]byte, PrefetchContextWireSize)
	buf[0] = c.BufSzIdx
	buf[1] = boolToByte(c.Valid) | boolToByte(c.PfchEn)<<1 | boolToByte(c.Bypass)<<2
	return buf
}

// UnmarshalPrefetchContext unpacks a wire-layout PrefetchContext.
func UnmarshalPrefetchContext(buf []byte) PrefetchContext {
	_ = buf[PrefetchContextWireSize-1]
	flags := buf[1]
	return PrefetchContext{
		BufSzIdx: buf[0],
		Valid:    flags&0x01 != 0,
		PfchEn:   flags&0x02 != 0,
		Bypass:   flags&0x04 != 0,
	}
}

// MarshalQid2VecContext packs a Qid2VecContext into its wire layout.
func MarshalQid2VecContext(c Qid2VecContext) []byte {
	buf := make([]byte, Qid2VecContextWireSize)
	binary.LittleEndian.PutUint16(buf[0:2], c.Vector)
	buf[2] = boolToByte(c.Coalescing)
	return buf
}

// UnmarshalQid2VecContext unpacks a wire-layout Qid2VecContext.
func UnmarshalQid2VecContext(buf []byte) Qid2VecContext {
	_ = buf[Qid2VecContextWireSize-1]
	return Qid2VecContext{
		Vector:     binary.LittleEndian.Uint16(buf[0:2]),
		Coalescing: byteToBool(buf[2]),
	}
}

// MarshalWbStatus packs a WbStatusBase into its wire layout, used by
// hardware-binding implementations (and tests standing in for one) to
// post a ring's writeback-status cell.
func MarshalWbStatus(s WbStatusBase) []byte {
	buf := make([]byte, WbStatusWireSize)
	binary.LittleEndian.PutUint16(buf[0:2], s.Pidx)
	binary.LittleEndian.PutUint16(buf[2:4], s.Cidx)
	buf[4] = s.Color
	buf[5] = s.IrqState
	return buf
}

// UnmarshalWbStatus unpacks the trailing writeback-status cell written
// by hardware at the tail of every ring allocation.
func UnmarshalWbStatus(buf []byte) WbStatusBase {
	_ = buf[WbStatusWireSize-1]
	return WbStatusBase{
		Pidx:     binary.LittleEndian.Uint16(buf[0:2]),
		Cidx:     binary.LittleEndian.Uint16(buf[2:4]),
		Color:    buf[4],
		IrqState: buf[5],
	}
}

// MarshalCmptHeader packs a CmptHeader into its wire layout, used by
// hardware-binding implementations (and tests standing in for one) to
// post a completion entry.
func MarshalCmptHeader(h CmptHeader) []byte {
	buf := make([]byte, CmptHeaderWireSize)
	buf[0] = (h.DataFrmt & 0x01) |
		(h.Color&0x01)<<1 |
		(h.DescError&0x01)<<2 |
		boolToByte(h.DescUsed)<<3
	binary.LittleEndian.PutUint32(buf[1:5], h.Length)
	buf[5] = h.UDDBytes
	return buf
}

// UnmarshalCmptHeader unpacks the common header prefix of a completion
// entry.
func UnmarshalCmptHeader(buf []byte) CmptHeader {
	_ = buf[CmptHeaderWireSize-1]
	flags := buf[0]
	return CmptHeader{
		DataFrmt:  flags & 0x01,
		Color:     (flags >> 1) & 0x01,
		DescError: (flags >> 2) & 0x01,
		DescUsed:  (flags>>3)&0x01 != 0,
		Length:    binary.LittleEndian.Uint32(buf[1:5]),
		UDDBytes:  buf[5],
	}
}
