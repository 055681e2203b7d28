package uapi

import "encoding/binary"

// Wire sizes for ring descriptor entries: 16 bytes for streaming, 32
// for memory-mapped, matching the engine's descriptor formats. Larger
// configured sw_desc_sz values (including 64-byte bypass descriptors)
// reuse the same leading fields and carry a zeroed vendor-defined tail.
const (
	MMDescWireSize = 32
	STDescWireSize = 16
)

// MMDescriptor is one memory-mapped engine descriptor.
type MMDescriptor struct {
	SrcAddr uint64
	DstAddr uint64
	Length  uint32
	SOP     bool
	EOP     bool
	Valid   bool
}

// MarshalMMDescriptor packs d into a descSize-byte slot (descSize is
// either MMDescWireSize or 64 for bypass mode; any extra bytes are left
// zeroed).
func MarshalMMDescriptor(d MMDescriptor, descSize int) []byte {
	buf := make([]byte, descSize)
	binary.LittleEndian.PutUint64(buf[0:8], d.SrcAddr)
	binary.LittleEndian.PutUint64(buf[8:16], d.DstAddr)
	binary.LittleEndian.PutUint32(buf[16:20], d.Length)
	flags := boolToByte(d.SOP) | boolToByte(d.EOP)<<1 | boolToByte(d.Valid)<<2
	buf[20] = flags
	return buf
}

// UnmarshalMMDescriptor unpacks an MM descriptor slot.
func UnmarshalMMDescriptor(buf []byte) MMDescriptor {
	flags := buf[20]
	return MMDescriptor{
		SrcAddr: binary.LittleEndian.Uint64(buf[0:8]),
		DstAddr: binary.LittleEndian.Uint64(buf[8:16]),
		Length:  binary.LittleEndian.Uint32(buf[16:20]),
		SOP:     flags&0x01 != 0,
		EOP:     flags&0x02 != 0,
		Valid:   flags&0x04 != 0,
	}
}

// STDescriptor is one streaming engine descriptor.
type STDescriptor struct {
	Addr   uint64
	Length uint32
	PldLen uint32
	SOP    bool
	EOP    bool
}

// MarshalSTDescriptor packs d into a descSize-byte slot: pld_len and
// length as 16-bit fields, SOP/EOP flag word, then the buffer address.
func MarshalSTDescriptor(d STDescriptor, descSize int) []byte {
	buf := make([]byte, descSize)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(d.PldLen))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(d.Length))
	flags := uint16(boolToByte(d.SOP)) | uint16(boolToByte(d.EOP))<<1
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	binary.LittleEndian.PutUint64(buf[8:16], d.Addr)
	return buf
}

// UnmarshalSTDescriptor unpacks an ST descriptor slot.
func UnmarshalSTDescriptor(buf []byte) STDescriptor {
	flags := binary.LittleEndian.Uint16(buf[6:8])
	return STDescriptor{
		Addr:   binary.LittleEndian.Uint64(buf[8:16]),
		Length: uint32(binary.LittleEndian.Uint16(buf[4:6])),
		PldLen: uint32(binary.LittleEndian.Uint16(buf[2:4])),
		SOP:    flags&0x01 != 0,
		EOP:    flags&0x02 != 0,
	}
}
