package uapi

import (
	"bytes"
	"testing"
)

func TestParseUDDSoftIPMasksLowNibble(t *testing.T) {
	raw := []byte{0xab, 0x01, 0x02}
	udd := ParseUDD(IPFamilySoft, raw)
	if udd[0] != 0xa0 {
		t.Fatalf("expected low 4 bits of the first byte masked, got %#x", udd[0])
	}
	if !bytes.Equal(udd[1:], raw[1:]) {
		t.Fatalf("expected remaining bytes untouched, got %v", udd)
	}
	if raw[0] != 0xab {
		t.Fatal("ParseUDD must not mutate the completion entry in place")
	}
}

func TestParseUDDVersalHardSkipsHeaderBytes(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0xaa, 0xbb}
	udd := ParseUDD(IPFamilyVersalHard, raw)
	if !bytes.Equal(udd, []byte{0xaa, 0xbb}) {
		t.Fatalf("expected the 3 leading header bytes skipped, got %v", udd)
	}
	if ParseUDD(IPFamilyVersalHard, []byte{1, 2, 3}) != nil {
		t.Fatal("expected nil for an entry with nothing past the header")
	}
}

func TestCmptHeaderFlags(t *testing.T) {
	h := CmptHeader{DescUsed: true, DescError: 1, Length: 4096, UDDBytes: 7}
	got := UnmarshalCmptHeader(MarshalCmptHeader(h))
	if !got.DescUsed || got.DescError != 1 || got.Length != 4096 || got.UDDBytes != 7 {
		t.Fatalf("header flags did not survive the wire: %+v", got)
	}
}

func TestSTDescriptorLayout(t *testing.T) {
	d := STDescriptor{Addr: 0xdead_beef_0000, Length: 1500, PldLen: 1500, SOP: true}
	buf := MarshalSTDescriptor(d, STDescWireSize)
	if len(buf) != STDescWireSize {
		t.Fatalf("expected a %d-byte descriptor, got %d", STDescWireSize, len(buf))
	}
	got := UnmarshalSTDescriptor(buf)
	if got.Addr != d.Addr || got.Length != 1500 || got.PldLen != 1500 || !got.SOP || got.EOP {
		t.Fatalf("descriptor did not survive the wire: %+v", got)
	}
}

func TestMMDescriptorOversizedSlotZeroTail(t *testing.T) {
	d := MMDescriptor{SrcAddr: 1, DstAddr: 2, Length: 3, Valid: true}
	buf := MarshalMMDescriptor(d, 64)
	for _, b := range buf[MMDescWireSize:] {
		if b != 0 {
			t.Fatal("expected the bypass tail beyond the standard width to stay zeroed")
		}
	}
}
