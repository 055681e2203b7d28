package hwops

import (
	"encoding/binary"
	"testing"

	"github.com/qdma-core/qdma/internal/interfaces"
)

func newTestSoftIP() (*SoftIP, *MockMmio) {
	mmio := NewMockMmio(0x20000, 4096, 4096)
	return NewSoftIP(mmio, &DeviceRegLock{}), mmio
}

func TestSoftIPContextWriteReadRoundTrip(t *testing.T) {
	s, _ := newTestSoftIP()

	payload := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}
	if _, err := s.Context(interfaces.CtxOpWrite, interfaces.CtxSW, true, 5, payload); err != nil {
		t.Fatal(err)
	}

	got, err := s.Context(interfaces.CtxOpRead, interfaces.CtxSW, true, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != ctxtDataWords*4 {
		t.Fatalf("expected full data window, got %d bytes", len(got))
	}
	for i, b := range payload {
		if got[i] != b {
			t.Fatalf("data window byte %d = %#x, want %#x", i, got[i], b)
		}
	}
}

func TestSoftIPDoorbellOffsets(t *testing.T) {
	s, mmio := newTestSoftIP()

	if err := s.WriteH2CPidx(2, 17); err != nil {
		t.Fatal(err)
	}
	var buf [4]byte
	if err := mmio.ReadBar(interfaces.BarConfig, regDmapH2CPidx+2*dmapStride, buf[:]); err != nil {
		t.Fatal(err)
	}
	if v := binary.LittleEndian.Uint32(buf[:]); v != 17 {
		t.Fatalf("H2C doorbell for queue 2 holds %d, want 17", v)
	}

	if err := s.WriteCmptCidx(2, 9, true); err != nil {
		t.Fatal(err)
	}
	if err := mmio.ReadBar(interfaces.BarConfig, regDmapCmptCidx+2*dmapStride, buf[:]); err != nil {
		t.Fatal(err)
	}
	if v := binary.LittleEndian.Uint32(buf[:]); v != 9|1<<16 {
		t.Fatalf("CMPT doorbell holds %#x, want cidx 9 with irq-arm bit", v)
	}
}

func TestSoftIPMaskIntrTouchesOnlyBitZero(t *testing.T) {
	s, mmio := newTestSoftIP()

	off := uintptr(regMsixTable) + 3*regMsixMaskStep
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], 0xfffffff0)
	if err := mmio.WriteBar(interfaces.BarConfig, off, buf[:]); err != nil {
		t.Fatal(err)
	}

	if err := s.MaskIntr(3, true); err != nil {
		t.Fatal(err)
	}
	if err := mmio.ReadBar(interfaces.BarConfig, off, buf[:]); err != nil {
		t.Fatal(err)
	}
	if v := binary.LittleEndian.Uint32(buf[:]); v != 0xfffffff1 {
		t.Fatalf("mask register = %#x, want %#x", v, uint32(0xfffffff1))
	}

	if err := s.MaskIntr(3, false); err != nil {
		t.Fatal(err)
	}
	if err := mmio.ReadBar(interfaces.BarConfig, off, buf[:]); err != nil {
		t.Fatal(err)
	}
	if v := binary.LittleEndian.Uint32(buf[:]); v != 0xfffffff0 {
		t.Fatalf("mask register = %#x after unmask, want %#x", v, uint32(0xfffffff0))
	}
}

func TestSoftIPCapabilitiesDecode(t *testing.T) {
	s, mmio := newTestSoftIP()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(64)<<16|1<<8|0x3)
	if err := mmio.WriteBar(interfaces.BarConfig, regCapability, buf[:]); err != nil {
		t.Fatal(err)
	}

	caps, err := s.Capabilities()
	if err != nil {
		t.Fatal(err)
	}
	if !caps.MMEnabled || !caps.STEnabled {
		t.Fatalf("expected MM and ST enabled, got %+v", caps)
	}
	if caps.QMax != 64 || caps.NumPFs != 1 {
		t.Fatalf("expected QMax=64 NumPFs=1, got %+v", caps)
	}
}
