package intring

import (
	"encoding/binary"
	"testing"

	"github.com/qdma-core/qdma/internal/constants"
)

type fakeAllocator struct{ next uint64 }

func (a *fakeAllocator) Allocate(size int) ([]byte, uint64, error) {
	phys := a.next
	a.next += uint64(size)
	return make([]byte, size), phys, nil
}

func (a *fakeAllocator) Free([]byte) error { return nil }

func encodeEntry(buf []byte, qid uint16, isC2H, color bool, pidx, cidx uint16) {
	var flags byte
	if isC2H {
		flags |= 0x01
	}
	if color {
		flags |= 0x02
	}
	buf[0] = flags
	binary.LittleEndian.PutUint16(buf[1:3], qid)
	binary.LittleEndian.PutUint16(buf[3:5], pidx)
	binary.LittleEndian.PutUint16(buf[5:7], cidx)
}

func TestDrainStopsAtColorMismatch(t *testing.T) {
	r, err := New(&fakeAllocator{})
	if err != nil {
		t.Fatal(err)
	}

	encodeEntry(r.slot(0), 5, true, true, 1, 0)
	encodeEntry(r.slot(1), 6, false, true, 2, 0)
	// slot 2 left zeroed: color bit false, does not match ring's initial true color.

	var got []Entry
	n := r.Drain(func(e Entry) { got = append(got, e) })
	if n != 2 {
		t.Fatalf("expected 2 entries drained, got %d", n)
	}
	if got[0].Qid != 5 || !got[0].IsC2H {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
	if got[1].Qid != 6 || got[1].IsC2H {
		t.Fatalf("unexpected second entry: %+v", got[1])
	}
	if r.SwIndex() != 2 {
		t.Fatalf("expected sw index 2 after draining 2 entries, got %d", r.SwIndex())
	}
}

func TestDrainWrapsAndFlipsColor(t *testing.T) {
	r, err := New(&fakeAllocator{})
	if err != nil {
		t.Fatal(err)
	}

	for i := uint32(0); i < constants.IntrRingEntries; i++ {
		encodeEntry(r.slot(i), uint16(i), false, true, 0, 0)
	}

	n := r.Drain(func(Entry) {})
	if n != constants.IntrRingEntries {
		t.Fatalf("expected a full ring's worth drained, got %d", n)
	}
	if r.SwIndex() != 0 {
		t.Fatalf("expected sw index to wrap to 0, got %d", r.SwIndex())
	}
	if r.color.Load() {
		t.Fatal("expected color to flip to false after a full wraparound drain")
	}
}
