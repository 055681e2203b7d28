package ring

import "testing"

type fakeAllocator struct{ next uint64 }

func (a *fakeAllocator) Allocate(size int) ([]byte, uint64, error) {
	phys := a.next
	a.next += uint64(size)
	return make([]byte, size), phys, nil
}

func (a *fakeAllocator) Free([]byte) error { return nil }

func TestCreateRejectsNonPowerOfTwo(t *testing.T) {
	if _, err := Create(3, 32, &fakeAllocator{}); err == nil {
		t.Fatal("expected error for non-power-of-two capacity")
	}
}

func TestFreeEntriesReservesOneSlot(t *testing.T) {
	r, err := Create(8, 32, &fakeAllocator{})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.FreeEntries(); got != 7 {
		t.Fatalf("expected 7 free entries on an empty ring of capacity 8, got %d", got)
	}

	r.AdvanceSwIndex(7)
	if got := r.FreeEntries(); got != 0 {
		t.Fatalf("expected ring to report full at capacity-1 in flight, got %d free", got)
	}
}

func TestAdvanceWrapsAtCapacity(t *testing.T) {
	r, err := Create(4, 32, &fakeAllocator{})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Advance(3, 2); got != 1 {
		t.Fatalf("expected wraparound to 1, got %d", got)
	}
}

func TestIndexDeltaWraps(t *testing.T) {
	r, err := Create(4, 32, &fakeAllocator{})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.IndexDelta(3, 1); got != 2 {
		t.Fatalf("expected delta 2 across wrap, got %d", got)
	}
	if got := r.IndexDelta(1, 3); got != 2 {
		t.Fatalf("expected delta 2 without wrap, got %d", got)
	}
}

func TestSlotIsContiguousPerIndex(t *testing.T) {
	r, err := Create(4, 16, &fakeAllocator{})
	if err != nil {
		t.Fatal(err)
	}
	copy(r.Slot(0), []byte("aaaaaaaaaaaaaaaa"))
	copy(r.Slot(1), []byte("bbbbbbbbbbbbbbbb"))
	if string(r.Slot(0)) == string(r.Slot(1)) {
		t.Fatal("expected distinct slot backing arrays")
	}
}
