// Package intring implements the interrupt-coalescing ring used in
// CoalescedIrq mode: a fixed 512-entry x 8-byte ring the device writes
// completion summaries into, with a color bit distinguishing
// not-yet-consumed entries across wraps.
package intring

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/qdma-core/qdma/internal/constants"
	"github.com/qdma-core/qdma/internal/interfaces"
)

// Entry is one decoded interrupt-coalescing ring entry.
type Entry struct {
	Qid      uint16
	IsC2H    bool
	DescPidx uint32
	DescCidx uint32
	Color    bool
}

// Ring is a fixed-capacity (constants.IntrRingEntries) coalescing ring.
// The device is the sole producer; one poll worker is the sole
// consumer, so swIndex needs no synchronization beyond atomics for
// cross-goroutine visibility of Drain's own bookkeeping.
type Ring struct {
	allocator interfaces.DmaAllocator
	va        []byte
	phys      uint64

	swIndex atomic.Uint32
	color   atomic.Bool
}

// New allocates a coalescing ring of constants.IntrRingEntries entries.
func New(allocator interfaces.DmaAllocator) (*Ring, error) {
	size := constants.IntrRingEntries * constants.IntrRingEntrySize
	va, phys, err := allocator.Allocate(size)
	if err != nil {
		return nil, err
	}
	r := &Ring{allocator: allocator, va: va, phys: phys}
	r.color.Store(true)
	return r, nil
}

// Destroy releases the ring's allocation.
func (r *Ring) Destroy() error { return r.allocator.Free(r.va) }

// PhysAddr returns the ring's device-visible base address.
func (r *Ring) PhysAddr() uint64 { return r.phys }

// SwIndex returns the ring's current software consumer index, for
// introspection/dump tooling.
func (r *Ring) SwIndex() uint32 { return r.swIndex.Load() }

func (r *Ring) slot(i uint32) []byte {
	off := int(i) * constants.IntrRingEntrySize
	return r.va[off : off+constants.IntrRingEntrySize]
}

func decodeEntry(buf []byte) Entry {
	flags := buf[0]
	return Entry{
		Qid:      binary.LittleEndian.Uint16(buf[1:3]),
		IsC2H:    flags&0x01 != 0,
		Color:    flags&0x02 != 0,
		DescPidx: uint32(binary.LittleEndian.Uint16(buf[3:5])),
		DescCidx: uint32(binary.LittleEndian.Uint16(buf[5:7])),
	}
}

// Drain reads every entry whose color bit matches the ring's current
// color, flipping the ring's color and wrapping sw_index on rollover,
// and invokes dispatch for each.
func (r *Ring) Drain(dispatch func(Entry)) uint32 {
	processed := uint32(0)
	idx := r.swIndex.Load()
	want := r.color.Load()

	for processed < constants.IntrRingEntries {
		e := decodeEntry(r.slot(idx))
		if e.Color != want {
			break
		}
		dispatch(e)

		idx++
		processed++
		if idx == constants.IntrRingEntries {
			idx = 0
			want = !want
		}
	}

	r.swIndex.Store(idx)
	r.color.Store(want)
	return processed
}
