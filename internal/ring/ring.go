// Package ring implements the DMA-coherent descriptor ring shared with
// hardware: fixed capacity, a trailing writeback-status cell, and the
// producer/consumer index arithmetic every direction of every queue
// builds on.
package ring

import (
	"sync/atomic"

	"github.com/qdma-core/qdma/internal/constants"
	"github.com/qdma-core/qdma/internal/interfaces"
	"github.com/qdma-core/qdma/internal/uapi"
)

// RingBuffer is a fixed-capacity, DMA-coherent ring of descriptor_size
// slots plus a trailing writeback-status cell, all carved out of a
// single allocation. Capacity is the full physical slot
// count and must be a power of two; exactly one slot is kept
// permanently unused so PIDX==CIDX is unambiguously "empty".
type RingBuffer struct {
	capacity uint32
	descSize int

	allocator interfaces.DmaAllocator
	va        []byte
	phys      uint64

	swIndex atomic.Uint32 // next slot the producer will write
	hwIndex atomic.Uint32 // shadow of the device's consumer index
}

// Create allocates a ring of capacity slots (capacity must be a power of
// two) of descSize bytes each, plus a trailing writeback-status cell,
// zeroed and aligned to 4 KiB. Fails with an *qdma.Error of
// kind ResourceExhausted wrapped by the caller on allocation failure.
func Create(capacity uint32, descSize int, allocator interfaces.DmaAllocator) (*RingBuffer, error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, errInvalidCapacity
	}

	size := int(capacity)*descSize + constants.WbStatusCellSize
	va, phys, err := allocator.Allocate(size)
	if err != nil {
		return nil, err
	}

	return &RingBuffer{
		capacity:  capacity,
		descSize:  descSize,
		allocator: allocator,
		va:        va,
		phys:      phys,
	}, nil
}

// Destroy releases the ring's backing allocation.
func (r *RingBuffer) Destroy() error {
	return r.allocator.Free(r.va)
}

// Capacity returns the ring's physical slot count.
func (r *RingBuffer) Capacity() uint32 { return r.capacity }

// DescSize returns the configured descriptor size in bytes.
func (r *RingBuffer) DescSize() int { return r.descSize }

// PhysAddr returns the ring's device-visible base address.
func (r *RingBuffer) PhysAddr() uint64 { return r.phys }

// SwIndex returns the current software (producer) index.
func (r *RingBuffer) SwIndex() uint32 { return r.swIndex.Load() }

// HwIndex returns the current shadow consumer index.
func (r *RingBuffer) HwIndex() uint32 { return r.hwIndex.Load() }

// SetSwIndex overwrites the producer index, used when seeding doorbell
// state on queue start (the ST C2H prefill posts capacity-1 at once).
func (r *RingBuffer) SetSwIndex(v uint32) { r.swIndex.Store(v) }

// SetHwIndex overwrites the shadow consumer index.
func (r *RingBuffer) SetHwIndex(v uint32) { r.hwIndex.Store(v) }

// AdvanceSwIndex advances the producer index by n slots with wraparound
// and returns the new value.
func (r *RingBuffer) AdvanceSwIndex(n uint32) uint32 {
	next := r.Advance(r.swIndex.Load(), n)
	r.swIndex.Store(next)
	return next
}

// AdvanceHwIndex advances the shadow consumer index by n slots with
// wraparound and returns the new value.
func (r *RingBuffer) AdvanceHwIndex(n uint32) uint32 {
	next := r.Advance(r.hwIndex.Load(), n)
	r.hwIndex.Store(next)
	return next
}

// Advance returns idx advanced by n slots, modulo capacity.
func (r *RingBuffer) Advance(idx, n uint32) uint32 {
	return (idx + n) % r.capacity
}

// IndexDelta returns the forward distance from start to end, modulo
// capacity.
func (r *RingBuffer) IndexDelta(start, end uint32) uint32 {
	if end >= start {
		return end - start
	}
	return r.capacity - start + end
}

// FreeEntries returns the number of slots available to the producer,
// reserving exactly one slot so full never equals empty.
func (r *RingBuffer) FreeEntries() uint32 {
	return (r.hwIndex.Load() + r.capacity - r.swIndex.Load() - 1) % r.capacity
}

// InFlight returns the number of slots currently posted to the device
// and not yet reclaimed.
func (r *RingBuffer) InFlight() uint32 {
	return r.IndexDelta(r.hwIndex.Load(), r.swIndex.Load())
}

// Slot returns the raw descriptor bytes at index i for in-place encode
// or decode; callers must apply WriteBarrier/ReadBarrier around the
// surrounding PIDX write / completion read.
func (r *RingBuffer) Slot(i uint32) []byte {
	off := int(i) * r.descSize
	return r.va[off : off+r.descSize]
}

// WbStatus decodes the ring's trailing writeback-status cell.
func (r *RingBuffer) WbStatus() uapi.WbStatusBase {
	off := int(r.capacity) * r.descSize
	return uapi.UnmarshalWbStatus(r.va[off : off+uapi.WbStatusWireSize])
}

// WriteWbStatus overwrites the ring's trailing writeback-status cell.
// Real hardware owns this cell; this exists for test harnesses that
// stand in for hardware and need to post a completion index.
func (r *RingBuffer) WriteWbStatus(s uapi.WbStatusBase) {
	off := int(r.capacity) * r.descSize
	copy(r.va[off:off+uapi.WbStatusWireSize], uapi.MarshalWbStatus(s))
}

var errInvalidCapacity = ringError("ring capacity must be a non-zero power of two")

type ringError string

func (e ringError) Error() string { return string(e) }
