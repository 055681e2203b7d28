package ring

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/qdma-core/qdma/internal/constants"
)

// MmapAllocator satisfies interfaces.DmaAllocator with anonymous,
// private mmap regions; the pages are not locked in memory.
// A real PCIe deployment would back this with an IOMMU-mapped,
// physically-contiguous allocation; the mmap-backed allocator here
// stands in as the process-local address space the core is tested
// against, with a monotonic counter standing in for the IOVA a real
// DMA-capable allocator would report.
type MmapAllocator struct {
	mu       sync.Mutex
	nextPhys uint64
}

// NewMmapAllocator returns a DmaAllocator usable outside of a real PCIe
// environment, e.g. for unit tests and reference builds.
func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{nextPhys: constants.DmaAllocAlign}
}

// Allocate returns a zeroed, page-aligned anonymous mapping of at least
// size bytes and a synthetic monotonically increasing "physical" address.
func (a *MmapAllocator) Allocate(size int) ([]byte, uint64, error) {
	if size <= 0 {
		size = constants.DmaAllocAlign
	}
	aligned := (size + constants.DmaAllocAlign - 1) &^ (constants.DmaAllocAlign - 1)

	va, err := unix.Mmap(-1, 0, aligned, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, 0, err
	}

	a.mu.Lock()
	phys := a.nextPhys
	a.nextPhys += uint64(aligned)
	a.mu.Unlock()

	return va, phys, nil
}

// Free unmaps a buffer previously returned by Allocate.
func (a *MmapAllocator) Free(va []byte) error {
	if va == nil {
		return nil
	}
	return unix.Munmap(va)
}
