//go:build !(amd64 && cgo)

package ring

import "sync/atomic"

// sentinel gives the portable barrier implementation something to
// touch; Go's memory model already orders atomic operations, so a
// load/store pair on a dummy cell is enough to stop the compiler (and,
// on non-x86 targets where this file is selected, the CPU via the
// runtime's own atomic primitives) from hoisting surrounding accesses
// across the barrier call.
var sentinel uint32

// WriteBarrier must be called after publishing descriptor-slot writes
// and before the PIDX MMIO doorbell write.
func WriteBarrier() {
	atomic.AddUint32(&sentinel, 1)
}

// ReadBarrier must be called after reading a completion's CIDX/wb_status
// snapshot and before consuming the completion payload it describes.
func ReadBarrier() {
	atomic.LoadUint32(&sentinel)
}
