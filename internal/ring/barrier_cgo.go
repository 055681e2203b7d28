//go:build amd64 && cgo

package ring

/*
static inline void qdma_sfence(void) { __builtin_ia32_sfence(); }
static inline void qdma_mfence(void) { __builtin_ia32_mfence(); }
*/
import "C"

// WriteBarrier issues an SFENCE so every descriptor-slot store retires
// before the subsequent PIDX MMIO write. On amd64 this is a
// real fence rather than the portable atomic fallback in barrier.go.
func WriteBarrier() {
	C.qdma_sfence()
}

// ReadBarrier issues an MFENCE so the CIDX/wb_status read completes
// before any read of the completion payload it describes.
func ReadBarrier() {
	C.qdma_mfence()
}
