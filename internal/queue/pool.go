package queue

import (
	"sync"

	"github.com/qdma-core/qdma/internal/constants"
	"github.com/qdma-core/qdma/internal/tracker"
)

// fragScratchPool recycles the fragment-list slices ST C2H request
// matching collects before firing a completed request's callback. The
// slice is handed to the callback and reclaimed when it returns, the
// same validity window as the fragment buffers themselves. The pool
// holds pointers to slices to avoid the sync.Pool interface-boxing
// allocation on the hot completion path.
var fragScratchPool = sync.Pool{
	New: func() any {
		s := make([]tracker.Fragment, 0, constants.FragScratchCap)
		return &s
	},
}

// getFragScratch returns an empty fragment slice with pooled capacity.
// Callers must hand it back with putFragScratch once the completion
// callback has returned.
func getFragScratch() []tracker.Fragment {
	return (*fragScratchPool.Get().(*[]tracker.Fragment))[:0]
}

// putFragScratch returns a slice obtained from getFragScratch to the
// pool. Slices grown past the pooled capacity are dropped so the pool
// holds only uniformly sized backing arrays.
func putFragScratch(frags []tracker.Fragment) {
	if cap(frags) != constants.FragScratchCap {
		return
	}
	for i := range frags {
		frags[i] = tracker.Fragment{}
	}
	frags = frags[:0]
	fragScratchPool.Put(&frags)
}
