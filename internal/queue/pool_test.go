package queue

import (
	"testing"

	"github.com/qdma-core/qdma/internal/constants"
	"github.com/qdma-core/qdma/internal/tracker"
)

func TestFragScratchReuse(t *testing.T) {
	s := getFragScratch()
	if len(s) != 0 || cap(s) != constants.FragScratchCap {
		t.Fatalf("expected empty slice with pooled capacity, got len=%d cap=%d", len(s), cap(s))
	}

	s = append(s, tracker.Fragment{Data: []byte("x"), SOP: true, EOP: true})
	putFragScratch(s)

	s2 := getFragScratch()
	if len(s2) != 0 {
		t.Fatalf("expected recycled slice to come back empty, got len=%d", len(s2))
	}
	putFragScratch(s2)
}

func TestFragScratchDropsOvergrownSlices(t *testing.T) {
	grown := make([]tracker.Fragment, 0, constants.FragScratchCap*4)
	putFragScratch(grown) // must not poison the pool

	s := getFragScratch()
	if cap(s) != constants.FragScratchCap {
		t.Fatalf("expected pool to hand out pooled-capacity slices only, got cap=%d", cap(s))
	}
}

func BenchmarkFragScratch(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := getFragScratch()
		s = append(s, tracker.Fragment{})
		putFragScratch(s)
	}
}
