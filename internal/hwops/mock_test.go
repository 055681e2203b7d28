package hwops

import (
	"testing"

	"github.com/qdma-core/qdma/internal/interfaces"
)

func TestMockMmioReadWriteRoundTrip(t *testing.T) {
	m := NewMockMmio(64, 32, 16)

	if err := m.WriteBar(interfaces.BarUser, 4, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 3)
	if err := m.ReadBar(interfaces.BarUser, 4, out); err != nil {
		t.Fatal(err)
	}
	if out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", out)
	}

	reads, writes := m.CallCounts()
	if reads != 1 || writes != 1 {
		t.Fatalf("expected 1 read and 1 write, got reads=%d writes=%d", reads, writes)
	}
}

func TestMockMmioBarInfoReportsSize(t *testing.T) {
	m := NewMockMmio(64, 32, 16)
	_, size, err := m.BarInfo(interfaces.BarBypass)
	if err != nil {
		t.Fatal(err)
	}
	if size != 16 {
		t.Fatalf("expected bypass BAR size 16, got %d", size)
	}
}

func TestMockHwOpsContextWriteReadClearRoundTrip(t *testing.T) {
	hw := NewMockHwOps(interfaces.Capabilities{MMEnabled: true})

	payload := []byte{1, 2, 3, 4}
	if _, err := hw.Context(interfaces.CtxOpWrite, interfaces.CtxSW, false, 5, payload); err != nil {
		t.Fatal(err)
	}
	got, err := hw.Context(interfaces.CtxOpRead, interfaces.CtxSW, false, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected %v back, got %v", payload, got)
	}

	if _, err := hw.Context(interfaces.CtxOpClear, interfaces.CtxSW, false, 5, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = hw.Context(interfaces.CtxOpRead, interfaces.CtxSW, false, 5, nil)
	if got != nil {
		t.Fatalf("expected context cleared, got %v", got)
	}
}

func TestMockHwOpsContextTracksDirection(t *testing.T) {
	hw := NewMockHwOps(interfaces.Capabilities{})

	hw.Context(interfaces.CtxOpWrite, interfaces.CtxSW, false, 5, []byte{1})
	hw.Context(interfaces.CtxOpWrite, interfaces.CtxSW, true, 5, []byte{2})

	h2c, _ := hw.Context(interfaces.CtxOpRead, interfaces.CtxSW, false, 5, nil)
	c2h, _ := hw.Context(interfaces.CtxOpRead, interfaces.CtxSW, true, 5, nil)
	if string(h2c) != "\x01" || string(c2h) != "\x02" {
		t.Fatalf("expected direction-keyed contexts, got h2c=%v c2h=%v", h2c, c2h)
	}
}

func TestMockHwOpsContextClearVsInvalidate(t *testing.T) {
	hw := NewMockHwOps(interfaces.Capabilities{})

	hw.Context(interfaces.CtxOpWrite, interfaces.CtxSW, false, 5, []byte{1})
	hw.Context(interfaces.CtxOpClear, interfaces.CtxSW, false, 5, nil)
	if hw.WasInvalidated(interfaces.CtxSW, false, 5) {
		t.Fatal("expected Clear not to mark the context invalidated")
	}

	hw.Context(interfaces.CtxOpWrite, interfaces.CtxSW, false, 5, []byte{1})
	hw.Context(interfaces.CtxOpInvalidate, interfaces.CtxSW, false, 5, nil)
	if !hw.WasInvalidated(interfaces.CtxSW, false, 5) {
		t.Fatal("expected Invalidate to mark the context invalidated")
	}
}

func TestMockHwOpsFailContext(t *testing.T) {
	hw := NewMockHwOps(interfaces.Capabilities{})
	hw.FailContext = true
	if _, err := hw.Context(interfaces.CtxOpWrite, interfaces.CtxSW, false, 0, nil); err == nil {
		t.Fatal("expected FailContext to force an error")
	}
	if hw.ContextCalls != 1 {
		t.Fatalf("expected ContextCalls to still be tracked on failure, got %d", hw.ContextCalls)
	}
}

func TestMockHwOpsPidxAndCSRHelpers(t *testing.T) {
	hw := NewMockHwOps(interfaces.Capabilities{})

	hw.WriteH2CPidx(9, 42)
	if v, ok := hw.LastH2CPidx(9); !ok || v != 42 {
		t.Fatalf("expected H2C pidx 42, got %d ok=%v", v, ok)
	}

	csr := interfaces.CSRConf{RingSize: [16]uint32{1, 2, 3}}
	hw.SetCSR(csr)
	got, err := hw.ReadCSR()
	if err != nil {
		t.Fatal(err)
	}
	if got.RingSize != csr.RingSize {
		t.Fatalf("expected CSR round-trip, got %+v", got)
	}
}

func TestMockHwOpsQid2Vec(t *testing.T) {
	hw := NewMockHwOps(interfaces.Capabilities{})
	if err := hw.WriteQid2Vec(2, true, 7, true); err != nil {
		t.Fatal(err)
	}
	var _ interfaces.Qid2VecCapable = hw
}
