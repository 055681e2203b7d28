package queue

import (
	"testing"

	"github.com/qdma-core/qdma/internal/hwops"
	"github.com/qdma-core/qdma/internal/interfaces"
	"github.com/qdma-core/qdma/internal/uapi"
)

type fakeAllocator struct{ next uint64 }

func (a *fakeAllocator) Allocate(size int) ([]byte, uint64, error) {
	phys := a.next
	a.next += uint64(size)
	return make([]byte, size), phys, nil
}

func (a *fakeAllocator) Free([]byte) error { return nil }

func newTestH2cQueue(t *testing.T, isST bool) (*H2cQueue, *hwops.MockHwOps) {
	t.Helper()
	hw := hwops.NewMockHwOps(interfaces.Capabilities{MMEnabled: true, STEnabled: true})
	cfg := DefaultConfig()
	cfg.IsST = isST
	cfg.QidAbs = 3
	cfg.RingCapacity = 8
	h, err := NewH2cQueue(cfg, &fakeAllocator{}, hw, nil)
	if err != nil {
		t.Fatal(err)
	}
	return h, hw
}

func TestH2cEnqueueProcessWritesDescriptorAndRingsDoorbell(t *testing.T) {
	h, hw := newTestH2cQueue(t, false)

	gotCb := false
	req := NewRequest([]SGElement{{Phys: 0x1000, Len: 64}}, 0x2000, func(priv interface{}, err error) {
		gotCb = true
		if err != nil {
			t.Fatalf("unexpected completion error: %v", err)
		}
	}, nil)

	if err := h.Enqueue(req); err != nil {
		t.Fatal(err)
	}
	if status := h.Process(); status != ServiceFinished {
		t.Fatalf("expected ServiceFinished, got %v", status)
	}

	pidx, ok := hw.LastH2CPidx(3)
	if !ok || pidx != 1 {
		t.Fatalf("expected H2C PIDX=1 after one descriptor, got %d ok=%v", pidx, ok)
	}

	h.Ring().WriteWbStatus(uapi.WbStatusBase{Cidx: 1})
	if status := h.ServiceCompletions(16); status != ServiceFinished {
		t.Fatalf("expected ServiceFinished, got %v", status)
	}
	if !gotCb {
		t.Fatal("expected completion callback to run once hardware reported cidx=1")
	}
}

func TestH2cZeroLengthRequestCompletesImmediately(t *testing.T) {
	h, _ := newTestH2cQueue(t, true)

	done := false
	req := NewRequest(nil, 0, func(priv interface{}, err error) { done = true }, nil)
	if err := h.Enqueue(req); err != nil {
		t.Fatal(err)
	}
	h.Process()

	h.Ring().WriteWbStatus(uapi.WbStatusBase{Cidx: 1})
	h.ServiceCompletions(16)
	if !done {
		t.Fatal("expected zero-length request to post a single EOP descriptor and complete")
	}
}

func TestH2cCancelAllFailsQueuedAndInflight(t *testing.T) {
	h, _ := newTestH2cQueue(t, false)

	var gotErr error
	req := NewRequest([]SGElement{{Phys: 0x1000, Len: 32}}, 0, func(priv interface{}, err error) {
		gotErr = err
	}, nil)
	h.Enqueue(req)
	h.Process()

	sentinel := cancelError("boom")
	h.CancelAll(sentinel)

	if gotErr != sentinel {
		t.Fatalf("expected in-flight request cancelled with sentinel, got %v", gotErr)
	}
	if err := h.Enqueue(NewRequest(nil, 0, nil, nil)); err == nil {
		t.Fatal("expected Enqueue to fail once the queue has failed")
	}
}
