package tracker

import "testing"

func TestEntryTrackerSetTake(t *testing.T) {
	tr := NewEntryTracker(4)
	called := false
	tr.Set(2, func(priv interface{}, err error) { called = true }, "priv")

	if cb, priv, ok := tr.Take(2); !ok {
		t.Fatal("expected entry at index 2")
	} else {
		cb(priv, nil)
		if !called {
			t.Fatal("callback was not invoked")
		}
		if priv != "priv" {
			t.Fatalf("expected priv=priv, got %v", priv)
		}
	}

	if _, _, ok := tr.Take(2); ok {
		t.Fatal("expected second Take to report no entry")
	}
}

func TestEntryTrackerUnsetSlot(t *testing.T) {
	tr := NewEntryTracker(4)
	if _, _, ok := tr.Take(0); ok {
		t.Fatal("expected no entry for never-set slot")
	}
}

func TestC2HTrackerFIFO(t *testing.T) {
	tr := NewC2HTracker(2)
	if !tr.Push(C2HRequest{Len: 10}) {
		t.Fatal("expected push to succeed")
	}
	if !tr.Push(C2HRequest{Len: 20}) {
		t.Fatal("expected push to succeed")
	}
	if tr.Push(C2HRequest{Len: 30}) {
		t.Fatal("expected push to fail once tracker is full")
	}

	req, ok := tr.Peek()
	if !ok || req.Len != 10 {
		t.Fatalf("expected FIFO order, got %+v ok=%v", req, ok)
	}
	tr.Pop()

	req, ok = tr.Peek()
	if !ok || req.Len != 20 {
		t.Fatalf("expected second request next, got %+v", req)
	}
}

func TestC2HTrackerCancelAll(t *testing.T) {
	tr := NewC2HTracker(4)
	var gotErrs []error
	tr.Push(C2HRequest{Len: 1, Cb: func(priv interface{}, frags []Fragment, err error) {
		gotErrs = append(gotErrs, err)
	}})
	tr.Push(C2HRequest{Len: 2, Cb: func(priv interface{}, frags []Fragment, err error) {
		gotErrs = append(gotErrs, err)
	}})

	sentinel := errSentinel("cancelled")
	tr.CancelAll(sentinel)

	if len(gotErrs) != 2 {
		t.Fatalf("expected 2 cancellation callbacks, got %d", len(gotErrs))
	}
	for _, err := range gotErrs {
		if err != sentinel {
			t.Fatalf("expected sentinel error, got %v", err)
		}
	}
	if tr.Len() != 0 {
		t.Fatal("expected tracker to be empty after CancelAll")
	}
}

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
