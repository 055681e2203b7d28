package queue

import (
	"testing"

	"github.com/qdma-core/qdma/internal/hwops"
	"github.com/qdma-core/qdma/internal/interfaces"
)

type fakeRegistrar struct {
	tokens []func() ServiceStatus
}

func (r *fakeRegistrar) Register(fn func() ServiceStatus) interface{} {
	r.tokens = append(r.tokens, fn)
	return len(r.tokens) - 1
}

func (r *fakeRegistrar) Unregister(token interface{}) {}

func (r *fakeRegistrar) Wake(token interface{}) {}

func TestQueuePairLifecycleTransitions(t *testing.T) {
	hw := hwops.NewMockHwOps(interfaces.Capabilities{MMEnabled: true})
	qp := New(3, 0, hw)
	if qp.State() != Available {
		t.Fatalf("expected new pair to start Available, got %v", qp.State())
	}

	cfg := DefaultConfig()
	cfg.RingCapacity = 8
	cfg.CmptRingCapacity = 8
	if err := qp.Add(cfg, &fakeAllocator{}, nil); err != nil {
		t.Fatal(err)
	}
	if qp.State() != Added {
		t.Fatalf("expected Added after Add, got %v", qp.State())
	}

	reg := &fakeRegistrar{}
	if err := qp.Start(reg, nil); err != nil {
		t.Fatal(err)
	}
	if qp.State() != Started {
		t.Fatalf("expected Started after Start, got %v", qp.State())
	}
	if len(reg.tokens) != 2 {
		t.Fatalf("expected H2C and C2H poll work registered, got %d", len(reg.tokens))
	}

	if err := qp.Stop(reg, nil); err != nil {
		t.Fatal(err)
	}
	if qp.State() != Added {
		t.Fatalf("expected Added after Stop, got %v", qp.State())
	}

	if err := qp.Remove(); err != nil {
		t.Fatal(err)
	}
	if qp.State() != Available {
		t.Fatalf("expected Available after Remove, got %v", qp.State())
	}
}

func TestQueuePairRejectsOutOfOrderTransitions(t *testing.T) {
	hw := hwops.NewMockHwOps(interfaces.Capabilities{MMEnabled: true})
	qp := New(3, 0, hw)

	reg := &fakeRegistrar{}
	if err := qp.Start(reg, nil); err == nil {
		t.Fatal("expected Start to fail before Add")
	}
	if err := qp.Remove(); err == nil {
		t.Fatal("expected Remove to fail while Available")
	}
}

func TestQueuePairAddRejectsUnsupportedMode(t *testing.T) {
	hw := hwops.NewMockHwOps(interfaces.Capabilities{MMEnabled: true, STEnabled: false})
	qp := New(3, 0, hw)

	cfg := DefaultConfig()
	cfg.IsST = true
	if err := qp.Add(cfg, &fakeAllocator{}, nil); err == nil {
		t.Fatal("expected Add to reject ST config when STEnabled is false")
	}
	if qp.State() != Available {
		t.Fatalf("expected Add to roll back to Available on rejection, got %v", qp.State())
	}
}

func TestQueuePairAddRejectsMMCompletionWithoutCapability(t *testing.T) {
	hw := hwops.NewMockHwOps(interfaces.Capabilities{MMEnabled: true, MMCompletionEnabled: false})
	qp := New(3, 0, hw)

	cfg := DefaultConfig()
	cfg.EnMMCmpl = true
	cfg.CmptRingCapacity = 8
	if err := qp.Add(cfg, &fakeAllocator{}, nil); err == nil {
		t.Fatal("expected Add to reject EnMMCmpl when MMCompletionEnabled is false")
	}
	if qp.State() != Available {
		t.Fatalf("expected Add to roll back to Available on rejection, got %v", qp.State())
	}
}

func TestQueuePairAddRejectsTogglesWithoutCapability(t *testing.T) {
	cases := []struct {
		name string
		set  func(*Config)
	}{
		{"desc bypass", func(c *Config) { c.DescBypassEn = true }},
		{"prefetch", func(c *Config) { c.IsST = true; c.PfchEn = true }},
		{"prefetch bypass", func(c *Config) { c.IsST = true; c.PfchBypassEn = true }},
		{"overflow-check disable", func(c *Config) { c.IsST = true; c.CmplOvfDis = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hw := hwops.NewMockHwOps(interfaces.Capabilities{MMEnabled: true, STEnabled: true})
			qp := New(3, 0, hw)

			cfg := DefaultConfig()
			cfg.RingCapacity = 8
			cfg.CmptRingCapacity = 8
			tc.set(&cfg)
			if err := qp.Add(cfg, &fakeAllocator{}, nil); err == nil {
				t.Fatalf("expected Add to reject %s without the capability bit", tc.name)
			}
			if qp.State() != Available {
				t.Fatalf("expected rollback to Available, got %v", qp.State())
			}
		})
	}
}

func TestQueuePairAddRejects64ByteDescriptorsWithoutCapability(t *testing.T) {
	hw := hwops.NewMockHwOps(interfaces.Capabilities{MMEnabled: true, DescBypassEnabled: true})
	qp := New(3, 0, hw)

	cfg := DefaultConfig()
	cfg.RingCapacity = 8
	cfg.DescBypassEn = true
	cfg.SwDescSzIndex = 3
	if err := qp.Add(cfg, &fakeAllocator{}, nil); err == nil {
		t.Fatal("expected Add to reject 64-byte descriptors when the device lacks support")
	}

	hw2 := hwops.NewMockHwOps(interfaces.Capabilities{MMEnabled: true, DescBypassEnabled: true, Desc64ByteSupported: true})
	qp2 := New(3, 0, hw2)
	if err := qp2.Add(cfg, &fakeAllocator{}, nil); err != nil {
		t.Fatalf("expected Add to accept 64-byte descriptors with bypass and support, got %v", err)
	}
}

func TestQueuePairStartsMMCompletionContextWhenEnabled(t *testing.T) {
	hw := hwops.NewMockHwOps(interfaces.Capabilities{MMEnabled: true, MMCompletionEnabled: true})
	qp := New(3, 0, hw)

	cfg := DefaultConfig()
	cfg.RingCapacity = 8
	cfg.EnMMCmpl = true
	cfg.CmptRingCapacity = 8
	if err := qp.Add(cfg, &fakeAllocator{}, nil); err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistrar{}
	if err := qp.Start(reg, nil); err != nil {
		t.Fatal(err)
	}
	if qp.C2H().CmptRing() == nil {
		t.Fatal("expected a completion ring on the MM queue's C2H bundle")
	}
}
