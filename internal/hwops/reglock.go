package hwops

import "sync"

// DeviceRegLock serializes every indirect-context and doorbell access
// against the config BAR, because many of these operations are
// multi-register sequences that must appear atomic to other functions
// sharing the BAR. It is a distinct
// type, not a bare sync.Mutex, so the register-programmed implementation
// (SoftIP) holds one explicitly rather than relying on an un-named lock
// deep in some other struct. MockHwOps touches no registers and does not
// use it.
type DeviceRegLock struct {
	mu sync.Mutex
}

// Lock acquires the register-access lock.
func (l *DeviceRegLock) Lock() { l.mu.Lock() }

// Unlock releases the register-access lock.
func (l *DeviceRegLock) Unlock() { l.mu.Unlock() }
