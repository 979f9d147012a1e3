package hypervisor

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// DeadlockThreshold is the number of failed acquire attempts after which a
// spinning hart reports that the lock may be deadlocked. It keeps spinning.
const DeadlockThreshold = 1000000

// Spinlock is a busy-wait lock over one 32-bit word of physical memory:
// 0 is free, 1 is held. Acquire is an atomic exchange, release an atomic
// store of 0.
//
// There is no owner tracking, no re-entrancy, no queue and no fairness.
// Acquiring a lock the current hart already holds spins forever. Hold times
// are a few instructions, so contended harts simply retry.
type Spinlock struct {
	word *uint32
	addr uint64
	name string
	warn *rateLimitedLogger
}

// NewSpinlock places a lock at addr, which must be 4-byte aligned RAM. The
// word is reset to free.
func NewSpinlock(mem *PhysMem, addr uint64, name string, warn *rateLimitedLogger) (*Spinlock, error) {
	if addr%4 != 0 || !mem.Contains(addr, 4) {
		return nil, fmt.Errorf("%w: lock %q at 0x%x", ErrBadAddress, name, addr)
	}
	l := &Spinlock{word: mem.word32(addr), addr: addr, name: name, warn: warn}
	atomic.StoreUint32(l.word, 0)
	return l, nil
}

// Lock spins until the lock is acquired.
func (l *Spinlock) Lock() {
	recordLockAcquire()
	if atomic.SwapUint32(l.word, 1) == 0 {
		return
	}

	spins := uint64(0)
	for atomic.SwapUint32(l.word, 1) != 0 {
		spins++
		if spins == DeadlockThreshold && l.warn != nil {
			l.warn.Warnf("BUG: %s lock (0x%x) may be deadlocked", l.name, l.addr)
		}
		// A simulated hart shares its host thread with others; let the
		// holder run.
		if spins%64 == 0 {
			runtime.Gosched()
		}
	}
	recordLockContention(spins)
}

// TryLock makes a single acquire attempt.
func (l *Spinlock) TryLock() bool {
	recordLockAcquire()
	return atomic.SwapUint32(l.word, 1) == 0
}

// Unlock releases the lock. Releasing a free lock is not detected.
func (l *Spinlock) Unlock() {
	atomic.StoreUint32(l.word, 0)
}

// Locked reports whether the word currently reads as held.
func (l *Spinlock) Locked() bool {
	return atomic.LoadUint32(l.word) == 1
}

// Name returns the debugging name given at construction.
func (l *Spinlock) Name() string { return l.name }

// deadlockWarnInterval bounds how often a spinning hart may log.
const deadlockWarnInterval = time.Second
