package hypervisor

import (
	"fmt"
	"math"
	"math/bits"
	"sync/atomic"
	"time"
)

// clint models the core-local interruptor: one free-running mtime shared
// by every hart and a compare register per slab.
type clint struct {
	mtime    atomic.Uint64
	mtimecmp []atomic.Uint64
}

const timerDisarmed = math.MaxUint64

func newCLINT(harts int) *clint {
	c := &clint{mtimecmp: make([]atomic.Uint64, harts)}
	for i := range c.mtimecmp {
		c.mtimecmp[i].Store(timerDisarmed)
	}
	return c
}

// TimerNow returns the current value of mtime.
func (h *Hart) TimerNow() uint64 {
	return h.sys.clint.mtime.Load()
}

// TimerNext sets the hart's compare register. Writing it clears a pending
// machine timer interrupt, which is raised again at once if target has
// already passed.
func (h *Hart) TimerNext(target uint64) {
	if h.index < 0 {
		return
	}
	h.sys.clint.mtimecmp[h.index].Store(target)
	h.clearPending(IntMachineTimer)
	if h.sys.clint.mtime.Load() >= target {
		recordTimerFire()
		h.Raise(IntMachineTimer)
	}
}

// TimerStart arms the timer to fire immediately and enables machine timer
// interrupts.
func (h *Hart) TimerStart() {
	h.setCSRBits(CSRMie, 1<<IntMachineTimer)
	h.TimerNext(0)
}

// SoftwareInterrupt writes the msip register of the hart on slab idx,
// raising or clearing its machine software interrupt.
func (s *System) SoftwareInterrupt(idx int, pending bool) error {
	h := s.HartAt(idx)
	if h == nil {
		return fmt.Errorf("%w: slab %d", ErrInvalidHart, idx)
	}
	if pending {
		h.Raise(IntMachineSoftware)
	} else {
		h.clearPending(IntMachineSoftware)
	}
	return nil
}

// Tick advances mtime by delta and raises the machine timer interrupt on
// every hart whose compare value has been reached.
func (s *System) Tick(delta uint64) uint64 {
	now := s.clint.mtime.Add(delta)
	for idx := range s.clint.mtimecmp {
		if now < s.clint.mtimecmp[idx].Load() {
			continue
		}
		if h := s.HartAt(idx); h != nil {
			recordTimerFire()
			h.Raise(IntMachineTimer)
		}
	}
	return now
}

// Advance is Tick for a wall-clock duration at the configured timer
// frequency. Negative durations, and ones whose tick count does not fit in
// 64 bits, are rejected without moving mtime.
func (s *System) Advance(d time.Duration) (uint64, error) {
	if d < 0 {
		return 0, fmt.Errorf("%w: %v", ErrBadDuration, d)
	}
	hi, lo := bits.Mul64(uint64(d), s.cfg.TimerFrequency)
	if hi >= uint64(time.Second) {
		return 0, fmt.Errorf("%w: %v at %d Hz", ErrBadDuration, d, s.cfg.TimerFrequency)
	}
	ticks, _ := bits.Div64(hi, lo, uint64(time.Second))
	return s.Tick(ticks), nil
}
