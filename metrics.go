package hypervisor

import (
	"sync/atomic"
	"time"
)

// Performance metrics for monitoring hypervisor operations
var (
	// Trap counters
	trapCount         uint64
	exceptionCount    uint64
	interruptCount    uint64
	syscallFixups     uint64
	timerFires        uint64
	contextSaveCount  uint64
	contextLoadCount  uint64
	registerOps       uint64
	hartsBootedCount  uint64
	hartsParkedCount  uint64
	pagePushCount     uint64
	pagePullCount     uint64
	pageFailureCount  uint64
	lockAcquireCount  uint64
	lockContentions   uint64
	lockContendedSpin uint64

	// Timing metrics (nanoseconds)
	totalTrapTime    uint64
	totalContextTime uint64
)

// Metrics provides access to performance metrics
type Metrics struct {
	Traps            uint64 `json:"traps"`
	Exceptions       uint64 `json:"exceptions"`
	Interrupts       uint64 `json:"interrupts"`
	SyscallFixups    uint64 `json:"syscall_fixups"`
	TimerFires       uint64 `json:"timer_fires"`
	ContextSaves     uint64 `json:"context_saves"`
	ContextLoads     uint64 `json:"context_loads"`
	RegisterOps      uint64 `json:"register_operations"`
	HartsBooted      uint64 `json:"harts_booted"`
	HartsParked      uint64 `json:"harts_parked"`
	PagePushes       uint64 `json:"page_pushes"`
	PagePulls        uint64 `json:"page_pulls"`
	PageFailures     uint64 `json:"page_failures"`
	LockAcquires     uint64 `json:"lock_acquires"`
	LockContentions  uint64 `json:"lock_contentions"`
	LockSpins        uint64 `json:"lock_spins"`
	AvgTrapTimeNs    uint64 `json:"avg_trap_time_ns"`
	AvgContextTimeNs uint64 `json:"avg_context_time_ns"`
}

// GetMetrics returns current performance metrics
func GetMetrics() Metrics {
	traps := atomic.LoadUint64(&trapCount)
	saves := atomic.LoadUint64(&contextSaveCount)
	loads := atomic.LoadUint64(&contextLoadCount)

	var avgTrap, avgContext uint64
	if traps > 0 {
		avgTrap = atomic.LoadUint64(&totalTrapTime) / traps
	}
	if saves+loads > 0 {
		avgContext = atomic.LoadUint64(&totalContextTime) / (saves + loads)
	}

	return Metrics{
		Traps:            traps,
		Exceptions:       atomic.LoadUint64(&exceptionCount),
		Interrupts:       atomic.LoadUint64(&interruptCount),
		SyscallFixups:    atomic.LoadUint64(&syscallFixups),
		TimerFires:       atomic.LoadUint64(&timerFires),
		ContextSaves:     saves,
		ContextLoads:     loads,
		RegisterOps:      atomic.LoadUint64(&registerOps),
		HartsBooted:      atomic.LoadUint64(&hartsBootedCount),
		HartsParked:      atomic.LoadUint64(&hartsParkedCount),
		PagePushes:       atomic.LoadUint64(&pagePushCount),
		PagePulls:        atomic.LoadUint64(&pagePullCount),
		PageFailures:     atomic.LoadUint64(&pageFailureCount),
		LockAcquires:     atomic.LoadUint64(&lockAcquireCount),
		LockContentions:  atomic.LoadUint64(&lockContentions),
		LockSpins:        atomic.LoadUint64(&lockContendedSpin),
		AvgTrapTimeNs:    avgTrap,
		AvgContextTimeNs: avgContext,
	}
}

// ResetMetrics clears all performance metrics
func ResetMetrics() {
	for _, p := range []*uint64{
		&trapCount, &exceptionCount, &interruptCount, &syscallFixups,
		&timerFires, &contextSaveCount, &contextLoadCount, &registerOps,
		&hartsBootedCount, &hartsParkedCount, &pagePushCount, &pagePullCount,
		&pageFailureCount, &lockAcquireCount, &lockContentions, &lockContendedSpin,
		&totalTrapTime, &totalContextTime,
	} {
		atomic.StoreUint64(p, 0)
	}
}

// Internal metric recording functions
func recordTrap(t IRQType, duration time.Duration) {
	atomic.AddUint64(&trapCount, 1)
	if t == IRQInterrupt {
		atomic.AddUint64(&interruptCount, 1)
	} else {
		atomic.AddUint64(&exceptionCount, 1)
	}
	atomic.AddUint64(&totalTrapTime, uint64(duration.Nanoseconds()))
}

func recordSyscallFixup() {
	atomic.AddUint64(&syscallFixups, 1)
}

func recordTimerFire() {
	atomic.AddUint64(&timerFires, 1)
}

func recordContextSave(duration time.Duration) {
	atomic.AddUint64(&contextSaveCount, 1)
	atomic.AddUint64(&totalContextTime, uint64(duration.Nanoseconds()))
}

func recordContextLoad(duration time.Duration) {
	atomic.AddUint64(&contextLoadCount, 1)
	atomic.AddUint64(&totalContextTime, uint64(duration.Nanoseconds()))
}

func recordRegisterOp() {
	atomic.AddUint64(&registerOps, 1)
}

func recordHartBooted() {
	atomic.AddUint64(&hartsBootedCount, 1)
}

func recordHartParked() {
	atomic.AddUint64(&hartsParkedCount, 1)
}

func recordPagePush() {
	atomic.AddUint64(&pagePushCount, 1)
}

func recordPagePull() {
	atomic.AddUint64(&pagePullCount, 1)
}

func recordPageFailure() {
	atomic.AddUint64(&pageFailureCount, 1)
}

func recordLockAcquire() {
	atomic.AddUint64(&lockAcquireCount, 1)
}

func recordLockContention(spins uint64) {
	atomic.AddUint64(&lockContentions, 1)
	atomic.AddUint64(&lockContendedSpin, spins)
}
