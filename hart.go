package hypervisor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// HartState tracks a hart through the bring-up protocol.
type HartState int32

const (
	HartReset HartState = iota
	HartClaimSlab
	HartInstallTrapVector
	HartBootPath
	HartWaitPath
	HartRunning
	HartParked
)

func (s HartState) String() string {
	switch s {
	case HartReset:
		return "reset"
	case HartClaimSlab:
		return "claim-slab"
	case HartInstallTrapVector:
		return "install-trap-vector"
	case HartBootPath:
		return "boot-path"
	case HartWaitPath:
		return "wait-path"
	case HartRunning:
		return "running"
	case HartParked:
		return "parked"
	default:
		return "unknown"
	}
}

// Hart is one simulated physical core and also the per-hart handle the
// dispatcher and context switch operate on. Only the goroutine running the
// hart may call its methods, except Raise, State and the read-only
// accessors, which are safe from anywhere.
type Hart struct {
	sys   *System
	id    uint64
	index int

	x    [NumRegs]uint64
	pc   uint64
	priv Privilege
	csrs map[CSR]uint64
	mip  atomic.Uint64

	state  atomic.Int32
	inTrap bool
	parked error

	wake chan struct{}
	work chan *SupervisorState

	handler TrapHandler
	log     *logrus.Entry
}

func newHart(sys *System, hartID uint64) *Hart {
	h := &Hart{
		sys:   sys,
		id:    hartID,
		index: -1,
		priv:  PrivMachine,
		csrs:  make(map[CSR]uint64, len(csrNames)),
		wake:  make(chan struct{}, 1),
		work:  make(chan *SupervisorState, 1),
		log:   sys.log.WithField("hart", hartID),
	}
	for c := range csrNames {
		h.csrs[c] = 0
	}
	h.csrs[CSRMhartid] = hartID
	h.handler = sys.handler
	return h
}

// ID returns the hardware-assigned hart ID (mhartid).
func (h *Hart) ID() uint64 { return h.id }

// System returns the machine the hart belongs to.
func (h *Hart) System() *System { return h.sys }

// Index returns the slab index claimed at boot, or -1 before ClaimSlab.
func (h *Hart) Index() int { return h.index }

// State returns the current protocol state.
func (h *Hart) State() HartState { return HartState(h.state.Load()) }

func (h *Hart) setState(s HartState) {
	h.state.Store(int32(s))
	h.log.WithField("state", s).Debug("hart state change")
}

// Privilege returns the privilege level the hart is executing at.
func (h *Hart) Privilege() Privilege { return h.priv }

// InTrap reports whether the hart is inside the dispatcher.
func (h *Hart) InTrap() bool { return h.inTrap }

// ParkReason returns the error that parked the hart, if any.
func (h *Hart) ParkReason() error { return h.parked }

// SetTrapHandler replaces the higher-level handler the dispatcher calls.
func (h *Hart) SetTrapHandler(handler TrapHandler) { h.handler = handler }

// ReadCSR returns a control register.
func (h *Hart) ReadCSR(c CSR) (uint64, error) {
	if c == CSRMip {
		return h.mip.Load(), nil
	}
	v, ok := h.csrs[c]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCSR, c)
	}
	return v, nil
}

// WriteCSR sets a control register. mhartid is read-only.
func (h *Hart) WriteCSR(c CSR, v uint64) error {
	switch c {
	case CSRMhartid:
		return fmt.Errorf("%w: %v is read-only", ErrInvalidCSR, c)
	case CSRMip:
		h.mip.Store(v)
		return nil
	}
	if _, ok := h.csrs[c]; !ok {
		return fmt.Errorf("%w: %v", ErrInvalidCSR, c)
	}
	h.csrs[c] = v
	return nil
}

func (h *Hart) setCSRBits(c CSR, bits uint64)   { h.csrs[c] |= bits }
func (h *Hart) clearCSRBits(c CSR, bits uint64) { h.csrs[c] &^= bits }

// Raise marks interrupt n pending and wakes the hart if it is waiting for
// an interrupt. Safe to call from any goroutine.
func (h *Hart) Raise(n uint) {
	for {
		old := h.mip.Load()
		if h.mip.CompareAndSwap(old, old|1<<n) {
			break
		}
	}
	h.signal()
}

func (h *Hart) clearPending(n uint) {
	for {
		old := h.mip.Load()
		if h.mip.CompareAndSwap(old, old&^(1<<n)) {
			return
		}
	}
}

func (h *Hart) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// interruptsEnabled reports whether machine-level interrupts can be taken.
// Below M-mode they always can; in M-mode mstatus.MIE decides.
func (h *Hart) interruptsEnabled() bool {
	return h.priv < PrivMachine || h.csrs[CSRMstatus]&MstatusMIE != 0
}

// Poll takes the highest-priority pending and enabled interrupt, if any,
// through the dispatcher. It reports whether a trap was taken.
func (h *Hart) Poll() (bool, error) {
	if !h.interruptsEnabled() {
		return false, nil
	}
	ready := h.mip.Load() & h.csrs[CSRMie]
	if ready == 0 {
		return false, nil
	}
	for _, n := range interruptPriority {
		if ready&(1<<n) != 0 {
			return true, h.Trap(InterruptCause(n), 0)
		}
	}
	return false, nil
}

// interruptPriority is the standard RISC-V order: external, software,
// timer; machine before supervisor before user.
var interruptPriority = [...]uint{
	IntMachineExternal, IntMachineSoftware, IntMachineTimer,
	IntSupervisorExternal, IntSupervisorSoftware, IntSupervisorTimer,
	IntUserExternal, IntUserSoftware, IntUserTimer,
}

// WaitForInterrupt models wfi: it blocks until an interrupt is raised on
// this hart or ctx ends. Like wfi it may also return spuriously.
func (h *Hart) WaitForInterrupt(ctx context.Context) error {
	if h.mip.Load()&h.csrs[CSRMie] != 0 {
		return nil
	}
	select {
	case <-h.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// park stops the hart permanently. A parked hart takes no further traps.
func (h *Hart) park(reason error) {
	h.parked = reason
	h.setState(HartParked)
	h.clearCSRBits(CSRMstatus, MstatusMIE)
	recordHartParked()
	h.log.WithError(reason).Error("hart parked")
}
