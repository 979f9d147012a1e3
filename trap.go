package hypervisor

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// TrapHandler is the higher-level logic the dispatcher hands each trap to.
// It runs with interrupts disabled and must not take a lock that the
// interrupted code could be holding.
type TrapHandler interface {
	HandleTrap(h *Hart, f TrapFrame, irq IRQ)
}

// TrapHandlerFunc adapts a function to TrapHandler.
type TrapHandlerFunc func(h *Hart, f TrapFrame, irq IRQ)

func (fn TrapHandlerFunc) HandleTrap(h *Hart, f TrapFrame, irq IRQ) { fn(h, f, irq) }

// TrapFrame is a view of the frame the dispatcher built on the trap stack.
// It is only valid until the trap returns.
//
//	addr+0x00  cause
//	addr+0x08  epc
//	addr+0x10  tval
//	addr+0x18  interrupted sp
//	addr+0x20  register area, slot i holds x_i
type TrapFrame struct {
	mem  *PhysMem
	addr uint64
}

// Addr returns the frame's physical address.
func (f TrapFrame) Addr() uint64 { return f.addr }

func (f TrapFrame) Cause() uint64 { return f.mem.load64(f.addr + frameCause) }
func (f TrapFrame) EPC() uint64   { return f.mem.load64(f.addr + frameEPC) }
func (f TrapFrame) TVal() uint64  { return f.mem.load64(f.addr + frameTval) }

// SP returns the interrupted context's stack pointer.
func (f TrapFrame) SP() uint64 { return f.mem.load64(f.addr + frameSP) }

// SetEPC changes where the trap returns to.
func (f TrapFrame) SetEPC(v uint64) { f.mem.store64(f.addr+frameEPC, v) }

// SetSP changes the stack pointer restored on return.
func (f TrapFrame) SetSP(v uint64) { f.mem.store64(f.addr+frameSP, v) }

func (f TrapFrame) regAddr(r Reg) uint64 {
	return f.addr + FrameHeaderSize + uint64(r)*wordSize
}

// Reg returns the saved value of r. The sp slot holds the trap stack
// pointer; use SP for the interrupted one.
func (f TrapFrame) Reg(r Reg) uint64 {
	if r <= RegZero || r > RegX31 {
		return 0
	}
	return f.mem.load64(f.regAddr(r))
}

// SetReg changes the value r is restored to. x0 is ignored.
func (f TrapFrame) SetReg(r Reg, v uint64) {
	if r <= RegZero || r > RegX31 {
		return
	}
	f.mem.store64(f.regAddr(r), v)
}

// CallNumber returns a7, the environment call number.
func (f TrapFrame) CallNumber() uint64 { return f.Reg(RegA7) }

// Arg returns environment call argument i, a0 through a5.
func (f TrapFrame) Arg(i int) uint64 {
	if i < 0 || i > 5 {
		return 0
	}
	return f.Reg(RegA0 + Reg(i))
}

// SetResult places a return value in a0.
func (f TrapFrame) SetResult(v uint64) { f.SetReg(RegA0, v) }

// Trap raises cause on the hart and runs the dispatcher to completion:
// hardware entry, frame construction, the handler, and the return to the
// (possibly switched) interrupted context.
//
// Interrupt causes are left pending and ErrInterruptsMasked returned when
// the hart cannot take them. Any trap raised while the hart is already in
// the dispatcher parks the hart.
func (h *Hart) Trap(cause, tval uint64) error {
	if h.State() == HartParked {
		return ErrHartParked
	}
	if cause&CauseInterrupt != 0 {
		n := uint(cause &^ CauseInterrupt)
		if n < 64 {
			h.Raise(n)
		}
		if !h.interruptsEnabled() {
			return ErrInterruptsMasked
		}
	}
	if h.inTrap {
		h.park(ErrNestedTrap)
		return ErrNestedTrap
	}
	if err := h.IntegrityCheck(); err != nil {
		h.park(err)
		return err
	}

	start := time.Now()
	h.inTrap = true
	defer func() { h.inTrap = false }()

	h.takeTrap(cause, tval)
	frame, prev := h.trapEntry()

	irq := Classify(frame.Cause(), prev, frame.EPC(), frame.SP())
	recordTrap(irq.Type, time.Since(start))
	if irq.Fatal {
		h.log.WithFields(logrus.Fields{
			"cause": irq.Cause.String(),
			"pc":    fmt.Sprintf("0x%x", irq.PC),
			"tval":  fmt.Sprintf("0x%x", frame.TVal()),
		}).Warn("fatal trap")
	}
	if h.handler != nil {
		h.handler.HandleTrap(h, frame, irq)
	}

	h.trapExit(frame)
	return nil
}

// takeTrap is the hardware half of a trap.
func (h *Hart) takeTrap(cause, tval uint64) {
	h.csrs[CSRMepc] = h.pc
	h.csrs[CSRMcause] = cause
	h.csrs[CSRMtval] = tval

	mstatus := h.csrs[CSRMstatus]
	mstatus &^= MstatusMPP | MstatusMPIE
	mstatus |= uint64(h.priv) << mstatusMPPShift
	if mstatus&MstatusMIE != 0 {
		mstatus |= MstatusMPIE
	}
	mstatus &^= MstatusMIE
	h.csrs[CSRMstatus] = mstatus

	h.priv = PrivMachine
	h.pc = h.csrs[CSRMtvec]
}

// trapEntry builds the frame. It returns the frame and the privilege level
// that was interrupted.
func (h *Hart) trapEntry() (TrapFrame, Privilege) {
	mem := h.sys.mem

	// Run on the trap stack; the interrupted sp is parked in mscratch.
	h.x[RegSP], h.csrs[CSRMscratch] = h.csrs[CSRMscratch], h.x[RegSP]

	h.x[RegSP] -= RegAreaSize
	for r := RegX1; r <= RegX31; r++ {
		mem.store64(h.x[RegSP]+uint64(r)*wordSize, h.x[r])
	}

	// Put the trap stack top back in mscratch and keep the interrupted sp
	// in s11 for the rest of the handler.
	h.x[RegS11] = h.x[RegSP] + RegAreaSize
	h.x[RegS11], h.csrs[CSRMscratch] = h.csrs[CSRMscratch], h.x[RegS11]

	cause := h.csrs[CSRMcause]
	epc := h.csrs[CSRMepc]
	tval := h.csrs[CSRMtval]
	if cause == ExcSupervisorEcall {
		// Return past the ecall rather than re-executing it.
		epc += InstructionWidth
		h.csrs[CSRMepc] = epc
		recordSyscallFixup()
	}

	h.x[RegSP] -= FrameHeaderSize
	mem.store64(h.x[RegSP]+frameCause, cause)
	mem.store64(h.x[RegSP]+frameEPC, epc)
	mem.store64(h.x[RegSP]+frameTval, tval)
	mem.store64(h.x[RegSP]+frameSP, h.x[RegS11])

	prev := Privilege((h.csrs[CSRMstatus] & MstatusMPP) >> mstatusMPPShift)
	return TrapFrame{mem: mem, addr: h.x[RegSP]}, prev
}

// trapExit unwinds trapEntry and returns from the trap.
func (h *Hart) trapExit(f TrapFrame) {
	mem := h.sys.mem

	h.csrs[CSRMepc] = f.EPC()
	h.csrs[CSRMscratch] = f.SP()
	h.x[RegSP] += FrameHeaderSize

	for r := RegX1; r <= RegX31; r++ {
		if r == RegSP {
			continue
		}
		h.x[r] = mem.load64(h.x[RegSP] + uint64(r)*wordSize)
	}
	h.x[RegSP] += RegAreaSize

	h.x[RegSP], h.csrs[CSRMscratch] = h.csrs[CSRMscratch], h.x[RegSP]
	h.mret()
}

// mret returns to the level saved in MPP.
func (h *Hart) mret() {
	mstatus := h.csrs[CSRMstatus]
	prev := Privilege((mstatus & MstatusMPP) >> mstatusMPPShift)

	mstatus &^= MstatusMIE
	if mstatus&MstatusMPIE != 0 {
		mstatus |= MstatusMIE
	}
	mstatus |= MstatusMPIE
	mstatus &^= MstatusMPP
	h.csrs[CSRMstatus] = mstatus

	h.priv = prev
	h.pc = h.csrs[CSRMepc]
}
