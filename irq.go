package hypervisor

// IRQType says whether a trap was raised by software or hardware.
type IRQType int

const (
	IRQException IRQType = iota
	IRQInterrupt
)

func (t IRQType) String() string {
	if t == IRQInterrupt {
		return "interrupt"
	}
	return "exception"
}

// IRQCause is the portable name of a trap cause.
type IRQCause int

const (
	CauseUnknown IRQCause = iota

	CauseUserSWI
	CauseSupervisorSWI
	CauseMachineSWI
	CauseUserTimer
	CauseSupervisorTimer
	CauseMachineTimer
	CauseUserInterrupt
	CauseSupervisorInterrupt
	CauseMachineInterrupt

	CauseInstructionAlignment
	CauseInstructionAccess
	CauseIllegalInstruction
	CauseBreakpoint
	CauseLoadAlignment
	CauseLoadAccess
	CauseStoreAlignment
	CauseStoreAccess
	CauseUserEnvironmentCall
	CauseSupervisorEnvironmentCall
	CauseMachineEnvironmentCall
	CauseInstructionPageFault
	CauseLoadPageFault
	CauseStorePageFault
)

var irqCauseNames = map[IRQCause]string{
	CauseUnknown:                   "unknown",
	CauseUserSWI:                   "user software interrupt",
	CauseSupervisorSWI:             "supervisor software interrupt",
	CauseMachineSWI:                "machine software interrupt",
	CauseUserTimer:                 "user timer",
	CauseSupervisorTimer:           "supervisor timer",
	CauseMachineTimer:              "machine timer",
	CauseUserInterrupt:             "user external interrupt",
	CauseSupervisorInterrupt:       "supervisor external interrupt",
	CauseMachineInterrupt:          "machine external interrupt",
	CauseInstructionAlignment:      "instruction misaligned",
	CauseInstructionAccess:         "instruction access fault",
	CauseIllegalInstruction:        "illegal instruction",
	CauseBreakpoint:                "breakpoint",
	CauseLoadAlignment:             "load misaligned",
	CauseLoadAccess:                "load access fault",
	CauseStoreAlignment:            "store misaligned",
	CauseStoreAccess:               "store access fault",
	CauseUserEnvironmentCall:       "ecall from user",
	CauseSupervisorEnvironmentCall: "ecall from supervisor",
	CauseMachineEnvironmentCall:    "ecall from machine",
	CauseInstructionPageFault:      "instruction page fault",
	CauseLoadPageFault:             "load page fault",
	CauseStorePageFault:            "store page fault",
}

func (c IRQCause) String() string {
	if n, ok := irqCauseNames[c]; ok {
		return n
	}
	return "unknown"
}

type causeInfo struct {
	cause IRQCause
	fatal bool
}

var exceptionTable = map[uint64]causeInfo{
	ExcInstructionMisaligned: {CauseInstructionAlignment, true},
	ExcInstructionAccess:     {CauseInstructionAccess, true},
	ExcIllegalInstruction:    {CauseIllegalInstruction, true},
	ExcBreakpoint:            {CauseBreakpoint, false},
	ExcLoadMisaligned:        {CauseLoadAlignment, true},
	ExcLoadAccess:            {CauseLoadAccess, true},
	ExcStoreMisaligned:       {CauseStoreAlignment, true},
	ExcStoreAccess:           {CauseStoreAccess, true},
	ExcUserEcall:             {CauseUserEnvironmentCall, false},
	ExcSupervisorEcall:       {CauseSupervisorEnvironmentCall, false},
	ExcMachineEcall:          {CauseMachineEnvironmentCall, false},
	ExcInstructionPageFault:  {CauseInstructionPageFault, false},
	ExcLoadPageFault:         {CauseLoadPageFault, false},
	ExcStorePageFault:        {CauseStorePageFault, false},
}

// Interrupts are never fatal.
var interruptTable = map[uint64]IRQCause{
	IntUserSoftware:       CauseUserSWI,
	IntSupervisorSoftware: CauseSupervisorSWI,
	IntMachineSoftware:    CauseMachineSWI,
	IntUserTimer:          CauseUserTimer,
	IntSupervisorTimer:    CauseSupervisorTimer,
	IntMachineTimer:       CauseMachineTimer,
	IntUserExternal:       CauseUserInterrupt,
	IntSupervisorExternal: CauseSupervisorInterrupt,
	IntMachineExternal:    CauseMachineInterrupt,
}

// IRQ describes a trap in portable terms for the higher-level handler.
type IRQ struct {
	// Fatal is set when the interrupted context cannot continue.
	Fatal bool
	// PrivilegeMode is the level the interrupted code ran at.
	PrivilegeMode Privilege
	Type          IRQType
	Cause         IRQCause
	// Code is the raw mcause value.
	Code uint64
	PC   uint64
	SP   uint64
}

// Classify converts a raw mcause into an IRQ. Unrecognised codes come back
// as CauseUnknown and are fatal to the interrupted context.
func Classify(code uint64, prev Privilege, pc, sp uint64) IRQ {
	irq := IRQ{
		PrivilegeMode: prev,
		Code:          code,
		PC:            pc,
		SP:            sp,
	}
	n := code &^ CauseInterrupt
	if code&CauseInterrupt != 0 {
		irq.Type = IRQInterrupt
		if c, ok := interruptTable[n]; ok {
			irq.Cause = c
			return irq
		}
	} else if info, ok := exceptionTable[n]; ok {
		irq.Cause = info.cause
		irq.Fatal = info.fatal
		return irq
	}
	irq.Cause = CauseUnknown
	irq.Fatal = true
	return irq
}

var acknowledgeBits = map[IRQCause]uint{
	CauseUserSWI:             IntUserSoftware,
	CauseSupervisorSWI:       IntSupervisorSoftware,
	CauseUserTimer:           IntUserTimer,
	CauseSupervisorTimer:     IntSupervisorTimer,
	CauseUserInterrupt:       IntUserExternal,
	CauseSupervisorInterrupt: IntSupervisorExternal,
}

// Acknowledge clears the pending bit for irq so returning from the trap
// does not immediately re-raise it. Only user and supervisor sources are
// cleared here. Machine-level sources are cleared at the device: the timer
// by rearming, software interrupts through msip and external ones with
// CompleteExternal.
func (h *Hart) Acknowledge(irq IRQ) {
	if bit, ok := acknowledgeBits[irq.Cause]; ok {
		h.clearPending(bit)
	}
}

// CompleteExternal signals the interrupt controller that the hart has
// serviced its machine external interrupt, which drops the pending line.
func (h *Hart) CompleteExternal() {
	h.clearPending(IntMachineExternal)
}
