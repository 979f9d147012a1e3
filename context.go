package hypervisor

import "time"

// SupervisorState is everything needed to resume a virtual CPU at the
// privilege level below the hypervisor. The scheduler owns these; the core
// only moves them in and out of the trap frame.
type SupervisorState struct {
	Sstatus    uint64 `json:"sstatus"`
	Stvec      uint64 `json:"stvec"`
	Sip        uint64 `json:"sip"`
	Sie        uint64 `json:"sie"`
	Scounteren uint64 `json:"scounteren"`
	Sscratch   uint64 `json:"sscratch"`
	Sepc       uint64 `json:"sepc"`
	Scause     uint64 `json:"scause"`
	Stval      uint64 `json:"stval"`
	Satp       uint64 `json:"satp"`

	PC uint64 `json:"pc"`
	SP uint64 `json:"sp"`

	// Registers holds x1 through x31. Registers[1] is the x2 slot of the
	// register area, which the exit path never restores; SP is the stack
	// pointer the virtual CPU resumes with.
	Registers [NumRegs - 1]uint64 `json:"registers"`
}

// NewSupervisorState returns a blank virtual CPU that starts at entry with
// its stack pointer at stack.
func NewSupervisorState(entry, stack uint64) *SupervisorState {
	return &SupervisorState{PC: entry, SP: stack}
}

func (s *SupervisorState) csrPtrs() [len(supervisorCSRs)]*uint64 {
	return [...]*uint64{
		&s.Sstatus, &s.Stvec, &s.Sip, &s.Sie, &s.Scounteren,
		&s.Sscratch, &s.Sepc, &s.Scause, &s.Stval, &s.Satp,
	}
}

// currentFrame locates the active trap frame from mscratch, which holds the
// trap stack top for the whole of the handler.
func (h *Hart) currentFrame() (frame TrapFrame, regArea uint64) {
	regArea = h.csrs[CSRMscratch] - RegAreaSize
	return TrapFrame{mem: h.sys.mem, addr: regArea - FrameHeaderSize}, regArea
}

// Save copies the interrupted supervisor context into dest. Only valid
// from inside a trap handler running on h. No CSR is modified.
func (h *Hart) Save(dest *SupervisorState) error {
	if !h.inTrap {
		return ErrNotInTrap
	}
	start := time.Now()

	for i, p := range dest.csrPtrs() {
		*p = h.csrs[supervisorCSRs[i]]
	}

	frame, regArea := h.currentFrame()
	dest.PC = h.csrs[CSRMepc]
	dest.SP = frame.SP()
	for i := range dest.Registers {
		dest.Registers[i] = h.sys.mem.load64(regArea + uint64(i+1)*wordSize)
	}

	recordContextSave(time.Since(start))
	return nil
}

// Load makes src the context the current trap returns to. Only valid from
// inside a trap handler running on h.
func (h *Hart) Load(src *SupervisorState) error {
	if !h.inTrap {
		return ErrNotInTrap
	}
	start := time.Now()

	for i, p := range src.csrPtrs() {
		h.csrs[supervisorCSRs[i]] = *p
	}

	frame, regArea := h.currentFrame()
	h.csrs[CSRMepc] = src.PC
	frame.SetEPC(src.PC)
	frame.SetSP(src.SP)
	for i, v := range src.Registers {
		h.sys.mem.store64(regArea+uint64(i+1)*wordSize, v)
	}

	recordContextLoad(time.Since(start))
	return nil
}

// SetReturnToLowerPrivilege makes the next mret drop to supervisor mode.
// Only mstatus.MPP changes.
func (h *Hart) SetReturnToLowerPrivilege() {
	mstatus := h.csrs[CSRMstatus] &^ MstatusMPP
	h.csrs[CSRMstatus] = mstatus | uint64(PrivSupervisor)<<mstatusMPPShift
}

// Snapshot reads the hart's live supervisor-visible state. Outside a trap
// this is the context the last Resume or trap return installed.
func (h *Hart) Snapshot() SupervisorState {
	var s SupervisorState
	for i, p := range s.csrPtrs() {
		*p = h.csrs[supervisorCSRs[i]]
	}
	s.PC = h.pc
	s.SP = h.x[RegSP]
	copy(s.Registers[:], h.x[1:])
	return s
}

// Resume starts state on a hart that is not in a trap, typically one just
// woken from the wait path. Registers, CSRs and pc are written directly and
// the hart drops to supervisor mode. mscratch keeps the trap stack top.
func (h *Hart) Resume(state *SupervisorState) error {
	switch {
	case h.State() == HartParked:
		return ErrHartParked
	case h.inTrap:
		return ErrInTrap
	}

	for i, p := range state.csrPtrs() {
		h.csrs[supervisorCSRs[i]] = *p
	}
	for i, v := range state.Registers {
		h.x[i+1] = v
	}
	h.x[RegSP] = state.SP

	h.csrs[CSRMepc] = state.PC
	h.SetReturnToLowerPrivilege()
	h.setCSRBits(CSRMstatus, MstatusMPIE)
	h.mret()

	recordContextLoad(0)
	h.setState(HartRunning)
	return nil
}
