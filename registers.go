package hypervisor

import "fmt"

// Reg is a RISC-V integer register, x0 through x31.
type Reg int

const (
	RegX0 Reg = iota
	RegX1
	RegX2
	RegX3
	RegX4
	RegX5
	RegX6
	RegX7
	RegX8
	RegX9
	RegX10
	RegX11
	RegX12
	RegX13
	RegX14
	RegX15
	RegX16
	RegX17
	RegX18
	RegX19
	RegX20
	RegX21
	RegX22
	RegX23
	RegX24
	RegX25
	RegX26
	RegX27
	RegX28
	RegX29
	RegX30
	RegX31
)

// ABI names.
const (
	RegZero = RegX0
	RegRA   = RegX1
	RegSP   = RegX2
	RegGP   = RegX3
	RegTP   = RegX4
	RegT0   = RegX5
	RegS0   = RegX8
	RegFP   = RegX8
	RegS1   = RegX9
	RegA0   = RegX10
	RegA1   = RegX11
	RegA2   = RegX12
	RegA3   = RegX13
	RegA4   = RegX14
	RegA5   = RegX15
	RegA6   = RegX16
	RegA7   = RegX17
	RegS11  = RegX27
)

// NumRegs counts x0..x31.
const NumRegs = 32

var abiNames = [NumRegs]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

func (r Reg) String() string {
	if r < RegX0 || r > RegX31 {
		return "Unknown"
	}
	return abiNames[r]
}

// RegBatch represents a batch of register operations
type RegBatch map[Reg]uint64

// GetReg returns the value of r. x0 always reads zero.
func (h *Hart) GetReg(r Reg) (uint64, error) {
	if h == nil {
		return 0, fmt.Errorf("hv: hart is nil")
	}

	// Security: Enhanced register bounds validation
	if r < RegX0 || r > RegX31 {
		return 0, fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidRegister, r, RegX0, RegX31)
	}

	recordRegisterOp()
	return h.x[r], nil
}

// SetReg writes r. Writes to x0 are discarded, as in hardware.
func (h *Hart) SetReg(r Reg, v uint64) error {
	if h == nil {
		return fmt.Errorf("hv: hart is nil")
	}

	if r < RegX0 || r > RegX31 {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidRegister, r, RegX0, RegX31)
	}
	if r != RegZero {
		h.x[r] = v
	}

	recordRegisterOp()
	return nil
}

// GetRegs retrieves multiple registers in a single call
func (h *Hart) GetRegs(regs []Reg) (RegBatch, error) {
	if h == nil {
		return nil, fmt.Errorf("hv: hart is nil")
	}

	batch := make(RegBatch, len(regs))
	for _, reg := range regs {
		val, err := h.GetReg(reg)
		if err != nil {
			return nil, err
		}
		batch[reg] = val
	}
	return batch, nil
}

// SetRegs sets multiple registers in a single call
func (h *Hart) SetRegs(batch RegBatch) error {
	if h == nil {
		return fmt.Errorf("hv: hart is nil")
	}

	for reg, val := range batch {
		if err := h.SetReg(reg, val); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFile returns a copy of x0..x31.
func (h *Hart) RegisterFile() [NumRegs]uint64 {
	return h.x
}

// GetPC returns the program counter.
func (h *Hart) GetPC() uint64 { return h.pc }

// SetPC sets the program counter.
func (h *Hart) SetPC(v uint64) { h.pc = v }
