package hypervisor

import "fmt"

// CSR is a RISC-V control and status register number.
type CSR uint16

const (
	CSRSstatus    CSR = 0x100
	CSRSie        CSR = 0x104
	CSRStvec      CSR = 0x105
	CSRScounteren CSR = 0x106
	CSRSscratch   CSR = 0x140
	CSRSepc       CSR = 0x141
	CSRScause     CSR = 0x142
	CSRStval      CSR = 0x143
	CSRSip        CSR = 0x144
	CSRSatp       CSR = 0x180

	CSRMstatus  CSR = 0x300
	CSRMedeleg  CSR = 0x302
	CSRMideleg  CSR = 0x303
	CSRMie      CSR = 0x304
	CSRMtvec    CSR = 0x305
	CSRMscratch CSR = 0x340
	CSRMepc     CSR = 0x341
	CSRMcause   CSR = 0x342
	CSRMtval    CSR = 0x343
	CSRMip      CSR = 0x344
	CSRMhartid  CSR = 0xF14
)

var csrNames = map[CSR]string{
	CSRSstatus:    "sstatus",
	CSRSie:        "sie",
	CSRStvec:      "stvec",
	CSRScounteren: "scounteren",
	CSRSscratch:   "sscratch",
	CSRSepc:       "sepc",
	CSRScause:     "scause",
	CSRStval:      "stval",
	CSRSip:        "sip",
	CSRSatp:       "satp",
	CSRMstatus:    "mstatus",
	CSRMedeleg:    "medeleg",
	CSRMideleg:    "mideleg",
	CSRMie:        "mie",
	CSRMtvec:      "mtvec",
	CSRMscratch:   "mscratch",
	CSRMepc:       "mepc",
	CSRMcause:     "mcause",
	CSRMtval:      "mtval",
	CSRMip:        "mip",
	CSRMhartid:    "mhartid",
}

func (c CSR) String() string {
	if n, ok := csrNames[c]; ok {
		return n
	}
	return fmt.Sprintf("csr(0x%03x)", uint16(c))
}

// supervisorCSRs is the lower-privilege register set a context switch
// carries, in SupervisorState field order.
var supervisorCSRs = [...]CSR{
	CSRSstatus,
	CSRStvec,
	CSRSip,
	CSRSie,
	CSRScounteren,
	CSRSscratch,
	CSRSepc,
	CSRScause,
	CSRStval,
	CSRSatp,
}

// mstatus bits.
const (
	MstatusSIE  = 1 << 1
	MstatusMIE  = 1 << 3
	MstatusSPIE = 1 << 5
	MstatusMPIE = 1 << 7
	MstatusSPP  = 1 << 8

	mstatusMPPShift = 11
	MstatusMPP      = 3 << mstatusMPPShift
)

// Interrupt numbers, which are also the mip/mie bit positions.
const (
	IntUserSoftware       = 0
	IntSupervisorSoftware = 1
	IntMachineSoftware    = 3
	IntUserTimer          = 4
	IntSupervisorTimer    = 5
	IntMachineTimer       = 7
	IntUserExternal       = 8
	IntSupervisorExternal = 9
	IntMachineExternal    = 11
)

// Exception codes.
const (
	ExcInstructionMisaligned = 0
	ExcInstructionAccess     = 1
	ExcIllegalInstruction    = 2
	ExcBreakpoint            = 3
	ExcLoadMisaligned        = 4
	ExcLoadAccess            = 5
	ExcStoreMisaligned       = 6
	ExcStoreAccess           = 7
	ExcUserEcall             = 8
	ExcSupervisorEcall       = 9
	ExcMachineEcall          = 11
	ExcInstructionPageFault  = 12
	ExcLoadPageFault         = 13
	ExcStorePageFault        = 15
)

// CauseInterrupt is the top bit of mcause on RV64.
const CauseInterrupt = uint64(1) << 63

// InterruptCause builds the mcause value for interrupt n.
func InterruptCause(n uint) uint64 { return CauseInterrupt | uint64(n) }

// TrapVectorOffset is the dispatcher's offset into the hypervisor image;
// mtvec points there once the trap vector is installed.
const TrapVectorOffset = 0x100

// InstructionWidth is the size of the ecall instruction skipped on return.
const InstructionWidth = 4

// Privilege is a RISC-V privilege level.
type Privilege uint8

const (
	PrivUser       Privilege = 0
	PrivSupervisor Privilege = 1
	PrivMachine    Privilege = 3
)

func (p Privilege) String() string {
	switch p {
	case PrivUser:
		return "user"
	case PrivSupervisor:
		return "supervisor"
	case PrivMachine:
		return "machine"
	default:
		return fmt.Sprintf("privilege(%d)", uint8(p))
	}
}
