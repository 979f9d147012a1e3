package hypervisor

import (
	"fmt"
)

// HartVars is the decoded private variables page of a slab.
type HartVars struct {
	Magic      uint64 `json:"magic"`
	SlabIndex  uint64 `json:"slab_index"`
	HartID     uint64 `json:"hart_id"`
	HeapCursor uint64 `json:"heap_cursor"`
	HeapLimit  uint64 `json:"heap_limit"`
}

// claimSlab takes the next free slab index and lays the slab out. A hart
// that finds no slab left is parked.
func (h *Hart) claimSlab() error {
	h.setState(HartClaimSlab)

	l := h.sys.layout
	idx := int(h.sys.alive.Add(1) - 1)
	if idx >= l.MaxHarts {
		err := fmt.Errorf("%w: hart %d got slab %d, only %d reserved", ErrTooManyHarts, h.id, idx, l.MaxHarts)
		h.park(err)
		return err
	}

	mem := h.sys.mem
	top := l.StackTop(idx)
	mem.store64(l.SlabAddr(idx), StackCanary)
	mem.store64(top+pvMagic, HartMagic)
	mem.store64(top+pvSlabIndex, uint64(idx))
	mem.store64(top+pvHartID, h.id)
	mem.store64(top+pvHeapCursor, l.HeapBase(idx))
	mem.store64(top+pvHeapLimit, l.HeapEnd(idx))

	h.index = idx
	h.log = h.log.WithField("slab", idx)
	h.x[RegSP] = top
	h.csrs[CSRMscratch] = top
	h.sys.registerSlab(h)
	return nil
}

// installTrapVector points mtvec at the dispatcher, delegates user ecalls
// to supervisor mode and enables machine interrupts. mie is left clear so
// nothing is delivered until the kernel opts in.
func (h *Hart) installTrapVector() {
	h.setState(HartInstallTrapVector)
	h.csrs[CSRMtvec] = h.sys.layout.TrapVector
	h.setCSRBits(CSRMedeleg, 1<<ExcUserEcall)
	h.setCSRBits(CSRMstatus, MstatusMIE)
}

// SlabBase returns the base of the hart's slab.
func (h *Hart) SlabBase() uint64 {
	if h.index < 0 {
		return 0
	}
	return h.sys.layout.SlabAddr(h.index)
}

// TrapStackTop returns the top of the hart's trap stack, which is also the
// value mscratch holds outside the dispatcher.
func (h *Hart) TrapStackTop() uint64 {
	if h.index < 0 {
		return 0
	}
	return h.sys.layout.StackTop(h.index)
}

// Vars decodes the slab's private variables page.
func (h *Hart) Vars() (HartVars, error) {
	if h.index < 0 {
		return HartVars{}, fmt.Errorf("%w: hart %d has no slab", ErrIntegrity, h.id)
	}
	pv := h.TrapStackTop()
	mem := h.sys.mem
	return HartVars{
		Magic:      mem.load64(pv + pvMagic),
		SlabIndex:  mem.load64(pv + pvSlabIndex),
		HartID:     mem.load64(pv + pvHartID),
		HeapCursor: mem.load64(pv + pvHeapCursor),
		HeapLimit:  mem.load64(pv + pvHeapLimit),
	}, nil
}

// IntegrityCheck verifies the stack canary, the private variables magic
// and that mscratch still holds the trap stack top.
func (h *Hart) IntegrityCheck() error {
	if h.index < 0 {
		return fmt.Errorf("%w: hart %d has no slab", ErrIntegrity, h.id)
	}
	l := h.sys.layout
	mem := h.sys.mem
	base := l.SlabAddr(h.index)
	top := l.StackTop(h.index)

	if v := mem.load64(base); v != StackCanary {
		return fmt.Errorf("%w: stack canary at 0x%x reads 0x%x", ErrIntegrity, base, v)
	}
	if v := mem.load64(top + pvMagic); v != HartMagic {
		return fmt.Errorf("%w: private variables magic at 0x%x reads 0x%x", ErrIntegrity, top, v)
	}
	if v := h.csrs[CSRMscratch]; v != top {
		return fmt.Errorf("%w: mscratch 0x%x, trap stack top 0x%x", ErrIntegrity, v, top)
	}
	return nil
}
