package hypervisor

// PageSize is the RISC-V base page size.
const PageSize = 4096

const (
	wordSize = 8

	// RegAreaSize is the register half of a trap frame: 32 slots, slot
	// 0 unused, slot 2 holding the trap stack pointer at save time.
	RegAreaSize = 32 * wordSize
	// FrameHeaderSize holds cause, epc, tval and the interrupted sp.
	FrameHeaderSize = 4 * wordSize
	// TrapFrameSize is the stack space one trap consumes.
	TrapFrameSize = RegAreaSize + FrameHeaderSize

	minStackSize = PageSize
)

// Trap frame header slots, as offsets from the frame address.
const (
	frameCause = 0 * wordSize
	frameEPC   = 1 * wordSize
	frameTval  = 2 * wordSize
	frameSP    = 3 * wordSize
)

// Private variables page, as offsets from the top of the trap stack.
const (
	pvMagic      = 0 * wordSize
	pvSlabIndex  = 1 * wordSize
	pvHartID     = 2 * wordSize
	pvHeapCursor = 3 * wordSize
	pvHeapLimit  = 4 * wordSize
)

// Words in the image's static data page.
const (
	staticPageStackLock = 0 * wordSize
)

const (
	// HartMagic marks an intact private variables page.
	HartMagic = 0xc001c0de
	// StackCanary sits in the lowest word of every slab.
	StackCanary = 0x5afe57ac
)

// Layout is the fixed physical memory map derived from a Config. All
// addresses are physical.
//
//	RAMBase   hypervisor image (last page: static data)
//	ImageEnd
//	SlabBase  slab 0 | slab 1 | ... | slab MaxHarts-1
//	SlabEnd
//	PageStackBase  free-page stack storage
//	PageStackEnd
//	FreeBase  free pages up to RAMEnd
type Layout struct {
	RAMBase uint64 `json:"ram_base"`
	RAMEnd  uint64 `json:"ram_end"`

	ImageEnd   uint64 `json:"image_end"`
	TrapVector uint64 `json:"trap_vector"`
	StaticData uint64 `json:"static_data"`

	SlabBase  uint64 `json:"slab_base"`
	SlabSize  uint64 `json:"slab_size"`
	StackSize uint64 `json:"stack_size"`
	MaxHarts  int    `json:"max_harts"`
	SlabEnd   uint64 `json:"slab_end"`

	PageStackBase    uint64 `json:"page_stack_base"`
	PageStackInitial uint64 `json:"page_stack_initial"`
	PageStackEnd     uint64 `json:"page_stack_end"`

	FreeBase uint64 `json:"free_base"`
}

// Layout computes the memory map. It does not validate; see Validate.
func (c Config) Layout() Layout {
	l := Layout{
		RAMBase:    c.RAMBase,
		RAMEnd:     c.RAMBase + c.RAMSize,
		ImageEnd:   c.RAMBase + c.ImageSize,
		TrapVector: c.RAMBase + TrapVectorOffset,
		SlabSize:   c.SlabSize,
		StackSize:  c.StackSize,
		MaxHarts:   c.Harts,
	}
	l.SlabBase = pageAlignUp(l.ImageEnd)
	l.StaticData = l.SlabBase - PageSize
	l.SlabEnd = l.SlabBase + uint64(c.Harts)*c.SlabSize
	l.PageStackBase = l.SlabEnd
	l.PageStackInitial = l.PageStackBase + c.PageStackInitial*wordSize
	l.PageStackEnd = l.PageStackBase + c.PageStackSlots*wordSize
	l.FreeBase = pageAlignUp(l.PageStackEnd)
	return l
}

// SlabAddr returns the base of slab idx. Pure arithmetic: no table.
func (l Layout) SlabAddr(idx int) uint64 {
	return l.SlabBase + uint64(idx)*l.SlabSize
}

// StackTop returns the top of the trap stack in slab idx, which is also the
// address of that slab's private variables page.
func (l Layout) StackTop(idx int) uint64 {
	return l.SlabAddr(idx) + l.StackSize
}

// HeapBase returns the first heap byte in slab idx.
func (l Layout) HeapBase(idx int) uint64 {
	return l.StackTop(idx) + PageSize
}

// HeapEnd returns the end of the heap in slab idx.
func (l Layout) HeapEnd(idx int) uint64 {
	return l.SlabAddr(idx) + l.SlabSize
}

// SlabIndexOf returns which slab addr falls in, or -1.
func (l Layout) SlabIndexOf(addr uint64) int {
	if addr < l.SlabBase || addr >= l.SlabEnd {
		return -1
	}
	return int((addr - l.SlabBase) / l.SlabSize)
}

func isPageAligned(addr uint64) bool {
	return addr&(PageSize-1) == 0
}

func pageAlignUp(addr uint64) uint64 {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
