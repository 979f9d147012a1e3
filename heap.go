package hypervisor

import "fmt"

// Every heap block starts with a two-word header: the block size including
// the header, then a state magic. Blocks are laid out back to back from the
// heap base up to the heap cursor; everything between the cursor and the
// heap limit has never been handed out.
const (
	heapHeaderSize = 2 * wordSize
	heapGranule    = 16

	heapBlockFree  = 0x0deadded
	heapBlockInUse = 0x0d10c0de
)

// HeapStats describes a hart's private heap.
type HeapStats struct {
	Blocks       int    `json:"blocks"`
	FreeTotal    uint64 `json:"free_total"`
	AllocTotal   uint64 `json:"alloc_total"`
	LargestFree  uint64 `json:"largest_free"`
	LargestAlloc uint64 `json:"largest_alloc"`
	// Unused is the space above the cursor that no block covers yet.
	Unused uint64 `json:"unused"`
}

type heapBlock struct {
	addr, size, magic uint64
}

func (b heapBlock) end() uint64 { return b.addr + b.size }

// heap is a view of one slab's heap through its private variables page.
type heap struct {
	mem  *PhysMem
	pv   uint64
	base uint64
}

func (h *Hart) heapAt(pv uint64) (*heap, error) {
	if h.index < 0 {
		return nil, fmt.Errorf("%w: hart %d has no slab", ErrHeapExhausted, h.id)
	}
	return &heap{mem: h.sys.mem, pv: pv, base: h.sys.layout.HeapBase(h.index)}, nil
}

func (hp *heap) cursor() uint64     { return hp.mem.load64(hp.pv + pvHeapCursor) }
func (hp *heap) limit() uint64      { return hp.mem.load64(hp.pv + pvHeapLimit) }
func (hp *heap) setCursor(v uint64) { hp.mem.store64(hp.pv+pvHeapCursor, v) }

func (hp *heap) write(b heapBlock) {
	hp.mem.store64(b.addr, b.size)
	hp.mem.store64(b.addr+wordSize, b.magic)
}

// blocks calls fn on every block below the cursor in address order until
// fn returns false. A header that does not describe a sane block means the
// heap has been overwritten.
func (hp *heap) blocks(fn func(b heapBlock) bool) error {
	cursor := hp.cursor()
	for addr := hp.base; addr < cursor; {
		b := heapBlock{addr: addr, size: hp.mem.load64(addr), magic: hp.mem.load64(addr + wordSize)}
		switch {
		case b.size < heapHeaderSize, b.size%heapGranule != 0, b.size > cursor-addr:
			return fmt.Errorf("%w: heap block at 0x%x has size 0x%x", ErrIntegrity, addr, b.size)
		case b.magic != heapBlockFree && b.magic != heapBlockInUse:
			return fmt.Errorf("%w: heap block at 0x%x has magic 0x%x", ErrIntegrity, addr, b.magic)
		}
		if !fn(b) {
			return nil
		}
		addr = b.end()
	}
	return nil
}

// coalesce merges runs of adjacent free blocks and gives a free run at the
// top of the heap back to the unused space above the cursor.
func (hp *heap) coalesce() error {
	var run heapBlock
	err := hp.blocks(func(b heapBlock) bool {
		if b.magic != heapBlockFree {
			run = heapBlock{}
			return true
		}
		if run.size != 0 && run.end() == b.addr {
			run.size += b.size
			hp.write(run)
		} else {
			run = b
		}
		return true
	})
	if err != nil {
		return err
	}
	if run.size != 0 && run.end() == hp.cursor() {
		hp.setCursor(run.addr)
	}
	return nil
}

// HeapAlloc returns size bytes aligned to align from the hart's private
// heap, reusing the first freed block that fits before growing into unused
// space. An align of 0 means word alignment; every block is at least
// 16-byte aligned. Only the owning hart may allocate.
func (h *Hart) HeapAlloc(size, align uint64) (uint64, error) {
	// Private variables sit at the trap stack top, which mscratch holds.
	hp, err := h.heapAt(h.csrs[CSRMscratch])
	if err != nil {
		return 0, err
	}
	if align == 0 {
		align = wordSize
	}
	if align&(align-1) != 0 {
		return 0, fmt.Errorf("%w: %d", ErrBadAlignment, align)
	}
	align = max(align, heapGranule)

	limit := hp.limit()
	if size > limit-hp.base {
		return 0, fmt.Errorf("%w: %d bytes requested", ErrHeapExhausted, size)
	}
	need := heapHeaderSize + alignUp(max(size, 1), heapGranule)

	var found uint64
	err = hp.blocks(func(b heapBlock) bool {
		if b.magic != heapBlockFree {
			return true
		}
		p := alignUp(b.addr+heapHeaderSize, align)
		pad := p - heapHeaderSize - b.addr
		if pad+need > b.size {
			return true
		}
		if pad > 0 {
			hp.write(heapBlock{addr: b.addr, size: pad, magic: heapBlockFree})
		}
		used := heapBlock{addr: b.addr + pad, size: need, magic: heapBlockInUse}
		hp.write(used)
		if rest := b.size - pad - need; rest > 0 {
			hp.write(heapBlock{addr: used.end(), size: rest, magic: heapBlockFree})
		}
		found = p
		return false
	})
	if err != nil {
		return 0, err
	}
	if found != 0 {
		return found, nil
	}

	cursor := hp.cursor()
	p := alignUp(cursor+heapHeaderSize, align)
	if p < cursor || p > limit || need-heapHeaderSize > limit-p {
		return 0, fmt.Errorf("%w: %d bytes requested, 0x%x-0x%x left", ErrHeapExhausted, size, cursor, limit)
	}
	used := heapBlock{addr: p - heapHeaderSize, size: need, magic: heapBlockInUse}
	if used.addr > cursor {
		hp.write(heapBlock{addr: cursor, size: used.addr - cursor, magic: heapBlockFree})
	}
	hp.write(used)
	hp.setCursor(used.end())
	return p, nil
}

// HeapFree returns a block obtained from HeapAlloc to the hart's heap.
// Neighbouring free blocks are merged.
func (h *Hart) HeapFree(addr uint64) error {
	hp, err := h.heapAt(h.csrs[CSRMscratch])
	if err != nil {
		return fmt.Errorf("%w: 0x%x", ErrHeapNotInUse, addr)
	}

	var state uint64
	err = hp.blocks(func(b heapBlock) bool {
		if b.addr+heapHeaderSize != addr {
			return b.addr < addr
		}
		state = b.magic
		if b.magic == heapBlockInUse {
			b.magic = heapBlockFree
			hp.write(b)
		}
		return false
	})
	switch {
	case err != nil:
		return err
	case state == heapBlockFree:
		return fmt.Errorf("%w: 0x%x already free", ErrHeapNotInUse, addr)
	case state != heapBlockInUse:
		return fmt.Errorf("%w: 0x%x", ErrHeapNotInUse, addr)
	}
	return hp.coalesce()
}

// HeapStats totals the hart's heap blocks.
func (h *Hart) HeapStats() (HeapStats, error) {
	hp, err := h.heapAt(h.TrapStackTop())
	if err != nil {
		return HeapStats{}, err
	}

	var st HeapStats
	err = hp.blocks(func(b heapBlock) bool {
		st.Blocks++
		if b.magic == heapBlockFree {
			st.FreeTotal += b.size
			st.LargestFree = max(st.LargestFree, b.size)
		} else {
			st.AllocTotal += b.size
			st.LargestAlloc = max(st.LargestAlloc, b.size)
		}
		return true
	})
	st.Unused = hp.limit() - hp.cursor()
	return st, err
}
