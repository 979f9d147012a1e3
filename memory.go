package hypervisor

import (
	"fmt"
	"math"
	"unsafe"
)

// PhysMem is the simulated physical RAM: one contiguous arena mapped at
// base. Word accessors require natural alignment.
type PhysMem struct {
	base    uint64
	buf     []byte
	release func([]byte) error
}

// NewPhysMem allocates size bytes of RAM starting at physical address base.
func NewPhysMem(base, size uint64) (*PhysMem, error) {
	if size == 0 {
		return nil, fmt.Errorf("hv: physical memory requires non-zero size")
	}
	if !isPageAligned(base) || !isPageAligned(size) {
		return nil, fmt.Errorf("hv: RAM base 0x%x and size 0x%x must be page-aligned", base, size)
	}

	// Security: Prevent integer overflow vulnerabilities
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("hv: RAM too large (max %d bytes)", math.MaxInt32)
	}
	if base > math.MaxUint64-size {
		return nil, fmt.Errorf("hv: RAM range would overflow")
	}

	buf, release, err := allocArena(size)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes of RAM: %w", size, err)
	}
	return &PhysMem{base: base, buf: buf, release: release}, nil
}

// Base returns the first physical address.
func (m *PhysMem) Base() uint64 { return m.base }

// Size returns the RAM size in bytes.
func (m *PhysMem) Size() uint64 { return uint64(len(m.buf)) }

// End returns one past the last physical address.
func (m *PhysMem) End() uint64 { return m.base + uint64(len(m.buf)) }

// Contains reports whether [addr, addr+n) lies in RAM.
func (m *PhysMem) Contains(addr, n uint64) bool {
	if m == nil || addr < m.base || n > m.Size() {
		return false
	}
	return addr-m.base <= m.Size()-n
}

// Read64 loads the 8-byte word at addr.
func (m *PhysMem) Read64(addr uint64) (uint64, error) {
	if addr%wordSize != 0 || !m.Contains(addr, wordSize) {
		return 0, fmt.Errorf("%w: read 0x%x", ErrBadAddress, addr)
	}
	return *m.word64(addr), nil
}

// Write64 stores the 8-byte word at addr.
func (m *PhysMem) Write64(addr, v uint64) error {
	if addr%wordSize != 0 || !m.Contains(addr, wordSize) {
		return fmt.Errorf("%w: write 0x%x", ErrBadAddress, addr)
	}
	*m.word64(addr) = v
	return nil
}

// Slice returns a copy of [addr, addr+n).
func (m *PhysMem) Slice(addr, n uint64) ([]byte, error) {
	if !m.Contains(addr, n) {
		return nil, fmt.Errorf("%w: range 0x%x+%d", ErrBadAddress, addr, n)
	}
	off := addr - m.base
	out := make([]byte, n)
	copy(out, m.buf[off:off+n])
	return out, nil
}

// Close releases the arena. Idempotent.
func (m *PhysMem) Close() error {
	if m == nil || m.buf == nil {
		return nil
	}
	buf := m.buf
	m.buf = nil
	if m.release != nil {
		return m.release(buf)
	}
	return nil
}

// word64 returns a pointer to the aligned word at addr. Callers have
// already bounds-checked addr; an out-of-range access is a core bug and
// panics like a bus fault would halt the hart.
func (m *PhysMem) word64(addr uint64) *uint64 {
	if addr%wordSize != 0 || !m.Contains(addr, wordSize) {
		panic(fmt.Sprintf("hv: bus fault at 0x%x", addr))
	}
	return (*uint64)(unsafe.Pointer(&m.buf[addr-m.base]))
}

// word32 is word64 for the 4-byte lock words.
func (m *PhysMem) word32(addr uint64) *uint32 {
	if addr%4 != 0 || !m.Contains(addr, 4) {
		panic(fmt.Sprintf("hv: bus fault at 0x%x", addr))
	}
	return (*uint32)(unsafe.Pointer(&m.buf[addr-m.base]))
}

func (m *PhysMem) load64(addr uint64) uint64     { return *m.word64(addr) }
func (m *PhysMem) store64(addr uint64, v uint64) { *m.word64(addr) = v }
