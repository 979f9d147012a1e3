package hypervisor

import (
	"fmt"
)

// PageStack is the LIFO free list of physical page-frame addresses.
//
// Entries are 8-byte words stored in RAM from base upwards. ptr is the
// first empty slot and limit the current high-water mark:
//
//	base                ptr                  limit          end
//	|+++++++++++++++++++|....................|..............|
//
// where + is a free page address. ptr and limit are only touched with lock
// held, so each Push and Pull is atomic to every hart. limit grows, one
// slot at a time, only when a caller allows it, and never past end.
type PageStack struct {
	mem  *PhysMem
	lock *Spinlock

	base  uint64
	ptr   uint64
	limit uint64
	end   uint64
}

// NewPageStack builds an empty stack over [base, end) with its limit at
// limit.
func NewPageStack(mem *PhysMem, lock *Spinlock, base, limit, end uint64) (*PageStack, error) {
	if base%wordSize != 0 || end%wordSize != 0 || limit%wordSize != 0 {
		return nil, fmt.Errorf("%w: page stack bounds must be word-aligned", ErrBadAddress)
	}
	if base > limit || limit > end {
		return nil, fmt.Errorf("%w: base 0x%x limit 0x%x end 0x%x", ErrBadStackLimit, base, limit, end)
	}
	if !mem.Contains(base, end-base) {
		return nil, fmt.Errorf("%w: page stack 0x%x-0x%x outside RAM", ErrBadAddress, base, end)
	}
	return &PageStack{
		mem:   mem,
		lock:  lock,
		base:  base,
		ptr:   base,
		limit: limit,
		end:   end,
	}, nil
}

// Push stacks a free page address. When the stack is at its limit the
// limit is raised if allowGrow is set; otherwise ErrStackFull is returned
// and nothing changes.
func (s *PageStack) Push(addr uint64, allowGrow bool) error {
	if !isPageAligned(addr) {
		recordPageFailure()
		return fmt.Errorf("%w: 0x%x", ErrBadPageAddress, addr)
	}

	s.lock.Lock()
	if s.ptr == s.limit {
		if !allowGrow || s.limit+wordSize > s.end {
			s.lock.Unlock()
			recordPageFailure()
			return ErrStackFull
		}
		s.limit += wordSize
	}
	s.mem.store64(s.ptr, addr)
	s.ptr += wordSize
	s.lock.Unlock()

	recordPagePush()
	return nil
}

// Pull removes and returns the most recently pushed address, or
// ErrStackEmpty. The vacated slot is zeroed.
func (s *PageStack) Pull() (uint64, error) {
	s.lock.Lock()
	if s.ptr == s.base {
		s.lock.Unlock()
		recordPageFailure()
		return 0, ErrStackEmpty
	}
	s.ptr -= wordSize
	addr := s.mem.load64(s.ptr)
	s.mem.store64(s.ptr, 0)
	s.lock.Unlock()

	recordPagePull()
	return addr, nil
}

// SetLimit moves the high-water mark to limit slots. The limit cannot drop
// below the entries in use or rise past the reserved storage.
func (s *PageStack) SetLimit(slots uint64) error {
	limit := s.base + slots*wordSize

	s.lock.Lock()
	defer s.lock.Unlock()

	if limit < s.ptr || limit > s.end || slots > (s.end-s.base)/wordSize {
		return fmt.Errorf("%w: %d slots", ErrBadStackLimit, slots)
	}
	s.limit = limit
	return nil
}

// Collides reports whether the page at addr overlaps the stack's own
// storage, which must never be handed out as a free page.
func (s *PageStack) Collides(addr uint64) bool {
	page := addr &^ (PageSize - 1)
	return page < s.end && page+PageSize > s.base
}

// Len returns the number of free pages on the stack.
func (s *PageStack) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return int((s.ptr - s.base) / wordSize)
}

// Cap returns the current limit in slots.
func (s *PageStack) Cap() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return int((s.limit - s.base) / wordSize)
}

// Snapshot returns base, ptr and limit read under the lock.
func (s *PageStack) Snapshot() (base, ptr, limit uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.base, s.ptr, s.limit
}

// Seed pushes every whole page in [start, end), growing as needed, and
// returns how many were pushed. Pages overlapping the stack storage or the
// skip range are left out.
func (s *PageStack) Seed(start, end uint64, skip func(addr uint64) bool) (int, error) {
	n := 0
	for p := pageAlignUp(start); p+PageSize <= end; p += PageSize {
		if s.Collides(p) || (skip != nil && skip(p)) {
			continue
		}
		if err := s.Push(p, true); err != nil {
			return n, fmt.Errorf("failed to seed page 0x%x: %w", p, err)
		}
		n++
	}
	return n, nil
}
