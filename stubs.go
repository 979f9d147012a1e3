//go:build !unix && !race

package hypervisor

// allocArena falls back to the Go heap where mmap is unavailable. Large
// allocations are page-aligned by the runtime's span allocator.
func allocArena(size uint64) ([]byte, func([]byte) error, error) {
	return make([]byte, size), nil, nil
}
