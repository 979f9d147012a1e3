//go:build unix && !race

package hypervisor

import (
	"golang.org/x/sys/unix"
)

// allocArena maps anonymous, page-aligned memory for the simulated RAM.
func allocArena(size uint64) ([]byte, func([]byte) error, error) {
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return buf, unix.Munmap, nil
}
