package hypervisor

import (
	"fmt"
	"math/bits"

	"github.com/BurntSushi/toml"
)

// Config describes the simulated machine and the fixed memory layout the
// core is built against.
type Config struct {
	// Harts is the number of slabs reserved after the hypervisor image.
	Harts int `toml:"harts" json:"harts"`
	// BootHartID is the hardware hart ID that takes the boot path.
	BootHartID uint64 `toml:"boot_hart_id" json:"boot_hart_id"`

	RAMBase   uint64 `toml:"ram_base" json:"ram_base"`
	RAMSize   uint64 `toml:"ram_size" json:"ram_size"`
	ImageSize uint64 `toml:"image_size" json:"image_size"`

	SlabSize  uint64 `toml:"slab_size" json:"slab_size"`
	StackSize uint64 `toml:"stack_size" json:"stack_size"`

	// PageStackSlots bounds how far the free-page stack can ever grow.
	PageStackSlots uint64 `toml:"page_stack_slots" json:"page_stack_slots"`
	// PageStackInitial is the starting limit, in slots.
	PageStackInitial uint64 `toml:"page_stack_initial" json:"page_stack_initial"`

	TimerFrequency uint64 `toml:"timer_frequency" json:"timer_frequency"`
}

// DefaultConfig returns a four-hart machine with 16 MiB of RAM at the
// usual RISC-V virt platform base.
func DefaultConfig() Config {
	return Config{
		Harts:            4,
		BootHartID:       0,
		RAMBase:          0x80000000,
		RAMSize:          16 << 20,
		ImageSize:        1 << 20,
		SlabSize:         256 << 10,
		StackSize:        64 << 10,
		PageStackSlots:   4096,
		PageStackInitial: 64,
		TimerFrequency:   10000000,
	}
}

// LoadConfig reads a TOML machine description. Keys missing from the file
// keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that the layout derived from the config is usable.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Harts < 1 {
		return invalid("harts must be at least 1, got %d", c.Harts)
	}
	if !isPageAligned(c.RAMBase) {
		return invalid("ram_base 0x%x not page-aligned", c.RAMBase)
	}
	if c.SlabSize < 64<<10 || bits.OnesCount64(c.SlabSize) != 1 {
		return invalid("slab_size 0x%x must be a power of two of at least 64 KiB", c.SlabSize)
	}
	if !isPageAligned(c.StackSize) || c.StackSize < minStackSize {
		return invalid("stack_size 0x%x must be page-aligned and at least 0x%x", c.StackSize, minStackSize)
	}
	if c.StackSize+PageSize >= c.SlabSize {
		return invalid("stack_size 0x%x leaves no heap in a 0x%x slab", c.StackSize, c.SlabSize)
	}
	if c.ImageSize < PageSize {
		return invalid("image_size must hold at least the static data page")
	}
	if c.PageStackSlots == 0 {
		return invalid("page_stack_slots must be non-zero")
	}
	if c.PageStackInitial > c.PageStackSlots {
		return invalid("page_stack_initial %d exceeds page_stack_slots %d", c.PageStackInitial, c.PageStackSlots)
	}

	l := c.Layout()
	if l.FreeBase+PageSize > l.RAMEnd || l.FreeBase < c.RAMBase {
		return invalid("ram_size 0x%x too small for image, %d slabs and page stack", c.RAMSize, c.Harts)
	}
	if free := (l.RAMEnd - l.FreeBase) / PageSize; c.PageStackSlots < free {
		return invalid("page_stack_slots %d cannot hold the %d free pages", c.PageStackSlots, free)
	}
	return nil
}
