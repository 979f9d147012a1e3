package hypervisor

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// System is the simulated machine and the hypervisor state shared by every
// hart: physical memory, the free page stack, the slab counter and the
// one-shot global initialization flag.
type System struct {
	cfg    Config
	layout Layout
	mem    *PhysMem
	pages  *PageStack
	clint  *clint

	alive       atomic.Uint64
	bootClaimed atomic.Bool

	mu    sync.RWMutex
	harts map[uint64]*Hart
	slabs []*Hart

	kernel  Kernel
	handler TrapHandler
	log     *logrus.Entry

	closed  bool
	closeMu sync.Mutex // Protect against concurrent Close() and finalizer
}

// Option configures a System.
type Option func(*System)

// WithKernel sets what harts run after bring-up. The default is an
// IdleKernel.
func WithKernel(k Kernel) Option {
	return func(s *System) { s.kernel = k }
}

// WithTrapHandler sets the handler every hart's dispatcher calls.
func WithTrapHandler(handler TrapHandler) Option {
	return func(s *System) { s.handler = handler }
}

// WithLogger sends the system's logs to l.
func WithLogger(l *logrus.Logger) Option {
	return func(s *System) { s.log = componentLogger(l) }
}

// NewSystem validates cfg, maps its RAM and builds the free page stack.
// The stack starts empty; the boot hart seeds it during global init.
func NewSystem(cfg Config, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &System{
		cfg:    cfg,
		layout: cfg.Layout(),
		harts:  make(map[uint64]*Hart),
		slabs:  make([]*Hart, cfg.Harts),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = componentLogger(nil)
	}
	if s.kernel == nil {
		s.kernel = &IdleKernel{}
	}

	mem, err := NewPhysMem(cfg.RAMBase, cfg.RAMSize)
	if err != nil {
		return nil, err
	}
	s.mem = mem

	warn := newRateLimitedLogger(s.log.WithField("lock", "page-stack"), deadlockWarnInterval)
	lock, err := NewSpinlock(mem, s.layout.StaticData+staticPageStackLock, "page stack", warn)
	if err != nil {
		mem.Close()
		return nil, fmt.Errorf("failed to place page stack lock: %w", err)
	}
	s.pages, err = NewPageStack(mem, lock, s.layout.PageStackBase, s.layout.PageStackInitial, s.layout.PageStackEnd)
	if err != nil {
		mem.Close()
		return nil, fmt.Errorf("failed to create page stack: %w", err)
	}
	s.clint = newCLINT(cfg.Harts)

	runtime.SetFinalizer(s, (*System).finalize)

	s.log.WithFields(logrus.Fields{
		"harts":     cfg.Harts,
		"ram_base":  fmt.Sprintf("0x%x", cfg.RAMBase),
		"ram_size":  cfg.RAMSize,
		"slab_base": fmt.Sprintf("0x%x", s.layout.SlabBase),
	}).Debug("system created")
	return s, nil
}

// Config returns the configuration the system was built from.
func (s *System) Config() Config { return s.cfg }

// Layout returns the physical memory map.
func (s *System) Layout() Layout { return s.layout }

// Memory returns simulated physical RAM.
func (s *System) Memory() *PhysMem { return s.mem }

// Pages returns the system-wide free page stack.
func (s *System) Pages() *PageStack { return s.pages }

// Alive returns how many harts have claimed a slab index, including any
// that were parked for finding none left.
func (s *System) Alive() uint64 { return s.alive.Load() }

// Hart returns the hart with hardware ID hartID, or nil.
func (s *System) Hart(hartID uint64) *Hart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.harts[hartID]
}

// HartAt returns the hart that owns slab idx, or nil.
func (s *System) HartAt(idx int) *Hart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx < 0 || idx >= len(s.slabs) {
		return nil
	}
	return s.slabs[idx]
}

// Harts returns every hart that has come out of reset, ordered by hart ID.
func (s *System) Harts() []*Hart {
	s.mu.RLock()
	out := make([]*Hart, 0, len(s.harts))
	for _, h := range s.harts {
		out = append(out, h)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Hart) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// newHart brings a hart out of reset. Hart IDs are unique.
func (s *System) newHart(hartID uint64) (*Hart, error) {
	s.closeMu.Lock()
	closed := s.closed
	s.closeMu.Unlock()
	if closed {
		return nil, ErrSystemClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.harts[hartID]; ok {
		return nil, fmt.Errorf("%w: hart %d already out of reset", ErrInvalidHart, hartID)
	}
	h := newHart(s, hartID)
	s.harts[hartID] = h
	return h, nil
}

func (s *System) registerSlab(h *Hart) {
	s.mu.Lock()
	s.slabs[h.index] = h
	s.mu.Unlock()
}

// Assign hands a virtual CPU to the idle hart owning slab idx. The hart
// picks it up the next time it wakes from its wait loop.
func (s *System) Assign(idx int, state *SupervisorState) error {
	h := s.HartAt(idx)
	if h == nil {
		return fmt.Errorf("%w: slab %d", ErrInvalidHart, idx)
	}
	if h.State() == HartParked {
		return ErrHartParked
	}
	select {
	case h.work <- state:
	default:
		return fmt.Errorf("%w: slab %d", ErrHartBusy, idx)
	}
	h.signal()
	return nil
}

// Close releases physical memory. Harts must have stopped.
func (s *System) Close() error {
	if s == nil {
		return nil
	}

	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil // Already closed
	}
	s.closed = true
	runtime.SetFinalizer(s, nil)

	if err := s.mem.Close(); err != nil {
		return fmt.Errorf("failed to release physical memory: %w", err)
	}
	return nil
}

func (s *System) finalize() {
	if s == nil {
		return
	}
	// Use TryLock to avoid deadlock if Close() is already running
	if s.closeMu.TryLock() {
		defer s.closeMu.Unlock()
		if !s.closed {
			s.closed = true
			s.mem.Close()
		}
	}
}
