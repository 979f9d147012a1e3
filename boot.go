package hypervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Kernel is the code harts hand over to once bring-up is complete. Main
// runs exactly once, on the boot hart, after global initialization. Wait
// runs on every other hart and should block until work is assigned.
type Kernel interface {
	Main(ctx context.Context, h *Hart, dtb uint64) error
	Wait(ctx context.Context, h *Hart) error
}

// StartHart brings hartID out of reset, claims its slab and installs the
// trap vector. The hart is left in machine mode ready to take traps but
// has not chosen a boot or wait path.
func (s *System) StartHart(hartID uint64) (*Hart, error) {
	h, err := s.newHart(hartID)
	if err != nil {
		return nil, err
	}
	if err := h.claimSlab(); err != nil {
		return h, err
	}
	h.installTrapVector()
	recordHartBooted()
	return h, nil
}

// ResetVector is where every hart starts. dtb is passed through to the
// kernel untouched. The boot hart performs global initialization and runs
// Kernel.Main; all others run Kernel.Wait. It returns when the kernel
// does, or with the error that parked the hart.
func (s *System) ResetVector(ctx context.Context, hartID, dtb uint64) error {
	h, err := s.StartHart(hartID)
	if err != nil {
		return err
	}

	if hartID != s.cfg.BootHartID {
		h.setState(HartWaitPath)
		return s.kernel.Wait(ctx, h)
	}

	h.setState(HartBootPath)
	if err := s.EnterGlobalInit(h); err != nil {
		return err
	}
	h.setState(HartRunning)
	return s.kernel.Main(ctx, h, dtb)
}

// EnterGlobalInit runs the once-only system initialization on h, which
// must be the boot hart. Any second caller, or any non-boot hart, has
// broken the bring-up protocol and is parked.
func (s *System) EnterGlobalInit(h *Hart) error {
	if h.id != s.cfg.BootHartID || !s.bootClaimed.CompareAndSwap(false, true) {
		err := fmt.Errorf("%w: hart %d", ErrProtocolViolation, h.id)
		h.park(err)
		return err
	}

	// Everything from FreeBase up lies above the image, the slabs and the
	// page stack storage.
	n, err := s.pages.Seed(s.layout.FreeBase, s.layout.RAMEnd, nil)
	if err != nil {
		return fmt.Errorf("failed to seed page stack: %w", err)
	}

	h.log.WithFields(logrus.Fields{
		"free_pages": n,
		"free_base":  fmt.Sprintf("0x%x", s.layout.FreeBase),
	}).Info("global init complete")
	return nil
}

// Boot releases every hart in hartIDs from reset at once and waits for all
// of them to return. Harts stopped by ctx are not an error. The first
// hart failure is returned; other harts keep running until ctx ends.
func (s *System) Boot(ctx context.Context, hartIDs []uint64, dtb uint64) error {
	var g errgroup.Group
	for _, id := range hartIDs {
		g.Go(func() error {
			err := s.ResetVector(ctx, id, dtb)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("hart %d: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}
