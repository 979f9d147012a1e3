package hypervisor

import (
	"context"
	"slices"
	"sync"
)

// IdleKernel is the Kernel a System uses when none is supplied. The boot
// hart joins the wait loop once global init is done, so every hart ends
// up idle until a virtual CPU is assigned to it with System.Assign.
//
// Run, if set, is called on the hart's own goroutine after each assigned
// virtual CPU has been resumed in supervisor mode; returning nil sends the
// hart back to idle. Without Run the hart services interrupts until ctx
// ends.
type IdleKernel struct {
	Run func(ctx context.Context, h *Hart) error

	mu      sync.Mutex
	idle    map[int]*Hart
	waits   map[int]uint64
	changed chan struct{}
}

// Main implements Kernel.
func (k *IdleKernel) Main(ctx context.Context, h *Hart, dtb uint64) error {
	h.log.WithField("dtb", dtb).Debug("boot hart entering idle loop")
	return k.Wait(ctx, h)
}

// Wait implements Kernel: sleep in wfi until work arrives, resume it, run
// it, repeat.
func (k *IdleKernel) Wait(ctx context.Context, h *Hart) error {
	for {
		k.setIdle(h, true)
		state, err := k.next(ctx, h)
		k.setIdle(h, false)
		if err != nil {
			return err
		}

		if err := h.Resume(state); err != nil {
			return err
		}
		run := k.Run
		if run == nil {
			run = serviceInterrupts
		}
		if err := run(ctx, h); err != nil {
			return err
		}
		h.setState(HartWaitPath)
	}
}

func (k *IdleKernel) next(ctx context.Context, h *Hart) (*SupervisorState, error) {
	for {
		select {
		case state := <-h.work:
			return state, nil
		default:
		}
		if err := h.WaitForInterrupt(ctx); err != nil {
			return nil, err
		}
		k.mu.Lock()
		k.waits[h.index]++
		k.mu.Unlock()
	}
}

// serviceInterrupts stands in for guest code that never faults: the hart
// only leaves supervisor mode to take interrupts.
func serviceInterrupts(ctx context.Context, h *Hart) error {
	for {
		if err := h.WaitForInterrupt(ctx); err != nil {
			return err
		}
		if _, err := h.Poll(); err != nil {
			return err
		}
	}
}

func (k *IdleKernel) setIdle(h *Hart, idle bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.idle == nil {
		k.idle = make(map[int]*Hart)
		k.waits = make(map[int]uint64)
	}
	if idle {
		k.idle[h.index] = h
	} else {
		delete(k.idle, h.index)
	}
	if k.changed != nil {
		close(k.changed)
		k.changed = nil
	}
}

// Idle returns the slab indices of the harts currently waiting for work,
// in ascending order.
func (k *IdleKernel) Idle() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]int, 0, len(k.idle))
	for idx := range k.idle {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// Wakeups returns how many times the hart on slab idx woke without finding
// work.
func (k *IdleKernel) Wakeups(idx int) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.waits[idx]
}

// WaitIdle blocks until at least n harts are idle or ctx ends.
func (k *IdleKernel) WaitIdle(ctx context.Context, n int) error {
	for {
		k.mu.Lock()
		if len(k.idle) >= n {
			k.mu.Unlock()
			return nil
		}
		if k.changed == nil {
			k.changed = make(chan struct{})
		}
		ch := k.changed
		k.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
