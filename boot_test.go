package hypervisor

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// countingKernel wraps IdleKernel and counts which path each hart took.
type countingKernel struct {
	IdleKernel
	mains atomic.Int32
	waits atomic.Int32
	boot  atomic.Uint64
}

func (k *countingKernel) Main(ctx context.Context, h *Hart, dtb uint64) error {
	k.mains.Add(1)
	k.boot.Store(h.ID())
	return k.IdleKernel.Main(ctx, h, dtb)
}

func (k *countingKernel) Wait(ctx context.Context, h *Hart) error {
	k.waits.Add(1)
	return k.IdleKernel.Wait(ctx, h)
}

// bootInBackground starts sys.Boot and returns a cancel func and the
// channel Boot's result arrives on.
func bootInBackground(t *testing.T, sys *System, ids []uint64) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- sys.Boot(ctx, ids, 0x82200000)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Error("Boot() did not return after cancel")
		}
	})
	return cancel, done
}

func waitIdle(t *testing.T, k interface {
	WaitIdle(context.Context, int) error
}, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := k.WaitIdle(ctx, n); err != nil {
		t.Fatalf("WaitIdle(%d) failed: %v", n, err)
	}
}

func TestBootEnumeration(t *testing.T) {
	k := &countingKernel{}
	sys := newTestSystem(t, WithKernel(k))
	ids := []uint64{7, 3, 0, 12}

	cancel, done := bootInBackground(t, sys, ids)
	waitIdle(t, &k.IdleKernel, len(ids))

	if sys.Alive() != uint64(len(ids)) {
		t.Errorf("Alive() = %d, want %d", sys.Alive(), len(ids))
	}
	if k.mains.Load() != 1 || k.boot.Load() != 0 {
		t.Errorf("Main ran %d times (last on hart %d), want once on hart 0", k.mains.Load(), k.boot.Load())
	}
	if k.waits.Load() != int32(len(ids)-1) {
		t.Errorf("Wait entered %d times, want %d", k.waits.Load(), len(ids)-1)
	}

	var slabs []int
	for _, id := range ids {
		h := sys.Hart(id)
		if h == nil {
			t.Fatalf("hart %d missing", id)
		}
		slabs = append(slabs, h.Index())

		vars, err := h.Vars()
		if err != nil {
			t.Fatal(err)
		}
		want := HartVars{
			Magic:      HartMagic,
			SlabIndex:  uint64(h.Index()),
			HartID:     id,
			HeapCursor: sys.Layout().HeapBase(h.Index()),
			HeapLimit:  sys.Layout().HeapEnd(h.Index()),
		}
		if diff := cmp.Diff(want, vars); diff != "" {
			t.Errorf("hart %d private vars mismatch (-want +got):\n%s", id, diff)
		}
		if sys.HartAt(h.Index()) != h {
			t.Errorf("HartAt(%d) is not hart %d", h.Index(), id)
		}
	}
	slices.Sort(slabs)
	if diff := cmp.Diff([]int{0, 1, 2, 3}, slabs); diff != "" {
		t.Errorf("slab indices not a permutation (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3}, k.Idle()); diff != "" {
		t.Errorf("Idle() mismatch (-want +got):\n%s", diff)
	}
	if sys.Pages().Len() == 0 {
		t.Error("global init did not seed the page stack")
	}

	var order []uint64
	for _, h := range sys.Harts() {
		order = append(order, h.ID())
	}
	if diff := cmp.Diff([]uint64{0, 3, 7, 12}, order); diff != "" {
		t.Errorf("Harts() order mismatch (-want +got):\n%s", diff)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Boot() = %v, want nil after cancel", err)
	}
}

func TestBootTooManyHarts(t *testing.T) {
	cfg := testConfig()
	cfg.Harts = 2
	k := &IdleKernel{}
	sys := newTestSystemWith(t, cfg, WithKernel(k))

	cancel, done := bootInBackground(t, sys, []uint64{0, 1, 2})
	waitIdle(t, k, 1)

	// The extra hart parks; at most two end up waiting.
	deadline := time.Now().Add(5 * time.Second)
	for sys.Alive() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	err := <-done
	if !errors.Is(err, ErrTooManyHarts) {
		t.Fatalf("Boot() error = %v, want ErrTooManyHarts", err)
	}

	parked := 0
	for _, h := range sys.Harts() {
		if h.State() == HartParked {
			parked++
			if h.Index() != -1 {
				t.Errorf("parked hart %d holds slab %d", h.ID(), h.Index())
			}
		}
	}
	if parked != 1 {
		t.Errorf("%d harts parked, want 1", parked)
	}
}

func TestGlobalInitOnce(t *testing.T) {
	sys := newTestSystem(t)
	boot := startHart(t, sys, 0)
	other := startHart(t, sys, 5)

	if err := sys.EnterGlobalInit(other); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("non-boot hart error = %v, want ErrProtocolViolation", err)
	}
	if other.State() != HartParked {
		t.Errorf("non-boot hart state = %v, want parked", other.State())
	}

	if err := sys.EnterGlobalInit(boot); err != nil {
		t.Fatalf("EnterGlobalInit() failed: %v", err)
	}
	seeded := sys.Pages().Len()
	if seeded == 0 {
		t.Fatal("no pages seeded")
	}

	if err := sys.EnterGlobalInit(boot); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("second EnterGlobalInit() error = %v, want ErrProtocolViolation", err)
	}
	if boot.State() != HartParked {
		t.Errorf("boot hart state = %v after second init, want parked", boot.State())
	}
	if sys.Pages().Len() != seeded {
		t.Error("second init touched the page stack")
	}
}

func TestGlobalInitSeedsFreeRAM(t *testing.T) {
	sys := newTestSystem(t)
	h := startHart(t, sys, 0)
	if err := sys.EnterGlobalInit(h); err != nil {
		t.Fatal(err)
	}

	l := sys.Layout()
	want := int((l.RAMEnd - l.FreeBase) / PageSize)
	if got := sys.Pages().Len(); got != want {
		t.Errorf("seeded %d pages, want %d", got, want)
	}
	for range want {
		p, err := sys.Pages().Pull()
		if err != nil {
			t.Fatal(err)
		}
		if p < l.FreeBase || p >= l.RAMEnd || !isPageAligned(p) {
			t.Fatalf("pulled 0x%x outside free RAM", p)
		}
		if l.SlabIndexOf(p) >= 0 || sys.Pages().Collides(p) {
			t.Fatalf("pulled reserved page 0x%x", p)
		}
	}
}

func TestFreeRAMAboveReservedRegions(t *testing.T) {
	one := testConfig()
	one.Harts = 1
	big := DefaultConfig()
	big.Harts, big.RAMSize, big.PageStackSlots = 16, 64<<20, 16384

	for name, cfg := range map[string]Config{"default": DefaultConfig(), "test": testConfig(), "one hart": one, "sixteen harts": big} {
		if err := cfg.Validate(); err != nil {
			t.Fatalf("%s: Validate() = %v", name, err)
		}
		l := cfg.Layout()
		if l.FreeBase < l.SlabEnd || l.FreeBase < l.PageStackEnd || l.SlabIndexOf(l.FreeBase) >= 0 {
			t.Errorf("%s: free RAM at 0x%x overlaps slabs ending 0x%x or page stack ending 0x%x",
				name, l.FreeBase, l.SlabEnd, l.PageStackEnd)
		}
	}
}

func TestStartHartState(t *testing.T) {
	sys := newTestSystem(t)
	h := startHart(t, sys, 9)
	l := sys.Layout()

	if h.State() != HartInstallTrapVector {
		t.Errorf("state = %v", h.State())
	}
	checks := []struct {
		csr  CSR
		mask uint64
		want uint64
	}{
		{CSRMtvec, ^uint64(0), l.TrapVector},
		{CSRMscratch, ^uint64(0), l.StackTop(0)},
		{CSRMedeleg, 1 << ExcUserEcall, 1 << ExcUserEcall},
		{CSRMstatus, MstatusMIE, MstatusMIE},
		{CSRMie, ^uint64(0), 0},
	}
	for _, c := range checks {
		v, _ := h.ReadCSR(c.csr)
		if v&c.mask != c.want {
			t.Errorf("%v = 0x%x, want 0x%x under mask 0x%x", c.csr, v, c.want, c.mask)
		}
	}
	if sp, _ := h.GetReg(RegSP); sp != l.StackTop(0) {
		t.Errorf("sp = 0x%x, want 0x%x", sp, l.StackTop(0))
	}
	if canary, _ := sys.Memory().Read64(l.SlabAddr(0)); canary != StackCanary {
		t.Errorf("canary = 0x%x", canary)
	}

	if _, err := sys.StartHart(9); !errors.Is(err, ErrInvalidHart) {
		t.Errorf("second StartHart(9) error = %v, want ErrInvalidHart", err)
	}
}

func TestAssign(t *testing.T) {
	type result struct {
		priv Privilege
		pc   uint64
		sp   uint64
		a0   uint64
	}
	results := make(chan result, 4)
	k := &IdleKernel{
		Run: func(ctx context.Context, h *Hart) error {
			sp, _ := h.GetReg(RegSP)
			a0, _ := h.GetReg(RegA0)
			results <- result{h.Privilege(), h.GetPC(), sp, a0}
			return nil
		},
	}
	sys := newTestSystem(t, WithKernel(k))
	bootInBackground(t, sys, []uint64{0, 1})
	waitIdle(t, k, 2)

	st := guestState(sys)
	if err := sys.Assign(1, st); err != nil {
		t.Fatalf("Assign() failed: %v", err)
	}

	select {
	case r := <-results:
		want := result{PrivSupervisor, st.PC, st.SP, st.Registers[RegA0-1]}
		if r != want {
			t.Errorf("hart resumed with %+v, want %+v", r, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("assigned work never ran")
	}

	// The hart goes back to waiting.
	waitIdle(t, k, 2)

	if err := sys.Assign(7, st); !errors.Is(err, ErrInvalidHart) {
		t.Errorf("Assign(7) error = %v, want ErrInvalidHart", err)
	}
}

func TestAssignBusy(t *testing.T) {
	sys := newTestSystem(t)
	startHart(t, sys, 0)

	st := NewSupervisorState(0x80200000, 0x80300000)
	if err := sys.Assign(0, st); err != nil {
		t.Fatalf("first Assign() failed: %v", err)
	}
	if err := sys.Assign(0, st); !errors.Is(err, ErrHartBusy) {
		t.Errorf("second Assign() error = %v, want ErrHartBusy", err)
	}
}

func TestSystemClosed(t *testing.T) {
	sys, err := NewSystem(testConfig(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sys.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
	if _, err := sys.StartHart(0); !errors.Is(err, ErrSystemClosed) {
		t.Errorf("StartHart() after Close error = %v, want ErrSystemClosed", err)
	}
}

func TestNewSystemRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SlabSize = 3 << 16
	if _, err := NewSystem(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewSystem() error = %v, want ErrInvalidConfig", err)
	}
}
