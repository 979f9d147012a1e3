package hypervisor

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

// isCI returns true if running in GitHub Actions
func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// testConfig is a small four-hart machine.
func testConfig() Config {
	return Config{
		Harts:            4,
		BootHartID:       0,
		RAMBase:          0x80000000,
		RAMSize:          4 << 20,
		ImageSize:        64 << 10,
		SlabSize:         64 << 10,
		StackSize:        16 << 10,
		PageStackSlots:   1024,
		PageStackInitial: 16,
		TimerFrequency:   1000000,
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestSystemWith(t *testing.T, cfg Config, opts ...Option) *System {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	sys, err := NewSystem(cfg, opts...)
	if err != nil {
		t.Fatalf("NewSystem() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := sys.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	})
	return sys
}

func newTestSystem(t *testing.T, opts ...Option) *System {
	t.Helper()
	return newTestSystemWith(t, testConfig(), opts...)
}

func startHart(t *testing.T, sys *System, id uint64) *Hart {
	t.Helper()
	h, err := sys.StartHart(id)
	if err != nil {
		t.Fatalf("StartHart(%d) failed: %v", id, err)
	}
	return h
}

// guestState is a supervisor context with every register distinct.
func guestState(sys *System) *SupervisorState {
	l := sys.Layout()
	st := NewSupervisorState(l.FreeBase+0x40, l.FreeBase+2*PageSize-16)
	for i := range st.Registers {
		st.Registers[i] = 0x1000 + uint64(i)*0x11
	}
	st.Sstatus = 0x22
	st.Stvec = l.FreeBase + 0x800
	st.Satp = 0x8000000000080400
	st.Sscratch = 0xabcdef
	return st
}

// runGuest puts a fresh hart into supervisor mode running guestState.
func runGuest(t *testing.T, sys *System, id uint64) (*Hart, *SupervisorState) {
	t.Helper()
	h := startHart(t, sys, id)
	st := guestState(sys)
	if err := h.Resume(st); err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	return h, st
}
