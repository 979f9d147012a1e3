package hypervisor

import (
	"errors"
	"testing"
)

func TestRegisterNames(t *testing.T) {
	tests := []struct {
		reg  Reg
		want string
	}{
		{RegZero, "zero"},
		{RegRA, "ra"},
		{RegSP, "sp"},
		{RegS0, "s0"},
		{RegA0, "a0"},
		{RegA7, "a7"},
		{RegS11, "s11"},
		{RegX31, "t6"},
		{Reg(32), "Unknown"},
		{Reg(-1), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.reg.String(); got != tt.want {
			t.Errorf("Reg(%d).String() = %q, want %q", int(tt.reg), got, tt.want)
		}
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	sys := newTestSystem(t)
	h := startHart(t, sys, 0)

	testRegs := []struct {
		reg   Reg
		value uint64
	}{
		{RegX1, 0x0},
		{RegX2, 0xffffffffffffffff},
		{RegX3, 0x5a5a5a5a5a5a5a5a},
		{RegA0, 0x1234567890abcdef},
		{RegX31, 0x42},
	}

	for _, test := range testRegs {
		t.Run(test.reg.String(), func(t *testing.T) {
			if err := h.SetReg(test.reg, test.value); err != nil {
				t.Fatalf("SetReg(%v, 0x%x) failed: %v", test.reg, test.value, err)
			}
			got, err := h.GetReg(test.reg)
			if err != nil {
				t.Fatalf("GetReg(%v) failed: %v", test.reg, err)
			}
			if got != test.value {
				t.Errorf("Register %v round-trip: got 0x%x, want 0x%x", test.reg, got, test.value)
			}
		})
	}
}

func TestRegisterZero(t *testing.T) {
	sys := newTestSystem(t)
	h := startHart(t, sys, 0)

	if err := h.SetReg(RegZero, 0xdead); err != nil {
		t.Fatalf("SetReg(zero) failed: %v", err)
	}
	if got, _ := h.GetReg(RegZero); got != 0 {
		t.Errorf("x0 = 0x%x, want 0", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	sys := newTestSystem(t)
	h := startHart(t, sys, 0)

	for _, r := range []Reg{Reg(-1), Reg(32), Reg(100)} {
		if _, err := h.GetReg(r); !errors.Is(err, ErrInvalidRegister) {
			t.Errorf("GetReg(%d) error = %v, want ErrInvalidRegister", int(r), err)
		}
		if err := h.SetReg(r, 1); !errors.Is(err, ErrInvalidRegister) {
			t.Errorf("SetReg(%d) error = %v, want ErrInvalidRegister", int(r), err)
		}
	}

	var nilHart *Hart
	if _, err := nilHart.GetReg(RegA0); err == nil {
		t.Error("GetReg on nil hart should fail")
	}
}

func TestRegisterBatch(t *testing.T) {
	sys := newTestSystem(t)
	h := startHart(t, sys, 0)

	batch := RegBatch{RegA0: 1, RegA1: 2, RegA7: 93}
	if err := h.SetRegs(batch); err != nil {
		t.Fatalf("SetRegs() failed: %v", err)
	}
	got, err := h.GetRegs([]Reg{RegA0, RegA1, RegA7})
	if err != nil {
		t.Fatalf("GetRegs() failed: %v", err)
	}
	for r, want := range batch {
		if got[r] != want {
			t.Errorf("%v = %d, want %d", r, got[r], want)
		}
	}

	if err := h.SetRegs(RegBatch{Reg(40): 1}); !errors.Is(err, ErrInvalidRegister) {
		t.Errorf("SetRegs() with bad register error = %v", err)
	}
}

func TestPCHelpers(t *testing.T) {
	sys := newTestSystem(t)
	h := startHart(t, sys, 0)

	testPC := sys.Layout().FreeBase
	h.SetPC(testPC)
	if pc := h.GetPC(); pc != testPC {
		t.Errorf("PC helpers: got 0x%x, want 0x%x", pc, testPC)
	}
}

func TestCSRAccess(t *testing.T) {
	sys := newTestSystem(t)
	h := startHart(t, sys, 3)

	if id, err := h.ReadCSR(CSRMhartid); err != nil || id != 3 {
		t.Errorf("mhartid = %d, %v; want 3", id, err)
	}
	if err := h.WriteCSR(CSRMhartid, 9); !errors.Is(err, ErrInvalidCSR) {
		t.Errorf("writing mhartid error = %v, want ErrInvalidCSR", err)
	}
	if _, err := h.ReadCSR(CSR(0x7c0)); !errors.Is(err, ErrInvalidCSR) {
		t.Errorf("reading unknown CSR error = %v", err)
	}
	if err := h.WriteCSR(CSRSepc, 0x1234); err != nil {
		t.Fatalf("WriteCSR(sepc) failed: %v", err)
	}
	if v, _ := h.ReadCSR(CSRSepc); v != 0x1234 {
		t.Errorf("sepc = 0x%x", v)
	}
	if got := CSR(0x7c0).String(); got != "csr(0x7c0)" {
		t.Errorf("unknown CSR name = %q", got)
	}
}
