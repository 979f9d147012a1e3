package hypervisor

import (
	"testing"
)

func TestMetrics(t *testing.T) {
	sys := newTestSystem(t)
	h, _ := runGuest(t, sys, 0)

	// Reset metrics for clean test
	ResetMetrics()

	// Verify initial state
	metrics := GetMetrics()
	if metrics.Traps != 0 || metrics.PagePushes != 0 {
		t.Errorf("Expected zeroed metrics, got %+v", metrics)
	}

	h.SetTrapHandler(TrapHandlerFunc(func(h *Hart, f TrapFrame, irq IRQ) {
		var st SupervisorState
		h.Save(&st)
		h.Load(&st)
	}))
	if err := h.Trap(ExcSupervisorEcall, 0); err != nil {
		t.Fatal(err)
	}
	if err := h.Trap(InterruptCause(IntSupervisorExternal), 0); err != nil {
		t.Fatal(err)
	}

	metrics = GetMetrics()
	if metrics.Traps != 2 || metrics.Exceptions != 1 || metrics.Interrupts != 1 {
		t.Errorf("trap counters = %d/%d/%d, want 2/1/1", metrics.Traps, metrics.Exceptions, metrics.Interrupts)
	}
	if metrics.SyscallFixups != 1 {
		t.Errorf("Expected SyscallFixups=1, got %d", metrics.SyscallFixups)
	}
	if metrics.ContextSaves != 2 || metrics.ContextLoads != 2 {
		t.Errorf("context counters = %d/%d, want 2/2", metrics.ContextSaves, metrics.ContextLoads)
	}

	// Test page stack metrics
	pages := sys.Pages()
	if err := pages.Push(sys.Layout().FreeBase, false); err != nil {
		t.Fatal(err)
	}
	if _, err := pages.Pull(); err != nil {
		t.Fatal(err)
	}
	pages.Pull()

	metrics = GetMetrics()
	if metrics.PagePushes != 1 || metrics.PagePulls != 1 || metrics.PageFailures != 1 {
		t.Errorf("page counters = %d/%d/%d, want 1/1/1", metrics.PagePushes, metrics.PagePulls, metrics.PageFailures)
	}
	if metrics.LockAcquires < 3 {
		t.Errorf("Expected at least 3 lock acquisitions, got %d", metrics.LockAcquires)
	}

	// Test register operation metrics
	before := metrics.RegisterOps
	if _, err := h.GetReg(RegA0); err != nil {
		t.Fatalf("Failed to get register: %v", err)
	}
	if got := GetMetrics().RegisterOps; got != before+1 {
		t.Errorf("Expected RegisterOps=%d, got %d", before+1, got)
	}

	ResetMetrics()
	if m := GetMetrics(); m != (Metrics{}) {
		t.Errorf("ResetMetrics() left %+v", m)
	}

	t.Logf("Final metrics: %+v", metrics)
}
