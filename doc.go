// Package hypervisor implements the privileged core of a RISC-V hypervisor
// on a simulated machine.
//
// Physical RAM is a single mapped arena and each hart is driven by its own
// goroutine. The package provides the trap entry/exit dispatcher, the
// supervisor context switch, the physical page stack with its RAM-resident
// spinlock, and the bring-up protocol that gives every hart a slab holding
// its trap stack, private variables and heap.
//
// # Basic Usage
//
// Create a machine and bring its harts up:
//
//	kernel := &hypervisor.IdleKernel{}
//	sys, err := hypervisor.NewSystem(hypervisor.DefaultConfig(), hypervisor.WithKernel(kernel))
//	if err != nil {
//		log.Fatal("Failed to create system:", err)
//	}
//	defer sys.Close()
//
//	// Boot blocks until every hart returns; run it in the background.
//	go sys.Boot(ctx, []uint64{0, 1, 2, 3}, dtb)
//
//	// Wait for global init to finish and every hart to reach the wait loop
//	if err := kernel.WaitIdle(ctx, 4); err != nil {
//		log.Fatal("Harts did not go idle:", err)
//	}
//
// Hand a virtual CPU to an idle hart:
//
//	state := hypervisor.NewSupervisorState(entry, stack)
//	if err := sys.Assign(1, state); err != nil {
//		log.Fatal("Failed to assign virtual CPU:", err)
//	}
//
// # Traps
//
// A trap is raised with Hart.Trap. The dispatcher saves the interrupted
// registers on the hart's trap stack, calls the TrapHandler with the frame
// and a classified IRQ, then restores the (possibly modified) frame and
// returns to the interrupted privilege level. An ecall from supervisor mode
// returns to the instruction after the ecall.
//
// Handlers switch virtual CPUs with Save and Load:
//
//	handler := hypervisor.TrapHandlerFunc(func(h *hypervisor.Hart, f hypervisor.TrapFrame, irq hypervisor.IRQ) {
//		h.Save(current)
//		h.Load(next)
//		h.SetReturnToLowerPrivilege()
//	})
//
// # Physical Pages
//
// The boot hart seeds the page stack with every free page during global
// init. Pages are taken with PageStack.Pull and returned with Push. The
// stack is shared by all harts and guarded by a spinlock stored in the
// hypervisor image's static data page.
//
// # Error Handling
//
// All errors implement the standard Go error interface. Hypervisor-specific
// errors are HVError values carrying an HV_* code; the Err* sentinels work
// with errors.Is. Errors that violate a bring-up or integrity invariant
// park the hart permanently.
//
// # Resource Management
//
// A System must be closed using Close() once its harts have stopped.
// Finalizers provide safety net cleanup.
//
// # Configuration
//
// Machines are described by Config, loadable from TOML:
//
//	harts = 8
//	ram_size = 0x4000000
//	slab_size = 0x40000
//	stack_size = 0x10000
//	page_stack_slots = 0x4000
package hypervisor
