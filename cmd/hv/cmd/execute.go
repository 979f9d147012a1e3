/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blacktop/go-riscv-hypervisor"
	"github.com/spf13/cobra"
)

// HartReport is the post-boot state of one hart.
type HartReport struct {
	ID           uint64               `json:"id"`
	Slab         int                  `json:"slab"`
	State        string               `json:"state"`
	Privilege    string               `json:"privilege"`
	TrapStackTop uint64               `json:"trap_stack_top"`
	Vars         *hypervisor.HartVars `json:"vars,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// BootResult is what the boot command prints.
type BootResult struct {
	Layout    hypervisor.Layout  `json:"layout"`
	Harts     []HartReport       `json:"harts"`
	FreePages int                `json:"free_pages"`
	Metrics   hypervisor.Metrics `json:"metrics"`
	Error     string             `json:"error,omitempty"`
}

var (
	bootHarts   []uint
	bootTimeout time.Duration
	bootDTB     uint64
)

func init() {
	rootCmd.AddCommand(bootCmd)
	bootCmd.Flags().UintSliceVar(&bootHarts, "harts", nil, "Hart IDs to release from reset (default: 0..harts-1)")
	bootCmd.Flags().DurationVarP(&bootTimeout, "timeout", "t", 5*time.Second, "How long to wait for every hart to go idle")
	bootCmd.Flags().Uint64Var(&bootDTB, "dtb", 0, "Device tree address handed to the kernel")
}

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Bring every hart through reset and report the machine as JSON",
	Long: `Release the configured harts from reset at once, wait until the boot
hart has finished global initialization and every hart is idle, then stop
the machine and print its state as JSON.

Hart IDs need not be contiguous; slabs are handed out in arrival order.`,
	RunE: runBoot,
}

func runBoot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ids := make([]uint64, 0, cfg.Harts)
	if len(bootHarts) == 0 {
		for i := range cfg.Harts {
			ids = append(ids, uint64(i))
		}
	} else {
		for _, id := range bootHarts {
			ids = append(ids, uint64(id))
		}
	}

	kernel := &hypervisor.IdleKernel{}
	sys, err := hypervisor.NewSystem(cfg, hypervisor.WithKernel(kernel))
	if err != nil {
		return fmt.Errorf("failed to create system: %w", err)
	}
	defer sys.Close()

	hypervisor.ResetMetrics()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sys.Boot(ctx, ids, bootDTB) }()

	result := BootResult{Layout: sys.Layout()}

	// Harts beyond the slab count park instead of going idle.
	want := min(len(ids), cfg.Harts)
	waitCtx, waitCancel := context.WithTimeout(ctx, bootTimeout)
	err = kernel.WaitIdle(waitCtx, want)
	waitCancel()
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		result.Error = fmt.Sprintf("only %d of %d harts went idle", len(kernel.Idle()), want)
	}

	cancel()
	if err := <-done; err != nil {
		result.Error = err.Error()
	}

	for _, h := range sys.Harts() {
		report := HartReport{
			ID:        h.ID(),
			Slab:      h.Index(),
			State:     h.State().String(),
			Privilege: h.Privilege().String(),
		}
		if h.Index() >= 0 {
			report.TrapStackTop = h.TrapStackTop()
			if vars, err := h.Vars(); err == nil {
				report.Vars = &vars
			}
		}
		if reason := h.ParkReason(); reason != nil {
			report.Error = reason.Error()
		}
		result.Harts = append(result.Harts, report)
	}
	result.FreePages = sys.Pages().Len()
	result.Metrics = hypervisor.GetMetrics()

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
