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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/blacktop/go-riscv-hypervisor"
	"github.com/blacktop/go-riscv-hypervisor/cmd/hv/cmd/utils"
	"github.com/spf13/cobra"
)

// IRQReport is the classified trap as the handler saw it.
type IRQReport struct {
	Type      string `json:"type"`
	Cause     string `json:"cause"`
	Code      uint64 `json:"code"`
	Privilege string `json:"privilege"`
	PC        uint64 `json:"pc"`
	SP        uint64 `json:"sp"`
	Fatal     bool   `json:"fatal"`
}

// TrapResult represents the outcome of one injected trap.
type TrapResult struct {
	IRQ       *IRQReport                 `json:"irq,omitempty"`
	FrameAddr uint64                     `json:"frame_addr,omitempty"`
	Before    hypervisor.SupervisorState `json:"before"`
	After     hypervisor.SupervisorState `json:"after"`
	Error     string                     `json:"error,omitempty"`
}

var (
	trapState string
	trapCause uint64
	trapTval  uint64
	trapDump  bool
)

func init() {
	rootCmd.AddCommand(trapCmd)
	trapCmd.Flags().StringVarP(&trapState, "state", "s", "", "JSON file with the supervisor state to resume (- for stdin)")
	trapCmd.Flags().Uint64Var(&trapCause, "cause", hypervisor.ExcSupervisorEcall, "Raw mcause to raise (set bit 63 for interrupts)")
	trapCmd.Flags().Uint64Var(&trapTval, "tval", 0, "Value for mtval")
	trapCmd.Flags().BoolVarP(&trapDump, "dump", "d", false, "Hex dump the trap stack instead of printing JSON")
}

var trapCmd = &cobra.Command{
	Use:   "trap",
	Short: "Resume a supervisor context and inject one trap into it",
	Long: `Bring a single hart up, resume the given supervisor state on it, raise a
trap and let the dispatcher run to completion.

The supervisor state before and after the trap is printed as JSON. With
--dump the trap frame the dispatcher built is shown as an annotated hex
dump instead.`,
	Example: `  # ecall from S-mode with a7=1
  echo '{"pc": 2147614720, "sp": 2147622912, "registers": [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,1]}' | hv trap -s -`,
	RunE: runTrap,
}

func runTrap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	state := hypervisor.NewSupervisorState(cfg.RAMBase, 0)
	if trapState != "" {
		var data []byte
		if trapState == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(trapState)
		}
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}
		if err := json.Unmarshal(data, state); err != nil {
			return fmt.Errorf("failed to parse state JSON: %w", err)
		}
	}

	sys, err := hypervisor.NewSystem(cfg)
	if err != nil {
		return fmt.Errorf("failed to create system: %w", err)
	}
	defer sys.Close()

	h, err := sys.StartHart(cfg.BootHartID)
	if err != nil {
		return fmt.Errorf("failed to start hart: %w", err)
	}

	var (
		result TrapResult
		stack  []byte
	)
	h.SetTrapHandler(hypervisor.TrapHandlerFunc(func(h *hypervisor.Hart, f hypervisor.TrapFrame, irq hypervisor.IRQ) {
		result.IRQ = &IRQReport{
			Type:      irq.Type.String(),
			Cause:     irq.Cause.String(),
			Code:      irq.Code,
			Privilege: irq.PrivilegeMode.String(),
			PC:        irq.PC,
			SP:        irq.SP,
			Fatal:     irq.Fatal,
		}
		result.FrameAddr = f.Addr()
		stack = captureStack(sys.Memory(), f.Addr(), h.TrapStackTop(), &result)
	}))

	if err := h.Resume(state); err != nil {
		return fmt.Errorf("failed to resume supervisor state: %w", err)
	}
	result.Before = h.Snapshot()

	if err := h.Trap(trapCause, trapTval); err != nil {
		if !errors.Is(err, hypervisor.ErrInterruptsMasked) {
			return fmt.Errorf("trap failed: %w", err)
		}
		result.Error = err.Error()
	}
	result.After = h.Snapshot()

	if trapDump {
		if result.Error != "" {
			fmt.Printf("Error: %s\n", result.Error)
		}
		printTrapStack(stack, result.FrameAddr, h.TrapStackTop())
		return nil
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// captureStack copies the trap stack between the frame and its top. A
// failed read is reported in result rather than aborting the trap.
func captureStack(mem *hypervisor.PhysMem, frame, top uint64, result *TrapResult) []byte {
	data, err := mem.Slice(frame, top-frame)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read trap stack: %v", err)
		return nil
	}
	return data
}

// printTrapStack displays the frame header and register area of a trap
func printTrapStack(stack []byte, frame, top uint64) {
	fmt.Printf("\n=== Trap Stack ===\n")
	if len(stack) == 0 {
		fmt.Println("No trap frame captured")
		return
	}

	regArea := frame + hypervisor.FrameHeaderSize
	fmt.Printf("Frame: 0x%x  Registers: 0x%x  Top: 0x%x (%d bytes)\n\n", frame, regArea, top, top-frame)
	fmt.Printf("Annotations: HDR=cause/epc/tval/sp, REG=x0..x31\n")

	for offset := uint64(0); offset < uint64(len(stack)); offset += 16 {
		addr := frame + offset
		if addr < regArea {
			fmt.Printf("HDR> ")
		} else {
			fmt.Printf("REG> ")
		}
		end := min(offset+16, uint64(len(stack)))
		fmt.Printf("%s", utils.HexDump(stack[offset:end], addr))
	}
}
