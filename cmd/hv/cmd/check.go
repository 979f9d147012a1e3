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
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("json", false, "Print the layout as JSON")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the machine config and print the physical memory layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		l := cfg.Layout()

		asJSON, err := cmd.Flags().GetBool("json")
		if err != nil {
			return err
		}
		if asJSON {
			out, err := json.MarshalIndent(l, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal layout: %w", err)
			}
			fmt.Println(string(out))
			return nil
		}

		title := color.New(color.Bold)
		region := color.New(color.FgCyan)

		title.Printf("config: ok (%d harts, boot hart %d)\n\n", cfg.Harts, cfg.BootHartID)
		rows := []struct {
			name       string
			start, end uint64
		}{
			{"image", l.RAMBase, l.ImageEnd},
			{"static data", l.StaticData, l.StaticData + 4096},
			{"slabs", l.SlabBase, l.SlabEnd},
			{"page stack", l.PageStackBase, l.PageStackEnd},
			{"free", l.FreeBase, l.RAMEnd},
		}
		for _, r := range rows {
			fmt.Printf("%s 0x%010x - 0x%010x  (%d KiB)\n", region.Sprintf("%-12s", r.name), r.start, r.end, (r.end-r.start)>>10)
		}
		fmt.Printf("%s 0x%010x\n", region.Sprintf("%-12s", "trap vector"), l.TrapVector)

		fmt.Println()
		title.Println("slabs:")
		for i := 0; i < l.MaxHarts; i++ {
			fmt.Printf("  %2d  base 0x%010x  stack top 0x%010x  heap 0x%010x - 0x%010x\n",
				i, l.SlabAddr(i), l.StackTop(i), l.HeapBase(i), l.HeapEnd(i))
		}
		return nil
	},
}
