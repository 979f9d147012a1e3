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
	"strings"
	"testing"

	"github.com/blacktop/go-riscv-hypervisor"
)

func TestCaptureStack(t *testing.T) {
	const base = 0x80000000

	mem, err := hypervisor.NewPhysMem(base, hypervisor.PageSize)
	if err != nil {
		t.Fatalf("NewPhysMem() failed: %v", err)
	}
	if err := mem.Write64(base+0x100, 0x1122334455667788); err != nil {
		t.Fatal(err)
	}

	var result TrapResult
	stack := captureStack(mem, base+0x100, base+0x120, &result)
	if len(stack) != 0x20 || stack[0] != 0x88 {
		t.Errorf("captureStack() = % x", stack)
	}
	if result.Error != "" {
		t.Errorf("unexpected error %q", result.Error)
	}

	if err := mem.Close(); err != nil {
		t.Fatal(err)
	}
	if stack := captureStack(mem, base+0x100, base+0x120, &result); stack != nil {
		t.Errorf("captureStack() on released memory = % x, want nil", stack)
	}
	if !strings.Contains(result.Error, "failed to read trap stack") {
		t.Errorf("result.Error = %q, want the read failure recorded", result.Error)
	}
}
