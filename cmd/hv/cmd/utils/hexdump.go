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
package utils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

var (
	colorAddr  = color.New(color.FgHiBlue).SprintFunc()
	colorZero  = color.New(color.Faint).SprintFunc()
	colorByte  = color.New(color.FgHiWhite).SprintFunc()
	colorASCII = color.New(color.FgGreen).SprintFunc()
)

// HexDump formats data as 16-byte rows labelled with addresses starting at addr.
func HexDump(data []byte, addr uint64) string {
	var sb strings.Builder
	for off := 0; off < len(data); off += 16 {
		row := data[off:min(off+16, len(data))]

		sb.WriteString(colorAddr(fmt.Sprintf("%010x", addr+uint64(off))))
		sb.WriteString("  ")
		for i := range 16 {
			switch {
			case i >= len(row):
				sb.WriteString("   ")
			case row[i] == 0:
				sb.WriteString(colorZero("00 "))
			default:
				sb.WriteString(colorByte(fmt.Sprintf("%02x ", row[i])))
			}
			if i == 7 {
				sb.WriteByte(' ')
			}
		}

		sb.WriteString(" |")
		for _, b := range row {
			if b >= 0x20 && b < 0x7f {
				sb.WriteString(colorASCII(string(rune(b))))
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}
	return sb.String()
}
