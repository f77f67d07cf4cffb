/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package transfer

import (
	"bytes"
	"fmt"
)

const hexDumpWidth = 16

// renderHexDump formats p as classic offset/hex/ascii rows, offset counting
// from a running total so a multi-call session reads as one continuous dump.
func renderHexDump(baseOffset int64, p []byte) []byte {
	var out bytes.Buffer

	for i := 0; i < len(p); i += hexDumpWidth {
		end := i + hexDumpWidth
		if end > len(p) {
			end = len(p)
		}
		row := p[i:end]

		fmt.Fprintf(&out, "%08x  ", baseOffset+int64(i))

		for j := 0; j < hexDumpWidth; j++ {
			if j < len(row) {
				fmt.Fprintf(&out, "%02x ", row[j])
			} else {
				out.WriteString("   ")
			}
			if j == 7 {
				out.WriteByte(' ')
			}
		}

		out.WriteString(" |")
		for _, c := range row {
			if c >= 0x20 && c < 0x7f {
				out.WriteByte(c)
			} else {
				out.WriteByte('.')
			}
		}
		out.WriteString("|\n")
	}

	return out.Bytes()
}
