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

// Package size provides convenient byte-size constants (KiB, MiB, GiB, TiB)
// and a human-readable formatter, used by the ring buffer, the transfer
// engine and the bandwidth limiter to express buffer and rate defaults.
package size

import "fmt"

// Size is a count of bytes.
type Size int64

const (
	Byte Size = 1
	KiB       = Byte << (10 * (iota))
	MiB
	GiB
	TiB
)

// String renders the size using the largest unit that keeps the value >= 1.
func (s Size) String() string {
	switch {
	case s >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(s)/float64(TiB))
	case s >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(s)/float64(GiB))
	case s >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(s)/float64(MiB))
	case s >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(s)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", int64(s))
	}
}

// Int64 returns the size as a plain int64 byte count.
func (s Size) Int64() int64 {
	return int64(s)
}

// Int returns the size as a plain int byte count.
func (s Size) Int() int {
	return int(s)
}
