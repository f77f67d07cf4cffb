//go:build linux

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

package mux

// defaultQueueDepth is the io_uring submission queue depth requested when
// no explicit preference is given; it is generous enough for a handful of
// simultaneously tracked connections without wasting ring memory.
const defaultQueueDepth = 256

// newPlatformDefault tries io_uring first (spec'd as the preferred Linux
// backend) and falls back to poll(2) when the kernel or sandboxing
// environment refuses it (old kernel, seccomp profile blocking
// io_uring_setup, iouring-go's mmap failing under a restrictive container).
func newPlatformDefault() (Mux, Backend) {
	if m, err := NewIOURing(defaultQueueDepth); err == nil {
		return m, BackendIOUring
	}
	return NewPoll(), BackendPoll
}
