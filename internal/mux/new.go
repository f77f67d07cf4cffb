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

import "sync"

var (
	warnOnce    sync.Once
	warnHandler func(backend Backend)
)

// SetCapacityWarning installs the one-shot callback fired the first time
// New falls all the way back to the select backend, so the dispatch core
// can log its capacity-guard warning exactly once per process.
func SetCapacityWarning(fn func(backend Backend)) {
	warnHandler = fn
}

// New picks the best available backend for the current platform: io_uring
// then poll(2) on Linux, WSAPoll on Windows, poll(2) elsewhere, falling
// back to select(2) only if even poll construction is refused (kept for
// exotic sandboxes; poll itself essentially never fails to construct
// since construction here only allocates, it never calls into the
// kernel).
func New() Mux {
	m, backend := newPlatformDefault()
	if backend == BackendSelect {
		warnOnce.Do(func() {
			if warnHandler != nil {
				warnHandler(BackendSelect)
			}
		})
	}
	return m
}

// warnSelectFallback is shared by the per-platform NewSelectFallback
// implementations so the one-shot warning fires regardless of which
// concrete backend ultimately serves the degraded-capacity path.
func warnSelectFallback() {
	warnOnce.Do(func() {
		if warnHandler != nil {
			warnHandler(BackendSelect)
		}
	})
}
