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

// Package mux provides a platform-agnostic readiness API over poll,
// WSAPoll, select, and io_uring. The backend is chosen once at
// construction and memoised; callers see the same Mux contract regardless
// of which one is in effect.
package mux

// Interest is the union of readiness bits a caller registers for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
	Errored
	Hangup
	Invalid
)

// Handle is an OS-level descriptor (a file descriptor on POSIX, a SOCKET
// handle on Windows); it is represented as an int/uintptr-compatible value
// so backends can convert freely.
type Handle = int

// Entry is one readiness result: {handle, interest-mask, ready-mask}.
type Entry struct {
	Handle  Handle
	Ready   Interest
}

// Backend names, used for the one-shot warning when the select emulation
// is the effective backend (spec'd capacity guard) and for diagnostics.
type Backend string

const (
	BackendIOUring Backend = "io_uring"
	BackendEpoll   Backend = "epoll"
	BackendKqueue  Backend = "kqueue"
	BackendPoll    Backend = "poll"
	BackendWSAPoll Backend = "wsapoll"
	BackendIOCP    Backend = "iocp"
	BackendSelect  Backend = "select"
)

// Mux is the platform-agnostic multiplexer contract. All calls are
// non-blocking except Wait, which returns after at least one readiness
// event or on timeout expiry.
type Mux interface {
	// Register begins watching handle for interest. Non-blocking.
	Register(handle Handle, interest Interest) error
	// Modify changes the interest mask for an already-registered handle.
	Modify(handle Handle, interest Interest) error
	// Unregister stops watching handle. A subsequent Wait never yields it.
	Unregister(handle Handle) error
	// Wait blocks until at least one registered handle is ready or
	// timeoutMs elapses. -1 means wait indefinitely; 0 means a
	// non-blocking poll. Returns every ready handle; returning fewer than
	// are actually ready is forbidden.
	Wait(timeoutMs int) ([]Entry, error)
	// Backend reports which concrete implementation is in effect.
	Backend() Backend
	// Close releases backend resources (epoll fd, io_uring ring, ...).
	Close() error
}

// ProvidedBufferMux is implemented by backends that support the optional
// io_uring provided-buffer mode; callers ask for it explicitly.
type ProvidedBufferMux interface {
	Mux
	EnableProvidedBuffers(groupID uint16, bufSize int, count int) error
	ResolveBuffer(bufferID uint16) []byte
}

// selectCapacityReserved is the number of descriptor slots the capacity
// guard reserves (listening socket, self-pipe, stdio) when computing the
// select backend's concurrent-peer ceiling: FD_SETSIZE/3 - reserved.
const selectCapacityReserved = 4
