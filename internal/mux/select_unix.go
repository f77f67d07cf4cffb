//go:build !windows

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

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// selectMux is the select(2) fallback, used only when neither poll nor a
// scalable native backend is available. It is capped at FD_SETSIZE
// registrations; the capacity guard in internal/dispatch is expected to
// have already clamped concurrent peers to FD_SETSIZE/3 minus reserved
// slots before handles ever reach this backend.
type selectMux struct {
	mu      sync.Mutex
	entries map[Handle]Interest
}

// NewSelect constructs a select(2)-backed Mux.
func NewSelect() Mux {
	return &selectMux{entries: make(map[Handle]Interest)}
}

// NewSelectFallback forces the select(2) backend regardless of platform
// default; used by the capacity guard's degraded mode and by tests that
// want FD_SETSIZE semantics deterministically.
func NewSelectFallback() Mux {
	warnSelectFallback()
	return NewSelect()
}

func (m *selectMux) Register(handle Handle, interest Interest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= unix.FD_SETSIZE {
		return ErrCapacityExceeded
	}
	if handle >= unix.FD_SETSIZE {
		return ErrCapacityExceeded
	}
	m.entries[handle] = interest
	return nil
}

func (m *selectMux) Modify(handle Handle, interest Interest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[handle]; !ok {
		return ErrNotRegistered
	}
	m.entries[handle] = interest
	return nil
}

func (m *selectMux) Unregister(handle Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, handle)
	return nil
}

func (m *selectMux) Wait(timeoutMs int) ([]Entry, error) {
	m.mu.Lock()
	var rset, wset unix.FdSet
	handles := make([]Handle, 0, len(m.entries))
	maxFd := 0
	for h, i := range m.entries {
		handles = append(handles, h)
		if i&Readable != 0 {
			fdSet(&rset, h)
		}
		if i&Writable != 0 {
			fdSet(&wset, h)
		}
		if h > maxFd {
			maxFd = h
		}
	}
	m.mu.Unlock()

	if len(handles) == 0 {
		return nil, nil
	}

	var tv *unix.Timeval
	if timeoutMs >= 0 {
		d := time.Duration(timeoutMs) * time.Millisecond
		t := unix.NsecToTimeval(d.Nanoseconds())
		tv = &t
	}

	for {
		n, err := unix.Select(maxFd+1, &rset, &wset, nil, tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		break
	}

	out := make([]Entry, 0, len(handles))
	for _, h := range handles {
		var ready Interest
		if fdIsSet(&rset, h) {
			ready |= Readable
		}
		if fdIsSet(&wset, h) {
			ready |= Writable
		}
		if ready != 0 {
			out = append(out, Entry{Handle: h, Ready: ready})
		}
	}
	return out, nil
}

func (m *selectMux) Backend() Backend { return BackendSelect }

func (m *selectMux) Close() error { return nil }

// SelectCapacity reports the effective concurrent-peer ceiling the
// dispatch core's capacity guard should enforce when select is the
// active backend.
func SelectCapacity() int {
	return unix.FD_SETSIZE/3 - selectCapacityReserved
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
