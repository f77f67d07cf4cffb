//go:build windows

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

	"golang.org/x/sys/windows"
)

// wsaPollMux wraps WSAPoll, Windows' socket-only analogue of poll(2). It
// cannot watch arbitrary handles (pipes, console input), only SOCKETs;
// callers mixing console/pipe handles with sockets on Windows are expected
// to run a second, separate wait loop for those (see internal/sigx, which
// uses signal.Notify rather than this Mux for console events).
type wsaPollMux struct {
	mu      sync.Mutex
	entries map[Handle]Interest
}

// NewWSAPoll constructs a WSAPoll-backed Mux.
func NewWSAPoll() Mux {
	return &wsaPollMux{entries: make(map[Handle]Interest)}
}

// NewSelectFallback has no meaningful degraded mode on Windows: WSAPoll
// has no FD_SETSIZE-style ceiling, so the capacity guard's warning path
// simply reuses it.
func NewSelectFallback() Mux {
	warnSelectFallback()
	return NewWSAPoll()
}

func (m *wsaPollMux) Register(handle Handle, interest Interest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[handle] = interest
	return nil
}

func (m *wsaPollMux) Modify(handle Handle, interest Interest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[handle]; !ok {
		return ErrNotRegistered
	}
	m.entries[handle] = interest
	return nil
}

func (m *wsaPollMux) Unregister(handle Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, handle)
	return nil
}

func (m *wsaPollMux) Wait(timeoutMs int) ([]Entry, error) {
	m.mu.Lock()
	fds := make([]windows.WSAPollFd, 0, len(m.entries))
	handles := make([]Handle, 0, len(m.entries))
	for h, i := range m.entries {
		var ev int16
		if i&Readable != 0 {
			ev |= windows.POLLIN
		}
		if i&Writable != 0 {
			ev |= windows.POLLOUT
		}
		fds = append(fds, windows.WSAPollFd{Fd: windows.Handle(h), Events: ev})
		handles = append(handles, h)
	}
	m.mu.Unlock()

	if len(fds) == 0 {
		return nil, nil
	}

	n, err := windows.WSAPoll(fds, timeoutMs)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]Entry, 0, len(fds))
	for idx, fd := range fds {
		if fd.REvents == 0 {
			continue
		}
		var ready Interest
		if fd.REvents&windows.POLLIN != 0 {
			ready |= Readable
		}
		if fd.REvents&windows.POLLOUT != 0 {
			ready |= Writable
		}
		if fd.REvents&windows.POLLHUP != 0 {
			ready |= Hangup
		}
		if fd.REvents&windows.POLLERR != 0 {
			ready |= Errored
		}
		if fd.REvents&windows.POLLNVAL != 0 {
			ready |= Invalid
		}
		out = append(out, Entry{Handle: handles[idx], Ready: ready})
	}
	return out, nil
}

func (m *wsaPollMux) Backend() Backend { return BackendWSAPoll }

func (m *wsaPollMux) Close() error { return nil }
