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

	"golang.org/x/sys/unix"
)

// pollMux is the poll(2) backed Mux, used on every POSIX platform as the
// portable middle ground between the scalable epoll/kqueue path (not
// distinguished here; unix.Poll is satisfied by the kernel's native
// notification mechanism under the hood on Linux and BSD alike within the
// syscall itself) and the FD_SETSIZE-limited select fallback.
type pollMux struct {
	mu      sync.Mutex
	entries map[Handle]Interest
}

// NewPoll constructs a poll(2)-backed Mux.
func NewPoll() Mux {
	return &pollMux{entries: make(map[Handle]Interest)}
}

func (m *pollMux) Register(handle Handle, interest Interest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[handle] = interest
	return nil
}

func (m *pollMux) Modify(handle Handle, interest Interest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[handle]; !ok {
		return ErrNotRegistered
	}
	m.entries[handle] = interest
	return nil
}

func (m *pollMux) Unregister(handle Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, handle)
	return nil
}

func toPollEvents(i Interest) int16 {
	var ev int16
	if i&Readable != 0 {
		ev |= unix.POLLIN
	}
	if i&Writable != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func fromPollEvents(ev int16) Interest {
	var i Interest
	if ev&unix.POLLIN != 0 {
		i |= Readable
	}
	if ev&unix.POLLOUT != 0 {
		i |= Writable
	}
	if ev&(unix.POLLERR) != 0 {
		i |= Errored
	}
	if ev&(unix.POLLHUP) != 0 {
		i |= Hangup
	}
	if ev&(unix.POLLNVAL) != 0 {
		i |= Invalid
	}
	return i
}

func (m *pollMux) Wait(timeoutMs int) ([]Entry, error) {
	m.mu.Lock()
	fds := make([]unix.PollFd, 0, len(m.entries))
	handles := make([]Handle, 0, len(m.entries))
	for h, i := range m.entries {
		fds = append(fds, unix.PollFd{Fd: int32(h), Events: toPollEvents(i)})
		handles = append(handles, h)
	}
	m.mu.Unlock()

	if len(fds) == 0 {
		return nil, nil
	}

	for {
		n, err := unix.Poll(fds, timeoutMs)
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

	out := make([]Entry, 0, len(fds))
	for idx, fd := range fds {
		if fd.Revents == 0 {
			continue
		}
		out = append(out, Entry{Handle: handles[idx], Ready: fromPollEvents(fd.Revents)})
	}
	return out, nil
}

func (m *pollMux) Backend() Backend { return BackendPoll }

func (m *pollMux) Close() error { return nil }
