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

package scanner

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/sabouaram/netbridge/internal/mux"
)

// probeWithMux drives a single connect probe through an already-constructed
// Mux (the io_uring-backed instance the batch runner shares across a
// batch's concurrent probes): create a non-blocking socket, kick off the
// connect, wait for writability through m, then verify completion with a
// SO_ERROR sockopt query so a spuriously-ready descriptor never gets
// reported as open.
func probeWithMux(ctx context.Context, m mux.Mux, host string, port int, timeout time.Duration) bool {
	sa, family, err := resolveSockaddr(host, port)
	if err != nil {
		return false
	}

	fd, err := syscall.Socket(family, syscall.SOCK_STREAM, syscall.IPPROTO_TCP)
	if err != nil {
		return false
	}
	defer syscall.Close(fd)

	if err := syscall.SetNonblock(fd, true); err != nil {
		return false
	}

	err = syscall.Connect(fd, sa)
	if err != nil && err != syscall.EINPROGRESS {
		return false
	}

	if err := m.Register(fd, mux.Writable); err != nil {
		return false
	}
	defer func() { _ = m.Unregister(fd) }()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if ctx.Err() != nil {
			return false
		}

		entries, werr := m.Wait(int(remaining.Milliseconds()) + 1)
		if werr != nil {
			return false
		}

		ready := false
		for _, e := range entries {
			if e.Handle == fd && e.Ready&(mux.Writable|mux.Errored) != 0 {
				ready = true
			}
		}
		if !ready {
			continue
		}

		soErr, gerr := syscall.GetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_ERROR)
		if gerr != nil || soErr != 0 {
			return false
		}
		return true
	}
}

// resolveSockaddr resolves host to its first usable address for port and
// builds the matching syscall sockaddr, preferring IPv4 since most scan
// targets are still dual-stack-ambiguous hostnames best probed over v4.
func resolveSockaddr(host string, port int) (syscall.Sockaddr, int, error) {
	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil || len(ips) == 0 {
		return nil, 0, err
	}

	for _, ip := range ips {
		if v4 := ip.IP.To4(); v4 != nil {
			var addr [4]byte
			copy(addr[:], v4)
			return &syscall.SockaddrInet4{Port: port, Addr: addr}, syscall.AF_INET, nil
		}
	}

	ip := ips[0].IP.To16()
	var addr [16]byte
	copy(addr[:], ip)
	return &syscall.SockaddrInet6{Port: port, Addr: addr}, syscall.AF_INET6, nil
}
