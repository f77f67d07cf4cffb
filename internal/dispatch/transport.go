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

package dispatch

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/sabouaram/netbridge/file/perm"
	"github.com/sabouaram/netbridge/internal/netconfig"
)

// ErrSCTPUnsupported is returned for every sctp dial/listen attempt. None
// of the retrieval pack's repositories import an SCTP library, and the
// well-known out-of-tree ones (e.g. ishidawataru/sctp, cgo-based) can't be
// grounded against anything this codebase has actually exercised; rather
// than guess at an unverified API, sctp is accepted by netconfig's
// validator as a legal enum value but refused here with a clear error.
var ErrSCTPUnsupported = fmt.Errorf("%w: sctp transport has no available implementation", ErrBindFailed)

// acceptor is what Listen hands back for stream-oriented transports
// (tcp, unix); dispatch.Serve Accepts in a loop until Close or a fatal
// error.
type acceptor interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// listenTransport binds cfg's transport/host/port/path and returns an
// acceptor plus a unix-socket-cleanup func (nil for non-unix transports).
func listenTransport(cfg *netconfig.Config) (acceptor, func(), error) {
	switch cfg.Transport {
	case netconfig.TransportTCP:
		ln, err := net.Listen("tcp", hostPort(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
		}
		return ln, nil, nil

	case netconfig.TransportUnix:
		if err := refuseWorldWritableParent(cfg.Path); err != nil {
			return nil, nil, err
		}
		_ = os.Remove(cfg.Path)
		ln, err := net.Listen("unix", cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
		}
		if err := os.Chmod(cfg.Path, perm.Perm(0600).FileMode()); err != nil {
			_ = ln.Close()
			return nil, nil, fmt.Errorf("%w: chmod: %v", ErrBindFailed, err)
		}
		cleanup := func() { _ = os.Remove(cfg.Path) }
		return ln, cleanup, nil

	case netconfig.TransportUDP:
		ln, err := newUDPAcceptor(hostPort(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
		}
		return ln, nil, nil

	case netconfig.TransportSCTP:
		return nil, nil, ErrSCTPUnsupported

	default:
		return nil, nil, fmt.Errorf("%w: unknown transport %q", ErrBindFailed, cfg.Transport)
	}
}

// Dial is the exported form of dialTransport, used directly by
// cmd/netbridge's connect-mode runner.
func Dial(ctx context.Context, cfg *netconfig.Config) (net.Conn, error) {
	return dialTransport(ctx, cfg)
}

// dialTransport opens one outbound connection for connect mode.
func dialTransport(ctx context.Context, cfg *netconfig.Config) (net.Conn, error) {
	var d net.Dialer
	d.Timeout = cfg.Timeouts.Connect

	switch cfg.Transport {
	case netconfig.TransportTCP:
		return d.DialContext(ctx, "tcp", hostPort(cfg))
	case netconfig.TransportUDP:
		return d.DialContext(ctx, "udp", hostPort(cfg))
	case netconfig.TransportUnix:
		return d.DialContext(ctx, "unix", cfg.Path)
	case netconfig.TransportSCTP:
		return nil, ErrSCTPUnsupported
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrBindFailed, cfg.Transport)
	}
}

func hostPort(cfg *netconfig.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// refuseWorldWritableSocket is the check dispatch.go runs against an
// already-bound unix socket path, matching spec.md §4.9/§8's refusal to
// serve on a world-writable rendezvous point.
func refuseWorldWritableSocket(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}
	p := perm.ParseFileMode(fi.Mode())
	if p.FileMode().Perm()&0o002 != 0 {
		return ErrWorldWritableSocket
	}
	return nil
}

// refuseWorldWritableParent checks the containing directory before bind,
// since a world-writable directory lets another user race the bind and
// replace the socket file entirely.
func refuseWorldWritableParent(path string) error {
	dir := path
	if idx := lastSlash(path); idx >= 0 {
		dir = path[:idx]
	} else {
		dir = "."
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil
	}
	p := perm.ParseFileMode(fi.Mode())
	if p.FileMode().Perm()&0o002 != 0 {
		return ErrWorldWritableSocket
	}
	return nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
