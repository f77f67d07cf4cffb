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

// Package stream composes the layered connection a session actually reads
// and writes through: a raw socket optionally wrapped by telnet option
// negotiation, then by an SRP-authenticated tunnel, then by TLS. Each
// wrapper owns the thing it wraps and closing the outermost layer closes
// every layer beneath it.
package stream

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/sabouaram/netbridge/certificates"

	"github.com/sabouaram/netbridge/internal/rendezvous"
	"github.com/sabouaram/netbridge/internal/srptun"
	"github.com/sabouaram/netbridge/internal/telnet"
)

// Stream is the contract every layer and the final composed connection
// satisfy. Handle returns the innermost raw file descriptor, needed by the
// multiplexer and by the port scanner's socket-option checks; wrapped
// layers that have no descriptor of their own (telnet, srp) delegate to
// what they wrap.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	Handle() (int, bool)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	SetDeadline(t time.Time) error
}

// rawStream adapts a net.Conn (TCP, Unix, or a rendezvous session's
// resulting net.Conn) to Stream; it is always the innermost layer.
type rawStream struct {
	conn net.Conn
}

// NewRaw wraps a plain connection with no further processing.
func NewRaw(conn net.Conn) Stream {
	return &rawStream{conn: conn}
}

func (r *rawStream) Read(p []byte) (int, error)  { return r.conn.Read(p) }
func (r *rawStream) Write(p []byte) (int, error) { return r.conn.Write(p) }
func (r *rawStream) Close() error                { return r.conn.Close() }
func (r *rawStream) LocalAddr() net.Addr         { return r.conn.LocalAddr() }
func (r *rawStream) RemoteAddr() net.Addr        { return r.conn.RemoteAddr() }
func (r *rawStream) SetDeadline(t time.Time) error {
	return r.conn.SetDeadline(t)
}

// halfCloseConn is satisfied by *net.TCPConn and *net.UnixConn.
type halfCloseConn interface {
	CloseWrite() error
}

// HalfCloser is implemented by any Stream whose innermost connection
// supports shutting down its write side independently; the transfer
// engine's half-close policy uses it when available and falls back to a
// full Close otherwise.
type HalfCloser interface {
	CloseWrite() error
}

func (r *rawStream) CloseWrite() error {
	if hc, ok := r.conn.(halfCloseConn); ok {
		return hc.CloseWrite()
	}
	return r.conn.Close()
}

// syscallConn is satisfied by *net.TCPConn/*net.UDPConn/*net.UnixConn. Using
// SyscallConn (rather than File()) keeps the original socket non-blocking;
// File() would dup it into a new, blocking descriptor.
type syscallConn interface {
	SyscallConn() (syscall.RawConn, error)
}

func (r *rawStream) Handle() (int, bool) {
	sc, ok := r.conn.(syscallConn)
	if !ok {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd int
	cerr := raw.Control(func(h uintptr) {
		fd = int(h)
	})
	if cerr != nil {
		return 0, false
	}
	return fd, true
}

// telnetStream wraps a Stream with IAC/option-negotiation processing. All
// reads are filtered through the telnet.Processor before being handed to
// the caller; negotiation responses generated by incoming IAC sequences
// are written back out transparently.
type telnetStream struct {
	under Stream
	proc  *telnet.Processor
	plain []byte // leftover decoded bytes not yet delivered to the caller
}

// NewTelnet layers telnet option negotiation over under. h receives
// negotiated option and subnegotiation events (used by the CLI to react to
// ECHO/NAWS changes).
func NewTelnet(under Stream, h telnet.Handler, termType string, envAllow map[string]string) Stream {
	return &telnetStream{under: under, proc: telnet.New(h, termType, envAllow)}
}

func (t *telnetStream) Read(p []byte) (int, error) {
	for len(t.plain) == 0 {
		buf := make([]byte, 4096)
		n, err := t.under.Read(buf)
		if n > 0 {
			out, resp, derr := t.proc.Decode(buf[:n])
			if len(resp) > 0 {
				if _, werr := t.under.Write(resp); werr != nil {
					return 0, werr
				}
			}
			t.plain = append(t.plain, out...)
			if derr != nil {
				return 0, derr
			}
		}
		if err != nil {
			if len(t.plain) == 0 {
				return 0, err
			}
			break
		}
	}
	n := copy(p, t.plain)
	t.plain = t.plain[n:]
	return n, nil
}

func (t *telnetStream) Write(p []byte) (int, error) {
	return t.under.Write(telnet.Escape(p))
}

func (t *telnetStream) Close() error { return t.under.Close() }
func (t *telnetStream) CloseWrite() error {
	if hc, ok := t.under.(HalfCloser); ok {
		return hc.CloseWrite()
	}
	return t.under.Close()
}
func (t *telnetStream) Handle() (int, bool)            { return t.under.Handle() }
func (t *telnetStream) LocalAddr() net.Addr            { return t.under.LocalAddr() }
func (t *telnetStream) RemoteAddr() net.Addr           { return t.under.RemoteAddr() }
func (t *telnetStream) SetDeadline(tm time.Time) error { return t.under.SetDeadline(tm) }

// srpStream wraps a Stream with an SRP-authenticated, AES-GCM encrypted
// tunnel established over a rendezvous session's resulting connection.
type srpStream struct {
	tunnel *srptun.Tunnel
	addr   net.Addr
}

// NewSRP performs the SRP handshake over conn (already the rendezvous
// session's connected socket) and returns the resulting encrypted Stream.
func NewSRP(ctx context.Context, conn net.Conn, role srptun.Role, password []byte, timeout time.Duration) (Stream, error) {
	tun, err := srptun.Handshake(ctx, conn, role, password, timeout)
	if err != nil {
		return nil, err
	}
	return &srpStream{tunnel: tun, addr: conn.RemoteAddr()}, nil
}

func (s *srpStream) Read(p []byte) (int, error)  { return s.tunnel.Read(p) }
func (s *srpStream) Write(p []byte) (int, error) { return s.tunnel.Write(p) }
func (s *srpStream) Close() error                { return s.tunnel.Close() }

// CloseWrite on an SRP tunnel has no meaningful half-close (every write is
// one complete AEAD record over a full-duplex socket that the peer decodes
// as a stream, not framed-per-direction), so it falls back to a full close.
func (s *srpStream) CloseWrite() error { return s.tunnel.Close() }

// Handle surfaces the rendezvous tunnel's own raw descriptor so the
// multiplexer polls the real socket while the SRP layer decrypts in place.
func (s *srpStream) Handle() (int, bool) {
	sc, ok := s.tunnel.Handle().(syscallConn)
	if !ok {
		return 0, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, false
	}
	var fd int
	if cerr := raw.Control(func(h uintptr) { fd = int(h) }); cerr != nil {
		return 0, false
	}
	return fd, true
}

func (s *srpStream) LocalAddr() net.Addr { return nil }
func (s *srpStream) RemoteAddr() net.Addr        { return s.addr }
func (s *srpStream) SetDeadline(t time.Time) error {
	return s.tunnel.SetDeadline(t)
}

// tlsStream wraps a net.Conn-shaped Stream with TLS using
// certificates.TLSConfig for cipher/version/curve selection.
type tlsStream struct {
	under  Stream
	tlsCon *tls.Conn
}

// tlsConnAdapter exposes a Stream as a net.Conn so crypto/tls can wrap it;
// SRP and telnet layers have no real descriptor, so LocalAddr/RemoteAddr
// fall back to whatever the innermost layer reports.
type tlsConnAdapter struct {
	Stream
}

func (a tlsConnAdapter) SetReadDeadline(t time.Time) error  { return a.Stream.SetDeadline(t) }
func (a tlsConnAdapter) SetWriteDeadline(t time.Time) error { return a.Stream.SetDeadline(t) }

// NewTLSClient dials a TLS client handshake over under using cfg's
// certificate/cipher/version configuration, for the given server name
// (used for SNI and certificate verification).
func NewTLSClient(under Stream, cfg certificates.TLSConfig, serverName string) (Stream, error) {
	conf := cfg.TLS(serverName)
	c := tls.Client(tlsConnAdapter{under}, conf)
	if err := c.Handshake(); err != nil {
		return nil, err
	}
	return &tlsStream{under: under, tlsCon: c}, nil
}

// NewTLSServer performs a TLS server handshake over under using cfg.
func NewTLSServer(under Stream, cfg certificates.TLSConfig) (Stream, error) {
	conf := cfg.TLS("")
	c := tls.Server(tlsConnAdapter{under}, conf)
	if err := c.Handshake(); err != nil {
		return nil, err
	}
	return &tlsStream{under: under, tlsCon: c}, nil
}

func (t *tlsStream) Read(p []byte) (int, error)  { return t.tlsCon.Read(p) }
func (t *tlsStream) Write(p []byte) (int, error) { return t.tlsCon.Write(p) }
func (t *tlsStream) Close() error { return t.tlsCon.Close() }
func (t *tlsStream) CloseWrite() error {
	return t.tlsCon.CloseWrite()
}
func (t *tlsStream) Handle() (int, bool)         { return t.under.Handle() }
func (t *tlsStream) LocalAddr() net.Addr         { return t.tlsCon.LocalAddr() }
func (t *tlsStream) RemoteAddr() net.Addr        { return t.tlsCon.RemoteAddr() }
func (t *tlsStream) SetDeadline(tm time.Time) error {
	return t.under.SetDeadline(tm)
}

// DialRendezvous performs the rendezvous handshake for secret and returns
// the raw Stream over the resulting connection; callers then layer
// telnet/srp/tls on top as the session's wrap flags request.
func DialRendezvous(ctx context.Context, relay, secret string, listening bool, timeout time.Duration) (Stream, *rendezvous.Session, error) {
	sess, err := rendezvous.Dial(ctx, relay, secret, listening, timeout)
	if err != nil {
		return nil, nil, err
	}
	return NewRaw(sess.Conn), sess, nil
}

// SRPRole translates a rendezvous role assignment into the srptun role
// that session plays in the handshake that follows it.
func SRPRole(r rendezvous.Role) srptun.Role {
	if r == rendezvous.RoleSRPServer {
		return srptun.RoleServer
	}
	return srptun.RoleClient
}

// fileStream adapts an *os.File (stdio, or one end of an exec'd child's
// pipe) to Stream. It is the "local side" of a non-broker, non-exec
// session (stdin/stdout) or of an exec session's child pipes.
type fileStream struct {
	f *os.File
}

// NewFile wraps f (os.Stdin, os.Stdout, or a pipe end returned by
// os/exec's *Cmd pipe constructors) with no further processing.
func NewFile(f *os.File) Stream {
	return &fileStream{f: f}
}

func (s *fileStream) Read(p []byte) (int, error)  { return s.f.Read(p) }
func (s *fileStream) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *fileStream) Close() error                { return s.f.Close() }
func (s *fileStream) LocalAddr() net.Addr         { return nil }
func (s *fileStream) RemoteAddr() net.Addr        { return nil }
func (s *fileStream) SetDeadline(t time.Time) error {
	return s.f.SetDeadline(t)
}

func (s *fileStream) Handle() (int, bool) {
	return int(s.f.Fd()), true
}

// CloseWrite closes the file outright; pipes and stdio have no independent
// half-close, only the full descriptor.
func (s *fileStream) CloseWrite() error { return s.f.Close() }

// pipeStream composes an independent reader and writer into one Stream;
// used for os/exec's StdinPipe/StdoutPipe (distinct io.ReadCloser and
// io.WriteCloser, not a single descriptor) and for process stdio when
// os.Stdin and os.Stdout are two different *os.File values.
type pipeStream struct {
	r io.Reader
	w io.Writer
}

// NewPipe composes r and w into a single Stream. Close closes whichever
// of r, w implement io.Closer; Handle reports no descriptor since the two
// sides need not share one, which is exactly the case the port scanner
// and multiplexer register against — callers routing a pipeStream through
// transfer.Pump rely on Pump's read/write loop rather than the
// multiplexer's descriptor-based readiness.
func NewPipe(r io.Reader, w io.Writer) Stream {
	return &pipeStream{r: r, w: w}
}

func (p *pipeStream) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeStream) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipeStream) Close() error {
	var err error
	if c, ok := p.r.(io.Closer); ok {
		if e := c.Close(); e != nil {
			err = e
		}
	}
	if c, ok := p.w.(io.Closer); ok {
		if e := c.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (p *pipeStream) CloseWrite() error {
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *pipeStream) LocalAddr() net.Addr  { return nil }
func (p *pipeStream) RemoteAddr() net.Addr { return nil }

func (p *pipeStream) SetDeadline(t time.Time) error { return nil }

func (p *pipeStream) Handle() (int, bool) { return 0, false }
