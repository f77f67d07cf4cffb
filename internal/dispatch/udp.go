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
	"errors"
	"net"
	"sync"
	"time"
)

// udpAcceptor promotes a connectionless net.PacketConn into the single
// net.Conn-per-client model the rest of dispatch assumes: the first
// datagram's sender becomes "the" peer (mirroring ncat's -u, non -k,
// behavior), and datagrams from any other source are dropped rather than
// starting a second session on the same local port.
type udpAcceptor struct {
	pc     net.PacketConn
	connCh chan net.Conn
	done   chan struct{}
	once   sync.Once
}

func newUDPAcceptor(addr string) (*udpAcceptor, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	a := &udpAcceptor{
		pc:     pc,
		connCh: make(chan net.Conn, 1),
		done:   make(chan struct{}),
	}
	go a.readLoop()
	return a, nil
}

func (a *udpAcceptor) readLoop() {
	buf := make([]byte, 64*1024)
	var peer *udpConn
	var remote net.Addr

	for {
		n, raddr, err := a.pc.ReadFrom(buf)
		if err != nil {
			if peer != nil {
				peer.closeWithErr(err)
			}
			return
		}
		if peer == nil {
			remote = raddr
			peer = newUDPConn(a.pc, remote)
			select {
			case a.connCh <- peer:
			case <-a.done:
				return
			}
		}
		if raddr.String() != remote.String() {
			continue // not our peer; drop
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		peer.push(cp)
	}
}

func (a *udpAcceptor) Accept() (net.Conn, error) {
	select {
	case c := <-a.connCh:
		return c, nil
	case <-a.done:
		return nil, errors.New("dispatch: udp acceptor closed")
	}
}

func (a *udpAcceptor) Close() error {
	a.once.Do(func() { close(a.done) })
	return a.pc.Close()
}

func (a *udpAcceptor) Addr() net.Addr { return a.pc.LocalAddr() }

// udpConn adapts one peer's datagrams to net.Conn's stream-ish Read/Write.
type udpConn struct {
	pc     net.PacketConn
	remote net.Addr

	mu     sync.Mutex
	queue  chan []byte
	carry  []byte
	closed bool
	err    error
}

func newUDPConn(pc net.PacketConn, remote net.Addr) *udpConn {
	return &udpConn{pc: pc, remote: remote, queue: make(chan []byte, 256)}
}

func (c *udpConn) push(b []byte) {
	select {
	case c.queue <- b:
	default:
		// peer outran the queue; drop, matching datagram semantics
	}
}

func (c *udpConn) closeWithErr(err error) {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.err = err
		close(c.queue)
	}
	c.mu.Unlock()
}

func (c *udpConn) Read(p []byte) (int, error) {
	if len(c.carry) == 0 {
		b, ok := <-c.queue
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			if err == nil {
				err = net.ErrClosed
			}
			return 0, err
		}
		c.carry = b
	}
	n := copy(p, c.carry)
	c.carry = c.carry[n:]
	return n, nil
}

func (c *udpConn) Write(p []byte) (int, error) {
	return c.pc.WriteTo(p, c.remote)
}

func (c *udpConn) Close() error {
	c.closeWithErr(nil)
	return nil
}

func (c *udpConn) LocalAddr() net.Addr  { return c.pc.LocalAddr() }
func (c *udpConn) RemoteAddr() net.Addr { return c.remote }

func (c *udpConn) SetDeadline(t time.Time) error      { return nil }
func (c *udpConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *udpConn) SetWriteDeadline(t time.Time) error { return nil }
