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

// Package dispatch is the listen-side server core: it binds the
// configured transport, optionally drops privileges, gates each accepted
// connection through an ACL, and wires the result into either an exec'd
// program, the chat/relay broker, or a single interactive stdio session,
// tracking the IDLE -> BOUND -> (DROPPED-PRIVS|skipped) -> ACCEPTING <->
// SATURATED -> DRAINING -> CLOSED lifecycle throughout.
package dispatch

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	libatm "github.com/sabouaram/netbridge/atomic"
	"github.com/sabouaram/netbridge/internal/acl"
	"github.com/sabouaram/netbridge/internal/mux"
	"github.com/sabouaram/netbridge/internal/netconfig"
	"github.com/sabouaram/netbridge/internal/stream"
	"github.com/sabouaram/netbridge/internal/transfer"
	"github.com/sabouaram/netbridge/ioutils/mapCloser"
	"github.com/sabouaram/netbridge/logger"
)

// Server is one listen-mode instance.
type Server struct {
	cfg *netconfig.Config
	acl *acl.List
	log logger.Logger

	state    libatm.Value[State]
	listener acceptor
	cleanup  func()
	backend  mux.Backend

	broker     *Broker
	brokerOnce sync.Once

	active   int32 // currently-served connection count, for the capacity guard
	sessions int64 // monotonic session-id counter for the observer

	observer SessionObserver

	tee, hexDump *os.File
}

// SessionObserver receives lifecycle notifications for each accepted
// connection Server serves directly (exec and single-stdio modes; the
// broker fans out to many peers at once and has no single session to
// report). cmd/netbridge wires its sqlite ledger in through this when
// --audit-db is set.
type SessionObserver interface {
	Start(sessionID, remoteAddr, mode string) error
	Close(sessionID string, bytesIn, bytesOut int64) error
}

// SetObserver installs sv as the server's session observer. Passing nil
// disables reporting.
func (s *Server) SetObserver(sv SessionObserver) {
	s.observer = sv
}

func (s *Server) nextSessionID() string {
	n := atomic.AddInt64(&s.sessions, 1)
	return fmt.Sprintf("sess-%d", n)
}

// NewServer validates cfg, builds its ACL, and enforces the fail-closed
// exec posture: exec mode with an empty allow list refuses to start the
// server at all (spec.md §4.9, §8 scenario 6), rather than merely
// defaulting individual connections to deny the way BuildACL's
// DefaultDeny flag does for a server that does start.
func NewServer(cfg *netconfig.Config, log logger.Logger) (*Server, error) {
	if cfg.ExecProgram != "" && len(cfg.Allow) == 0 {
		return nil, ErrExecRequiresAllow
	}

	l, err := cfg.BuildACL()
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, acl: l, log: log, state: libatm.NewValue[State]()}
	s.state.Store(StateIdle)

	if cfg.Broker {
		s.broker = NewBroker(cfg.Chat, cfg.BufferSize, log)
	}

	if cfg.TeePath != "" {
		f, err := openAppend(cfg.TeePath)
		if err != nil {
			return nil, fmt.Errorf("%w: tee: %v", ErrBindFailed, err)
		}
		s.tee = f
	}
	if cfg.HexDumpPath != "" {
		f, err := openAppend(cfg.HexDumpPath)
		if err != nil {
			if s.tee != nil {
				_ = s.tee.Close()
			}
			return nil, fmt.Errorf("%w: hexdump: %v", ErrBindFailed, err)
		}
		s.hexDump = f
	}

	mux.SetCapacityWarning(func(b mux.Backend) {
		if log != nil {
			log.Entry(logger.WarnLevel, "dispatch: multiplexer fell back to select(2); connection capacity is bounded").
				FieldAdd("backend", string(b)).Log()
		}
	})

	return s, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

// State reports the server's current lifecycle state.
func (s *Server) State() State {
	return s.state.Load()
}

// ActiveSessions reports the number of connections currently being
// served, for the status server's introspection endpoint.
func (s *Server) ActiveSessions() int {
	if s.broker != nil {
		return s.broker.Count()
	}
	return int(atomic.LoadInt32(&s.active))
}

// Addr reports the listener's bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) setState(st State) {
	s.state.Store(st)
	if s.log != nil {
		s.log.Entry(logger.InfoLevel, "dispatch: state transition").FieldAdd("state", st.String()).Log()
	}
}

// Listen binds the configured transport and, if a drop-user was
// requested, drops privileges immediately after bind — the point at
// which the process has the listening descriptor it needs and nothing
// more.
func (s *Server) Listen() error {
	ln, cleanup, err := listenTransport(s.cfg)
	if err != nil {
		s.setState(StateClosed)
		return err
	}
	s.listener = ln
	s.cleanup = cleanup
	s.setState(StateBound)

	if s.cfg.Transport == netconfig.TransportUnix {
		if err := refuseWorldWritableSocket(s.cfg.Path); err != nil {
			_ = s.listener.Close()
			if s.cleanup != nil {
				s.cleanup()
			}
			s.setState(StateClosed)
			return err
		}
	}

	if s.cfg.DropUser != "" {
		if err := dropPrivileges(s.cfg.DropUser); err != nil {
			_ = s.listener.Close()
			if s.cleanup != nil {
				s.cleanup()
			}
			s.setState(StateClosed)
			return err
		}
		s.setState(StateDroppedPrivs)
	}

	m := mux.New()
	s.backend = m.Backend()
	_ = m.Close()

	return nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each accepted connection is gated by the ACL, then dispatched
// to exec, the broker, or a single interactive stdio session depending on
// cfg.
func (s *Server) Serve(ctx context.Context) error {
	s.setState(StateAccepting)

	if s.broker != nil {
		s.brokerOnce.Do(func() { go s.broker.Run() })
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.State() == StateDraining || s.State() == StateClosed {
				return nil
			}
			return err
		}

		if s.capacityExceeded() {
			s.setState(StateSaturated)
			_ = conn.Close()
			continue
		}
		if s.State() == StateSaturated {
			s.setState(StateAccepting)
		}

		remoteIP := hostIP(conn.RemoteAddr())
		if s.acl.Match(remoteIP) == acl.Deny {
			if s.log != nil {
				s.log.Entry(logger.WarnLevel, "dispatch: connection refused by acl").
					FieldAdd("remote", conn.RemoteAddr().String()).Log()
			}
			_ = conn.Close()
			continue
		}

		atomic.AddInt32(&s.active, 1)

		switch {
		case s.broker != nil:
			go s.handleBrokerConn(ctx, conn)
		case s.cfg.ExecProgram != "":
			go s.handleExecConn(ctx, conn)
		default:
			// Single interactive session at a time: pump synchronously so
			// the accept loop naturally serializes stdio-backed sessions.
			s.handleStdioConn(ctx, conn)
		}
	}
}

// capacityExceeded reports whether accepting one more connection would
// exceed what the effective multiplexer backend can track; only
// meaningful once the select(2) fallback is in effect; poll/io_uring/
// WSAPoll have no comparable fixed ceiling.
func (s *Server) capacityExceeded() bool {
	if s.backend != mux.BackendSelect {
		return false
	}
	return int(atomic.LoadInt32(&s.active)) >= mux.SelectCapacity()
}

func (s *Server) connDone() {
	atomic.AddInt32(&s.active, -1)
}

func (s *Server) handleBrokerConn(ctx context.Context, conn net.Conn) {
	defer s.connDone()
	st, err := wrapAccepted(ctx, s.cfg, conn)
	if err != nil {
		if s.log != nil {
			s.log.Entry(logger.WarnLevel, "dispatch: wrap failed").ErrorAdd(true, err).Log()
		}
		_ = conn.Close()
		return
	}
	s.broker.Add(st)
}

// handleExecConn and handleStdioConn each register every per-session
// resource (the raw conn, the wrapped peer stream, exec's pipe ends) with
// a mapCloser.Closer bound to ctx: a handshake or exec stall that never
// unblocks on its own still gets torn down within mapCloser's poll
// interval of Serve's context being cancelled, instead of leaking until
// process exit.
func (s *Server) handleExecConn(ctx context.Context, conn net.Conn) {
	defer s.connDone()

	closers := mapCloser.New(ctx)
	defer closers.Close()
	closers.Add(conn)

	peer, err := wrapAccepted(ctx, s.cfg, conn)
	if err != nil {
		if s.log != nil {
			s.log.Entry(logger.WarnLevel, "dispatch: wrap failed").ErrorAdd(true, err).Log()
		}
		return
	}
	closers.Add(peer)

	cmd := exec.CommandContext(ctx, s.cfg.ExecProgram, s.cfg.ExecArgs...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return
	}
	cmd.Stderr = os.Stderr
	closers.Add(stdin, stdout)

	if err := cmd.Start(); err != nil {
		if s.log != nil {
			s.log.Entry(logger.WarnLevel, "dispatch: exec start failed").ErrorAdd(true, err).Log()
		}
		return
	}
	defer cmd.Wait()

	sessionID := s.beginSession(conn, "exec")
	execStream := stream.NewPipe(stdout, stdin)
	stats, _ := transfer.Pump(ctx, peer, execStream, s.pumpOptions())
	s.endSession(sessionID, stats)
}

func (s *Server) handleStdioConn(ctx context.Context, conn net.Conn) {
	defer s.connDone()

	closers := mapCloser.New(ctx)
	defer closers.Close()
	closers.Add(conn)

	peer, err := wrapAccepted(ctx, s.cfg, conn)
	if err != nil {
		if s.log != nil {
			s.log.Entry(logger.WarnLevel, "dispatch: wrap failed").ErrorAdd(true, err).Log()
		}
		return
	}
	closers.Add(peer)

	sessionID := s.beginSession(conn, "stdio")
	local := stream.NewPipe(os.Stdin, os.Stdout)
	stats, _ := transfer.Pump(ctx, peer, local, s.pumpOptions())
	s.endSession(sessionID, stats)
}

// beginSession reports a session start to the observer, if any, and
// returns the session id endSession needs to close it out; it returns
// "" when no observer is installed so endSession becomes a no-op.
func (s *Server) beginSession(conn net.Conn, mode string) string {
	if s.observer == nil {
		return ""
	}
	id := s.nextSessionID()
	if err := s.observer.Start(id, conn.RemoteAddr().String(), mode); err != nil && s.log != nil {
		s.log.Entry(logger.WarnLevel, "dispatch: session observer start failed").ErrorAdd(true, err).Log()
	}
	return id
}

func (s *Server) endSession(sessionID string, stats transfer.Stats) {
	if s.observer == nil || sessionID == "" {
		return
	}
	if err := s.observer.Close(sessionID, stats.BytesAtoB, stats.BytesBtoA); err != nil && s.log != nil {
		s.log.Entry(logger.WarnLevel, "dispatch: session observer close failed").ErrorAdd(true, err).Log()
	}
}

func (s *Server) pumpOptions() transfer.Options {
	opts := transfer.Options{
		BufferSize:   s.cfg.BufferSize,
		ExecTimeout:  s.cfg.Timeouts.Execution,
		IdleTimeout:  s.cfg.Timeouts.Idle,
		ConnTimeout:  s.cfg.Timeouts.Connect,
		CloseOnEOF:   s.cfg.CloseOnEOF,
		CRLFOutbound: s.cfg.CRLFOutbound,
		MaxRate:      s.cfg.MaxRate,
		Log:          s.log,
	}
	if s.tee != nil {
		opts.Tee = s.tee
	}
	if s.hexDump != nil {
		opts.HexDump = s.hexDump
	}
	return opts
}

// Close drains and tears the server down: the listener stops accepting,
// the broker (if any) is closed, and any unix-socket path is removed.
func (s *Server) Close() error {
	s.setState(StateDraining)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	if s.broker != nil {
		s.broker.Close()
	}
	if s.cleanup != nil {
		s.cleanup()
	}
	if s.tee != nil {
		_ = s.tee.Close()
	}
	if s.hexDump != nil {
		_ = s.hexDump.Close()
	}
	s.setState(StateClosed)
	return err
}

func hostIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		return net.IPv4zero
	}
}
