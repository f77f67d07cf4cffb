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

// Package transfer implements the bidirectional transfer engine: given two
// streams A (typically the remote) and B (typically the local side), it
// pumps bytes both ways through a pair of ring buffers, cooperatively,
// applying half-close policy, timeout bookkeeping, tee/hex-dump sinks and
// optional CRLF conversion, until a terminal condition is reached.
//
// The pumping loop is grounded on the progress-tracked copy idiom in
// ioutils/ioprogress, generalized from a single io.Copy to a
// multiplexer-driven two-directional loop since timeouts and half-close
// sequencing have no single io.Reader/io.Writer pair to hand to io.Copy.
package transfer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sabouaram/netbridge/file/bandwidth"
	"github.com/sabouaram/netbridge/internal/mux"
	"github.com/sabouaram/netbridge/internal/ring"
	"github.com/sabouaram/netbridge/internal/stream"
	"github.com/sabouaram/netbridge/ioutils/ioprogress"
	libsiz "github.com/sabouaram/netbridge/size"

	"github.com/sabouaram/netbridge/logger"
)

// Options configures one Pump invocation.
type Options struct {
	BufferSize int // per-direction ring buffer capacity; 0 defaults to 32KiB
	PollBase   time.Duration

	ExecTimeout time.Duration
	IdleTimeout time.Duration
	ConnTimeout time.Duration

	// CloseOnEOF collapses half-close into an immediate full close of both
	// sides as soon as either side reaches EOF ("fire-and-forget").
	CloseOnEOF bool

	// CRLFOutbound rewrites bare LF to CRLF in bytes written to A (the
	// network side), applied before any telnet IAC escaping the stream
	// wrapper performs internally.
	CRLFOutbound bool

	Tee     Sink // best-effort copy of bytes read from either direction
	HexDump Sink // best-effort offset/hex/ascii rendering of bytes read

	// MaxRate caps the combined pump rate in bytes/second across both
	// directions; 0 disables throttling.
	MaxRate int64

	Log logger.Logger

	// OnBytes, if set, is called after every successful read with the
	// number of bytes moved in that direction (aToB true means A->B).
	OnBytes func(aToB bool, n int)
}

// Sink is a best-effort output; a write error disables it for the rest of
// the session without affecting the peer stream.
type Sink interface {
	Write(p []byte) (int, error)
}

const defaultBufferSize = 32 * 1024

// progressLogThreshold is how many cumulative bytes accumulate between
// "transfer: progress" log lines, keeping a long-running pump from
// flooding the log at the ring buffer's native chunk size.
const progressLogThreshold = 1 << 20

// discardWriteCloser adapts io.Discard to io.WriteCloser so the byte
// counter ioprogress wraps has somewhere to write that isn't the tee
// sink itself; Tee, when configured, is throttled and counted the same
// way regardless, by also flowing through sinkFor.
type discardWriteCloser struct{}

func (discardWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriteCloser) Close() error                { return nil }

// Stats reports what one Pump call moved and why it stopped.
type Stats struct {
	BytesAtoB int64
	BytesBtoA int64
	Outcome   Outcome
}

// direction is the per-direction pumping state: a ring buffer plus the
// bookkeeping needed to half-close cleanly.
type direction struct {
	buf       *ring.Buffer
	src, dst  stream.Stream
	srcEOF    bool
	dstClosed bool
	total     int64
	sink      func(p []byte)
}

// Pump bridges a and b until EOF on both sides, a fatal I/O error, a
// tripped timeout, or ctx cancellation. It never returns a non-nil error
// for a clean bilateral EOF; timeouts and fatal errors are returned via
// Stats.Outcome and the returned error respectively.
func Pump(ctx context.Context, a, b stream.Stream, opts Options) (Stats, error) {
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	pollBase := opts.PollBase
	if pollBase <= 0 {
		pollBase = 200 * time.Millisecond
	}

	tracker := NewTracker(opts.ExecTimeout, opts.IdleTimeout, opts.ConnTimeout)

	teeActive := opts.Tee != nil
	hexActive := opts.HexDump != nil
	var hexOffset int64

	// progress wraps a discard sink purely for its byte counter: every
	// direction's drainRead feeds it through sinkFor below, which lets an
	// optional rate limiter throttle the combined pump and lets a quieter
	// progress line reach the log without coupling either to whether Tee
	// is configured.
	progress := ioprogress.NewWriteCloser(discardWriteCloser{})
	defer progress.Close()

	var loggedSince int64
	reportProgress := func(n int64) {
		if opts.Log == nil {
			return
		}
		loggedSince += n
		if loggedSince >= progressLogThreshold {
			opts.Log.Entry(logger.DebugLevel, "transfer: progress").
				FieldAdd("bytes", libsiz.Size(loggedSince).String()).Log()
			loggedSince = 0
		}
	}

	if opts.MaxRate > 0 {
		limiter := bandwidth.New(libsiz.Size(opts.MaxRate))
		limiter.RegisterIncrement(progress, reportProgress)
	} else {
		progress.RegisterFctIncrement(reportProgress)
	}

	sinkFor := func(isAtoB bool) func(p []byte) {
		return func(p []byte) {
			if teeActive {
				if _, err := opts.Tee.Write(p); err != nil {
					teeActive = false
					log(opts.Log, "transfer: tee sink disabled after write error", err)
				}
			}
			if hexActive {
				if _, err := opts.HexDump.Write(renderHexDump(hexOffset, p)); err != nil {
					hexActive = false
					log(opts.Log, "transfer: hex-dump sink disabled after write error", err)
				}
				hexOffset += int64(len(p))
			}
			_, _ = progress.Write(p)
			if opts.OnBytes != nil {
				opts.OnBytes(isAtoB, len(p))
			}
		}
	}

	atob := &direction{buf: ring.New(bufSize), src: a, dst: b, sink: sinkFor(true)}
	btoa := &direction{buf: ring.New(bufSize), src: b, dst: a, sink: sinkFor(false)}

	m := mux.New()
	defer m.Close()

	ah, aok := a.Handle()
	bh, bok := b.Handle()
	if !aok || !bok {
		// One side has no single registrable descriptor — an os/exec pipe
		// pair or split stdin/stdout, where the read and write ends are
		// two different descriptors rather than one bidirectional socket.
		// The multiplexer has nothing to poll in that case, so fall back
		// to a pair of blocking goroutines instead.
		return pumpBlocking(ctx, a, b, opts)
	}

	registered := map[int]mux.Interest{}
	sync := func() {
		var wantA, wantB mux.Interest
		if !atob.srcEOF && atob.buf.Free() > 0 {
			wantA |= mux.Readable
		}
		if btoa.buf.Len() > 0 && !atob.dstClosed {
			wantA |= mux.Writable
		}
		if !btoa.srcEOF && btoa.buf.Free() > 0 {
			wantB |= mux.Readable
		}
		if atob.buf.Len() > 0 && !btoa.dstClosed {
			wantB |= mux.Writable
		}

		if cur, ok := registered[ah]; !ok || cur != wantA {
			if wantA == 0 {
				_ = m.Unregister(ah)
				delete(registered, ah)
			} else if !ok {
				_ = m.Register(ah, wantA)
				registered[ah] = wantA
			} else {
				_ = m.Modify(ah, wantA)
				registered[ah] = wantA
			}
		}
		if cur, ok := registered[bh]; !ok || cur != wantB {
			if wantB == 0 {
				_ = m.Unregister(bh)
				delete(registered, bh)
			} else if !ok {
				_ = m.Register(bh, wantB)
				registered[bh] = wantB
			} else {
				_ = m.Modify(bh, wantB)
				registered[bh] = wantB
			}
		}
	}

	drainRead := func(d *direction) error {
		for !d.srcEOF {
			dst := d.buf.WritableSlice()
			if len(dst) == 0 {
				break
			}
			n, err := d.src.Read(dst)
			if n > 0 {
				d.buf.CommitWrite(n)
				d.sink(dst[:n])
				d.total += int64(n)
				tracker.MarkActivity()
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					d.srcEOF = true
					return nil
				}
				return err
			}
			if n == 0 {
				break
			}
		}
		return nil
	}

	drainWrite := func(d *direction) error {
		for d.buf.Len() > 0 {
			src := d.buf.ReadableSlice()
			if len(src) == 0 {
				break
			}
			payload := src
			if opts.CRLFOutbound && d.dst == a {
				payload = convertCRLF(src)
			}
			n, err := d.dst.Write(payload)
			if n > 0 {
				consumed := n
				if len(payload) != len(src) {
					consumed = len(src) // CRLF expansion consumed the whole source span in one write
				}
				d.buf.Consume(consumed)
				tracker.MarkActivity()
			}
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
		}
		return nil
	}

	closeDir := func(d *direction) {
		if d.dstClosed {
			return
		}
		d.dstClosed = true
		if hc, ok := d.dst.(stream.HalfCloser); ok && !opts.CloseOnEOF {
			_ = hc.CloseWrite()
		} else {
			_ = d.dst.Close()
		}
	}

	for {
		if ctx.Err() != nil {
			return finalStats(atob, btoa, OutcomeNone), nil
		}

		if outcome := tracker.Check(); outcome != OutcomeNone {
			return finalStats(atob, btoa, outcome), outcomeError(outcome)
		}

		if atob.srcEOF && btoa.buf.Len() == 0 {
			closeDir(atob)
		}
		if btoa.srcEOF && atob.buf.Len() == 0 {
			closeDir(btoa)
		}
		if atob.srcEOF && btoa.srcEOF && atob.buf.Len() == 0 && btoa.buf.Len() == 0 {
			return finalStats(atob, btoa, OutcomeNone), nil
		}
		if opts.CloseOnEOF && (atob.srcEOF || btoa.srcEOF) {
			return finalStats(atob, btoa, OutcomeNone), nil
		}

		sync()

		timeoutMs := int(tracker.NextDeadline(pollBase).Milliseconds())
		if timeoutMs < 0 {
			timeoutMs = 0
		}

		entries, err := m.Wait(timeoutMs)
		if err != nil {
			return finalStats(atob, btoa, OutcomeNone), err
		}

		for _, e := range entries {
			if e.Handle == ah {
				if e.Ready&mux.Readable != 0 {
					if err := drainRead(atob); err != nil {
						return finalStats(atob, btoa, OutcomeNone), err
					}
				}
				if e.Ready&mux.Writable != 0 {
					if err := drainWrite(btoa); err != nil {
						return finalStats(atob, btoa, OutcomeNone), err
					}
				}
			}
			if e.Handle == bh {
				if e.Ready&mux.Readable != 0 {
					if err := drainRead(btoa); err != nil {
						return finalStats(atob, btoa, OutcomeNone), err
					}
				}
				if e.Ready&mux.Writable != 0 {
					if err := drainWrite(atob); err != nil {
						return finalStats(atob, btoa, OutcomeNone), err
					}
				}
			}
		}
	}
}

func finalStats(atob, btoa *direction, o Outcome) Stats {
	return Stats{
		BytesAtoB: atob.total,
		BytesBtoA: btoa.total,
		Outcome:   o,
	}
}

func convertCRLF(p []byte) []byte {
	out := make([]byte, 0, len(p)+len(p)/8)
	for i := 0; i < len(p); i++ {
		if p[i] == '\n' && (i == 0 || p[i-1] != '\r') {
			out = append(out, '\r', '\n')
		} else {
			out = append(out, p[i])
		}
	}
	return out
}

func log(l logger.Logger, msg string, err error) {
	if l == nil {
		return
	}
	l.Warning(msg, nil, err)
}
