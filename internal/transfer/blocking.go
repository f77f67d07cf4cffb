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

package transfer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sabouaram/netbridge/internal/stream"
)

// pumpBlocking bridges a and b the same way Pump does — applying
// tee/hex-dump sinks, CRLF conversion and the timeout Tracker — but using
// one blocking-read goroutine per direction instead of multiplexer
// readiness, for streams with no single descriptor to register (os/exec
// pipe pairs, split stdin/stdout).
func pumpBlocking(ctx context.Context, a, b stream.Stream, opts Options) (Stats, error) {
	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}

	tracker := NewTracker(opts.ExecTimeout, opts.IdleTimeout, opts.ConnTimeout)

	teeActive := opts.Tee != nil
	hexActive := opts.HexDump != nil
	var hexMu sync.Mutex
	var hexOffset int64

	sinkFor := func(isAtoB bool) func(p []byte) {
		return func(p []byte) {
			if teeActive {
				if _, err := opts.Tee.Write(p); err != nil {
					teeActive = false
					log(opts.Log, "transfer: tee sink disabled after write error", err)
				}
			}
			if hexActive {
				hexMu.Lock()
				off := hexOffset
				hexOffset += int64(len(p))
				hexMu.Unlock()
				if _, err := opts.HexDump.Write(renderHexDump(off, p)); err != nil {
					hexActive = false
					log(opts.Log, "transfer: hex-dump sink disabled after write error", err)
				}
			}
			if opts.OnBytes != nil {
				opts.OnBytes(isAtoB, len(p))
			}
		}
	}

	var total [2]int64 // [0]=atob [1]=btoa
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex
	recordErr := func(err error) {
		if err == nil || errors.Is(err, io.EOF) {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	copyDir := func(idx int, src, dst stream.Stream, crlf bool, sink func([]byte)) {
		defer wg.Done()
		buf := make([]byte, bufSize)
		for {
			n, err := src.Read(buf)
			if n > 0 {
				p := buf[:n]
				sink(p)
				payload := p
				if crlf {
					payload = convertCRLF(p)
				}
				if _, werr := dst.Write(payload); werr != nil {
					recordErr(werr)
					return
				}
				total[idx] += int64(n)
				tracker.MarkActivity()
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					recordErr(err)
				}
				if opts.CloseOnEOF {
					_ = a.Close()
					_ = b.Close()
				} else if hc, ok := dst.(stream.HalfCloser); ok {
					_ = hc.CloseWrite()
				} else {
					_ = dst.Close()
				}
				return
			}
		}
	}

	wg.Add(2)
	go copyDir(0, a, b, opts.CRLFOutbound, sinkFor(true))
	go copyDir(1, b, a, false, sinkFor(false))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	outcome := OutcomeNone
loop:
	for {
		select {
		case <-done:
			break loop
		case <-ctx.Done():
			_ = a.Close()
			_ = b.Close()
			<-done
			break loop
		case <-ticker.C:
			if o := tracker.Check(); o != OutcomeNone {
				outcome = o
				_ = a.Close()
				_ = b.Close()
				<-done
				break loop
			}
		}
	}

	stats := Stats{BytesAtoB: total[0], BytesBtoA: total[1], Outcome: outcome}
	if outcome != OutcomeNone {
		return stats, outcomeError(outcome)
	}
	return stats, firstErr
}
