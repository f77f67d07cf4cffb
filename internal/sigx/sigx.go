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

// Package sigx translates terminal signals into events the main loop polls
// for between multiplexer waits, rather than mutating shared state directly
// from a signal handler.
package sigx

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Event is a translated signal event.
type Event int

const (
	EventNone Event = iota
	EventInterrupt
	EventTerminate
	EventReload
	EventWindowChange
)

// Translator publishes the most recent signal as an atomically-swappable
// flag; the main loop polls Poll() between multiplexer waits instead of
// acting inside the handler goroutine.
type Translator struct {
	flag atomic.Int32
	ch   chan os.Signal
	done chan struct{}
}

// New starts listening for SIGINT/SIGTERM/SIGHUP (reload) and, on POSIX,
// SIGWINCH (window size change, used to re-emit NAWS when the telnet
// wrapper is active).
func New(ctx context.Context) *Translator {
	t := &Translator{
		ch:   make(chan os.Signal, 4),
		done: make(chan struct{}),
	}

	signal.Notify(t.ch, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, windowChangeSignal())

	go t.loop(ctx)
	return t
}

func (t *Translator) loop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			signal.Stop(t.ch)
			return
		case s := <-t.ch:
			t.flag.Store(int32(translate(s)))
		}
	}
}

func translate(s os.Signal) Event {
	switch s {
	case os.Interrupt:
		return EventInterrupt
	case syscall.SIGTERM:
		return EventTerminate
	case syscall.SIGHUP:
		return EventReload
	default:
		return EventWindowChange
	}
}

// Poll returns and clears the most recently published event, or EventNone
// if nothing arrived since the last Poll.
func (t *Translator) Poll() Event {
	return Event(t.flag.Swap(int32(EventNone)))
}

// Done returns a channel closed once the translator's goroutine has
// exited, for callers that want to wait out a clean shutdown.
func (t *Translator) Done() <-chan struct{} {
	return t.done
}
