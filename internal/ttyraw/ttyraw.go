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

// Package ttyraw scopes the acquisition of local terminal raw mode (for
// interactive telnet client sessions where ECHO is driven by the remote
// side) with guaranteed restoration on every exit path, including abnormal
// ones.
package ttyraw

import (
	"os"

	"golang.org/x/term"
)

// Session holds a terminal's saved state for the duration of a raw-mode
// acquisition.
type Session struct {
	fd    int
	state *term.State
}

// Acquire puts the given file (normally os.Stdin) into raw mode and
// returns a Session whose Restore must be deferred immediately by the
// caller, so restoration happens on every return path.
func Acquire(f *os.File) (*Session, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotATerminal
	}

	st, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}

	return &Session{fd: fd, state: st}, nil
}

// Restore returns the terminal to its prior state. Safe to call multiple
// times; only the first call has effect.
func (s *Session) Restore() error {
	if s == nil || s.state == nil {
		return nil
	}
	err := term.Restore(s.fd, s.state)
	s.state = nil
	return err
}

// Size returns the current terminal width/height, for NAWS negotiation.
func Size(f *os.File) (width, height int, err error) {
	return term.GetSize(int(f.Fd()))
}
