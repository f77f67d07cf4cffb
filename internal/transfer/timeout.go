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

import "time"

// Outcome is the result of a Tracker.Check call.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeExecutionExceeded
	OutcomeIdleExceeded
	OutcomeConnectionExceeded
)

// Tracker bookkeeps the three independent timeout budgets a session obeys:
// a hard execution budget from session start, an idle budget reset by any
// activity, and a connection budget that only starts counting once the
// session's first byte has moved (connection-established).
type Tracker struct {
	start       time.Time
	lastActive  time.Time
	execBudget  time.Duration
	idleBudget  time.Duration
	connBudget  time.Duration
	established bool
}

// NewTracker builds a Tracker starting now; a zero budget disables that
// particular check.
func NewTracker(execBudget, idleBudget, connBudget time.Duration) *Tracker {
	now := time.Now()
	return &Tracker{
		start:      now,
		lastActive: now,
		execBudget: execBudget,
		idleBudget: idleBudget,
		connBudget: connBudget,
	}
}

// MarkActivity records that bytes moved on either direction; it resets the
// idle clock and flags the connection as established (so the connection
// budget, if any, starts being meaningful).
func (t *Tracker) MarkActivity() {
	t.lastActive = time.Now()
	t.established = true
}

// Check evaluates all three budgets against now and returns the first one
// that has been exceeded, or OutcomeNone.
func (t *Tracker) Check() Outcome {
	now := time.Now()

	if t.execBudget > 0 && now.Sub(t.start) >= t.execBudget {
		return OutcomeExecutionExceeded
	}
	if t.idleBudget > 0 && now.Sub(t.lastActive) >= t.idleBudget {
		return OutcomeIdleExceeded
	}
	if t.established && t.connBudget > 0 && now.Sub(t.start) >= t.connBudget {
		return OutcomeConnectionExceeded
	}
	return OutcomeNone
}

// NextDeadline returns the minimum of (basePoll, remaining execution, idle,
// connection budgets), clamped to be non-negative; callers pass this as the
// multiplexer's Wait timeout so a tripped budget unblocks promptly.
func (t *Tracker) NextDeadline(basePoll time.Duration) time.Duration {
	now := time.Now()
	min := basePoll

	clamp := func(remaining time.Duration) {
		if remaining < 0 {
			remaining = 0
		}
		if remaining < min {
			min = remaining
		}
	}

	if t.execBudget > 0 {
		clamp(t.execBudget - now.Sub(t.start))
	}
	if t.idleBudget > 0 {
		clamp(t.idleBudget - now.Sub(t.lastActive))
	}
	if t.established && t.connBudget > 0 {
		clamp(t.connBudget - now.Sub(t.start))
	}
	return min
}

// outcomeError maps a tripped Outcome to the error reported to the
// dispatch core as the session's completion status.
func outcomeError(o Outcome) error {
	switch o {
	case OutcomeExecutionExceeded:
		return ErrExecTimeout
	case OutcomeIdleExceeded:
		return ErrIdleTimeout
	case OutcomeConnectionExceeded:
		return ErrConnTimeout
	}
	return nil
}
