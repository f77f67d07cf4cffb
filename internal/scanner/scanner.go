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

// Package scanner implements the parallel TCP connect-probe port scanner:
// sequential, worker-pool, and io_uring backends sharing one per-probe
// contract and one result-ordering guarantee.
package scanner

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Result is one probed port's outcome.
type Result struct {
	Port int
	Open bool
}

// Options configures a Scan call. Timeout is clamped to [10ms, 60s];
// Concurrency is clamped to [1, 100] for the worker-pool backend and up to
// 512 for io_uring.
type Options struct {
	Timeout         time.Duration
	Concurrency     int
	Randomize       bool
	InterProbeDelay time.Duration
	PreferIOUring   bool

	// OnOpen, if set, is called synchronously (serialized by an internal
	// mutex) as each open port is discovered, for live progress reporting.
	OnOpen func(port int)
}

const (
	minProbeTimeout = 10 * time.Millisecond
	maxProbeTimeout = 60 * time.Second

	minConcurrency        = 1
	maxPoolConcurrency    = 100
	maxIOUringConcurrency = 512

	ioUringBatchSize = 64
)

func clampTimeout(d time.Duration) time.Duration {
	if d < minProbeTimeout {
		return minProbeTimeout
	}
	if d > maxProbeTimeout {
		return maxProbeTimeout
	}
	return d
}

func clampConcurrency(n, max int) int {
	if n < minConcurrency {
		return minConcurrency
	}
	if n > max {
		return max
	}
	return n
}

// Scan probes host on every port in ports and returns the results sorted
// numerically by port. A nil/empty ports slice returns ErrNoPorts.
func Scan(ctx context.Context, host string, ports []int, opts Options) ([]Result, error) {
	if len(ports) == 0 {
		return nil, ErrNoPorts
	}

	timeout := clampTimeout(opts.Timeout)

	work := append([]int(nil), ports...)
	if opts.Randomize {
		shuffle(work)
	}

	var (
		mu      sync.Mutex
		out     = make([]Result, 0, len(work))
		emitted = func(r Result) {
			mu.Lock()
			out = append(out, r)
			mu.Unlock()
			if r.Open && opts.OnOpen != nil {
				opts.OnOpen(r.Port)
			}
		}
	)

	switch {
	case opts.PreferIOUring && ioUringAvailable():
		runIOUring(ctx, host, work, timeout, clampConcurrency(opts.Concurrency, maxIOUringConcurrency), emitted)
	case opts.Concurrency > 1:
		runPool(ctx, host, work, timeout, clampConcurrency(opts.Concurrency, maxPoolConcurrency), opts.InterProbeDelay, emitted)
	default:
		runSequential(ctx, host, work, timeout, opts.InterProbeDelay, emitted)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func shuffle(ports []int) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	r.Shuffle(len(ports), func(i, j int) { ports[i], ports[j] = ports[j], ports[i] })
}

// runSequential probes ports one at a time on the calling goroutine.
func runSequential(ctx context.Context, host string, ports []int, timeout, delay time.Duration, emit func(Result)) {
	for _, p := range ports {
		if ctx.Err() != nil {
			return
		}
		emit(Result{Port: p, Open: probe(ctx, host, p, timeout)})
		if delay > 0 {
			time.Sleep(delay)
		}
	}
}

// runPool distributes ports across a bounded worker pool via a shared
// atomic index, matching the teacher's fan-out idiom of a shared cursor
// over a fixed slice rather than a buffered channel of work items.
func runPool(ctx context.Context, host string, ports []int, timeout, delay time.Duration, concurrency int, emit func(Result)) {
	var next int64
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for {
			idx := atomic.AddInt64(&next, 1) - 1
			if idx >= int64(len(ports)) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			p := ports[idx]
			emit(Result{Port: p, Open: probe(ctx, host, p, timeout)})
			if delay > 0 {
				time.Sleep(delay)
			}
		}
	}

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker()
	}
	wg.Wait()
}

