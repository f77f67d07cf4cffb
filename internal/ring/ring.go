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

// Package ring implements a fixed-capacity byte ring buffer with a
// contiguous-slice API, used as the per-direction staging buffer between
// the multiplexer and the transfer engine.
package ring

import "sync"

// Buffer is a single-producer/single-consumer byte ring. The producer calls
// WritableSlice/CommitWrite, the consumer calls ReadableSlice/Consume; no
// locking is required between producer and consumer, but Buffer also
// exposes a mutex-guarded Stats() for cross-goroutine introspection (the
// transfer engine's status reporting reads stats from a different
// goroutine than the one pumping bytes).
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	r, w     int64 // read/write indices, wider domain than capacity to dodge wrap-around overflow
	cap      int64
	high     int64
	overflow bool
}

// New allocates a ring buffer with the given capacity in bytes.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		data: make([]byte, capacity),
		cap:  int64(capacity),
	}
}

func (b *Buffer) len() int64 {
	return b.w - b.r
}

// Len returns the number of unread bytes currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.len())
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int {
	return int(b.cap)
}

// Free returns the number of bytes that can still be written.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.cap - b.len())
}

// WritableSlice returns the first contiguous span available for writing. If
// the ring is about to wrap, this may be shorter than Free(); callers that
// must fill the buffer loop, calling CommitWrite then WritableSlice again.
func (b *Buffer) WritableSlice() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	free := b.cap - b.len()
	if free <= 0 {
		return nil
	}

	start := b.w % b.cap
	end := start + free
	if end > b.cap {
		end = b.cap
	}
	return b.data[start:end]
}

// CommitWrite advances the write index by n bytes, previously placed into
// the slice returned by WritableSlice. It also updates the high-water mark.
func (b *Buffer) CommitWrite(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.w += int64(n)
	if l := b.len(); l > b.high {
		b.high = l
	}
}

// ReadableSlice returns the first contiguous span available for reading.
func (b *Buffer) ReadableSlice() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := b.len()
	if l <= 0 {
		return nil
	}

	start := b.r % b.cap
	end := start + l
	if end > b.cap {
		end = b.cap
	}
	return b.data[start:end]
}

// Consume advances the read index by n bytes, previously drained from the
// slice returned by ReadableSlice.
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r += int64(n)
}

// WriteAll copies data into the ring in full, looping across the wrap
// boundary. It fails with ErrOverflow (and writes nothing) if data does not
// fit in the free space; the sticky overflow flag is then set.
func (b *Buffer) WriteAll(data []byte) error {
	b.mu.Lock()
	free := b.cap - b.len()
	if int64(len(data)) > free {
		b.overflow = true
		b.mu.Unlock()
		return ErrOverflow
	}
	b.mu.Unlock()

	for len(data) > 0 {
		dst := b.WritableSlice()
		n := copy(dst, data)
		b.CommitWrite(n)
		data = data[n:]
	}
	return nil
}

// ReadInto copies as many buffered bytes as fit into dst, looping across
// the wrap boundary, and returns the number of bytes copied.
func (b *Buffer) ReadInto(dst []byte) int {
	total := 0
	for len(dst) > 0 {
		src := b.ReadableSlice()
		if len(src) == 0 {
			break
		}
		n := copy(dst, src)
		b.Consume(n)
		dst = dst[n:]
		total += n
	}
	return total
}

// Reset empties the buffer without touching the overflow flag or high-water
// mark.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r, b.w = 0, 0
}

// Overflowed reports whether a WriteAll has ever been rejected since the
// last ClearOverflow.
func (b *Buffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}

// ClearOverflow resets the sticky overflow flag.
func (b *Buffer) ClearOverflow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overflow = false
}

// HighWater returns the largest length this buffer has held since the last
// Reset; Reset does not clear it (only construction does), matching the
// invariant that the mark tracks max observed length since last reset of
// the mark itself via ResetHighWater.
func (b *Buffer) HighWater() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.high)
}

// ResetHighWater zeroes the high-water mark.
func (b *Buffer) ResetHighWater() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.high = 0
}
