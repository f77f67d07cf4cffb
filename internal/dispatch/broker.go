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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sabouaram/netbridge/internal/ring"
	"github.com/sabouaram/netbridge/internal/stream"
	"github.com/sabouaram/netbridge/logger"
)

// brokerEvent is what a peer's reader goroutine hands to the broker's
// single owning task; the owning task is the only thing that ever reads
// or writes the peers map, matching spec.md §5's "the broker's peer-set
// is mutated only by its owning task".
type brokerEvent struct {
	id   int
	data []byte
	err  error
}

// peer is one broker-connected stream plus its outbound ring buffer.
// The ring buffer is the backpressure mechanism spec.md §4.9 requires:
// when it is full, data bound for this peer is dropped rather than
// blocking the writer that produced it.
type peer struct {
	id     int
	label  string
	s      stream.Stream
	out    *ring.Buffer
	outMu  sync.Mutex
	notify chan struct{}
	closed int32
}

// enqueue appends data to the peer's outbound ring and wakes its writer
// goroutine; it never itself calls Write, so one congested peer's socket
// never stalls the broker's single owning fan-out pass.
func (p *peer) enqueue(data []byte, log logger.Logger) {
	p.outMu.Lock()
	err := p.out.WriteAll(data)
	p.outMu.Unlock()

	if err != nil && log != nil {
		log.Entry(logger.WarnLevel, "broker: peer outbound buffer overflow, dropping").
			FieldAdd("peer", p.label).Log()
	}

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// writeLoop is the peer's dedicated writer goroutine: it drains the
// outbound ring to the socket whenever notified, independent of the
// broker's fan-out loop.
func (p *peer) writeLoop(done <-chan struct{}) {
	for {
		select {
		case <-p.notify:
		case <-done:
			return
		}

		for {
			p.outMu.Lock()
			s := p.out.ReadableSlice()
			if len(s) == 0 {
				p.outMu.Unlock()
				break
			}
			n, err := p.s.Write(s)
			if n > 0 {
				p.out.Consume(n)
			}
			p.outMu.Unlock()
			if err != nil || n == 0 {
				return
			}
		}
	}
}

// Broker implements spec.md §4.9's fan-out: data read from any connection
// is copied to every other connection; disconnection removes a peer from
// the set and closes its stream; the source peer is never blocked by one
// slow consumer.
type Broker struct {
	chat    bool
	log     logger.Logger
	bufSize int

	mu     sync.Mutex
	peers  map[int]*peer
	nextID int32

	events   chan brokerEvent
	add      chan *peer
	done     chan struct{}
	closeOne sync.Once
}

// NewBroker builds a Broker. bufSize sizes each peer's outbound ring
// buffer (spec.md §5's "per broker peer: one outbound ring buffer").
func NewBroker(chat bool, bufSize int, log logger.Logger) *Broker {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	return &Broker{
		chat:    chat,
		log:     log,
		bufSize: bufSize,
		peers:   map[int]*peer{},
		events:  make(chan brokerEvent, 256),
		add:     make(chan *peer, 16),
		done:    make(chan struct{}),
	}
}

// Add registers s as a new broker peer and starts its reader/writer
// goroutines. Safe to call concurrently with Run.
func (b *Broker) Add(s stream.Stream) {
	id := int(atomic.AddInt32(&b.nextID, 1))
	p := &peer{
		id:     id,
		label:  fmt.Sprintf("<user %d>", id),
		s:      s,
		out:    ring.New(b.bufSize),
		notify: make(chan struct{}, 1),
	}
	b.add <- p
	go b.readLoop(p)
	go p.writeLoop(b.done)
}

func (b *Broker) readLoop(p *peer) {
	buf := make([]byte, 8*1024)
	for {
		n, err := p.s.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case b.events <- brokerEvent{id: p.id, data: cp}:
			case <-b.done:
				return
			}
		}
		if err != nil {
			select {
			case b.events <- brokerEvent{id: p.id, err: err}:
			case <-b.done:
			}
			return
		}
	}
}

// Run owns the peer set and the fan-out pass: a writer's message reaches
// every other peer's outbound ring in one pass before the next reader
// event is drained, matching spec.md §5's per-pass-deterministic ordering.
func (b *Broker) Run() {
	for {
		select {
		case <-b.done:
			return

		case p := <-b.add:
			b.mu.Lock()
			b.peers[p.id] = p
			b.mu.Unlock()
			if b.log != nil {
				b.log.Entry(logger.InfoLevel, "broker: peer joined").FieldAdd("peer", p.label).Log()
			}

		case ev := <-b.events:
			if ev.err != nil {
				b.remove(ev.id)
				continue
			}
			b.fanout(ev.id, ev.data)
		}
	}
}

func (b *Broker) fanout(srcID int, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var src *peer
	if p, ok := b.peers[srcID]; ok {
		src = p
	}

	payload := data
	if b.chat && src != nil {
		prefixed := make([]byte, 0, len(src.label)+2+len(data))
		prefixed = append(prefixed, src.label...)
		prefixed = append(prefixed, ':', ' ')
		prefixed = append(prefixed, data...)
		payload = prefixed
	}

	for id, p := range b.peers {
		if id == srcID {
			continue
		}
		p.enqueue(payload, b.log)
	}
}

func (b *Broker) remove(id int) {
	b.mu.Lock()
	p, ok := b.peers[id]
	if ok {
		delete(b.peers, id)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	if atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		_ = p.s.Close()
	}
	if b.log != nil {
		b.log.Entry(logger.InfoLevel, "broker: peer left").FieldAdd("peer", p.label).Log()
	}
}

// Close tears down every peer and stops Run. Safe to call more than once.
func (b *Broker) Close() {
	b.closeOne.Do(func() {
		close(b.done)
	})

	b.mu.Lock()
	ids := make([]int, 0, len(b.peers))
	for id := range b.peers {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.remove(id)
	}
}

// Count reports the current number of connected peers, used by the
// capacity guard when select is the effective multiplexer backend.
func (b *Broker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}
