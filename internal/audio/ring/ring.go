// Package ring implements a lock-free single-producer single-consumer sample queue
// used to bridge two device callbacks.
package ring

import "sync/atomic"

// Buffer is a bounded SPSC FIFO of float32 samples. Exactly one goroutine may push
// and exactly one goroutine may pop. Neither side ever blocks.
type Buffer struct {
	buf  []float32
	mask uint64
	cap  uint64

	// head is advanced by the consumer, tail by the producer.
	head atomic.Uint64
	tail atomic.Uint64

	overruns  atomic.Uint64
	underruns atomic.Uint64
}

// New returns a Buffer that holds exactly capacity samples.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &Buffer{
		buf:  make([]float32, size),
		mask: size - 1,
		cap:  uint64(capacity),
	}
}

func (b *Buffer) Cap() int { return int(b.cap) }

// Len is a snapshot of the number of queued samples.
func (b *Buffer) Len() int {
	return int(b.tail.Load() - b.head.Load())
}

// Push appends s. When the buffer is full the sample is dropped and false is returned.
func (b *Buffer) Push(s float32) bool {
	tail := b.tail.Load()
	if tail-b.head.Load() >= b.cap {
		b.overruns.Add(1)
		return false
	}
	b.buf[tail&b.mask] = s
	b.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest sample. An empty buffer yields 0 and false.
func (b *Buffer) Pop() (float32, bool) {
	head := b.head.Load()
	if head == b.tail.Load() {
		b.underruns.Add(1)
		return 0, false
	}
	s := b.buf[head&b.mask]
	b.head.Store(head + 1)
	return s, true
}

// Write pushes samples in order and returns how many were dropped because the
// buffer was full.
func (b *Buffer) Write(samples []float32) (dropped int) {
	tail := b.tail.Load()
	free := b.cap - (tail - b.head.Load())
	n := uint64(len(samples))
	if n > free {
		dropped = int(n - free)
		n = free
		b.overruns.Add(uint64(dropped))
	}
	for i := uint64(0); i < n; i++ {
		b.buf[(tail+i)&b.mask] = samples[i]
	}
	b.tail.Store(tail + n)
	return dropped
}

// Read fills out with queued samples, zero-filling whatever the buffer could not
// supply, and returns the number of zero-filled slots.
func (b *Buffer) Read(out []float32) (missing int) {
	head := b.head.Load()
	avail := b.tail.Load() - head
	n := uint64(len(out))
	if n > avail {
		missing = int(n - avail)
		n = avail
		b.underruns.Add(uint64(missing))
	}
	for i := uint64(0); i < n; i++ {
		out[i] = b.buf[(head+i)&b.mask]
	}
	b.head.Store(head + n)
	clear(out[n:])
	return missing
}

// Overruns is the total number of samples dropped on push.
func (b *Buffer) Overruns() uint64 { return b.overruns.Load() }

// Underruns is the total number of samples substituted with silence on pop.
func (b *Buffer) Underruns() uint64 { return b.underruns.Load() }
