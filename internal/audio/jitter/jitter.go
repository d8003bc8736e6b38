// Package jitter provides the bounded sample queue that absorbs network timing
// variation between a receiver and a playback callback.
package jitter

import "sync"

// Buffer is a bounded FIFO of interleaved samples. Appending past capacity drops
// the oldest samples. Playback consumes at most one batch per tick.
type Buffer struct {
	mu       sync.Mutex
	samples  []float32
	capacity int
	batch    int

	dropped   uint64
	underruns uint64
}

func New(capacity, batch int) *Buffer {
	if batch < 1 {
		batch = 1
	}
	if capacity < batch {
		capacity = batch
	}
	return &Buffer{
		samples:  make([]float32, 0, capacity),
		capacity: capacity,
		batch:    batch,
	}
}

func (b *Buffer) Cap() int   { return b.capacity }
func (b *Buffer) Batch() int { return b.batch }

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Append queues samples and returns how many old samples were discarded to keep
// the buffer within capacity.
func (b *Buffer) Append(samples []float32) (dropped int) {
	if len(samples) > b.capacity {
		dropped = len(samples) - b.capacity
		samples = samples[dropped:]
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if over := len(b.samples) + len(samples) - b.capacity; over > 0 {
		dropped += over
		n := copy(b.samples, b.samples[over:])
		b.samples = b.samples[:n]
	}
	b.samples = append(b.samples, samples...)
	b.dropped += uint64(dropped)
	return dropped
}

// ReadBatch consumes min(Batch(), len(out)) samples into the front of out. Slots
// the queue could not supply, and any slots past one batch, are zero-filled. It
// reports whether the queue supplied every sample it was asked for.
func (b *Buffer) ReadBatch(out []float32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked(out)
}

// TryReadBatch is ReadBatch for realtime callers: when the buffer is busy it writes
// silence instead of waiting and consumes nothing.
func (b *Buffer) TryReadBatch(out []float32) bool {
	if !b.mu.TryLock() {
		clear(out)
		return false
	}
	defer b.mu.Unlock()
	return b.readLocked(out)
}

func (b *Buffer) readLocked(out []float32) bool {
	want := min(b.batch, len(out))
	n := min(want, len(b.samples))
	copy(out, b.samples[:n])
	clear(out[n:])

	rest := copy(b.samples, b.samples[n:])
	b.samples = b.samples[:rest]

	if n < want {
		b.underruns++
		return false
	}
	return true
}

// Reset discards queued samples.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.samples = b.samples[:0]
	b.mu.Unlock()
}

// Stats returns the total dropped samples and underrun ticks.
func (b *Buffer) Stats() (dropped, underruns uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped, b.underruns
}
