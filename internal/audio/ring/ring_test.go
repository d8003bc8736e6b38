package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopOrder(t *testing.T) {
	b := New(3)
	assert.True(t, b.Push(1))
	assert.True(t, b.Push(2))
	assert.True(t, b.Push(3))
	// full: newest sample is dropped
	assert.False(t, b.Push(4))
	assert.Equal(t, uint64(1), b.Overruns())

	for _, want := range []float32{1, 2, 3} {
		got, ok := b.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	got, ok := b.Pop()
	assert.False(t, ok)
	assert.Equal(t, float32(0), got)
	assert.Equal(t, uint64(1), b.Underruns())
}

func TestCapacityIsExact(t *testing.T) {
	b := New(5)
	assert.Equal(t, 5, b.Cap())
	dropped := b.Write([]float32{1, 2, 3, 4, 5, 6, 7})
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 5, b.Len())
}

func TestReadZeroFills(t *testing.T) {
	b := New(8)
	b.Write([]float32{0.5, 0.25})
	out := []float32{9, 9, 9, 9}
	missing := b.Read(out)
	assert.Equal(t, 2, missing)
	assert.Equal(t, []float32{0.5, 0.25, 0, 0}, out)
	assert.Equal(t, 0, b.Len())
}

func TestWrapAround(t *testing.T) {
	b := New(4)
	out := make([]float32, 3)
	for round := 0; round < 10; round++ {
		base := float32(round * 3)
		require.Zero(t, b.Write([]float32{base, base + 1, base + 2}))
		require.Zero(t, b.Read(out))
		assert.Equal(t, []float32{base, base + 1, base + 2}, out)
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 100000
	b := New(256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if b.Push(float32(i)) {
				i++
			}
		}
	}()

	next := float32(0)
	for next < total {
		if s, ok := b.Pop(); ok {
			require.Equal(t, next, s)
			next++
		}
	}
	wg.Wait()
}
