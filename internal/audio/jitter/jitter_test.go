package jitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func seq(from, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(from + i)
	}
	return s
}

func TestAppendKeepsMostRecent(t *testing.T) {
	b := New(8, 4)
	assert.Zero(t, b.Append(seq(0, 6)))
	assert.Equal(t, 4, b.Append(seq(6, 6)))
	assert.Equal(t, 8, b.Len())

	out := make([]float32, 4)
	assert.True(t, b.ReadBatch(out))
	assert.Equal(t, seq(4, 4), out)
}

func TestAppendLargerThanCapacity(t *testing.T) {
	b := New(4, 2)
	b.Append(seq(0, 2))
	b.Append(seq(10, 6))
	assert.Equal(t, 4, b.Len())

	out := make([]float32, 2)
	b.ReadBatch(out)
	assert.Equal(t, seq(12, 2), out)
	dropped, _ := b.Stats()
	assert.Equal(t, uint64(4), dropped)
}

func TestReadBatchConsumesExactlyOneBatch(t *testing.T) {
	b := New(64, 16)
	b.Append(seq(0, 40))
	out := make([]float32, 16)
	assert.True(t, b.ReadBatch(out))
	assert.Equal(t, 24, b.Len())
}

func TestShortReadKeepsTheRest(t *testing.T) {
	b := New(64, 8)
	b.Append(seq(0, 8))

	out := make([]float32, 3)
	assert.True(t, b.ReadBatch(out))
	assert.Equal(t, seq(0, 3), out)
	assert.Equal(t, 5, b.Len())

	out = make([]float32, 8)
	assert.False(t, b.ReadBatch(out))
	assert.Equal(t, append(seq(3, 5), 0, 0, 0), out)
}

func TestLongReadConsumesOneBatch(t *testing.T) {
	b := New(64, 4)
	b.Append(seq(0, 10))

	out := make([]float32, 6)
	assert.True(t, b.ReadBatch(out))
	assert.Equal(t, append(seq(0, 4), 0, 0), out)
	assert.Equal(t, 6, b.Len())
}

func TestUnderrunZeroFills(t *testing.T) {
	b := New(16, 4)
	b.Append([]float32{1, 2})
	out := []float32{9, 9, 9, 9}
	assert.False(t, b.ReadBatch(out))
	assert.Equal(t, []float32{1, 2, 0, 0}, out)
	assert.Zero(t, b.Len())

	_, underruns := b.Stats()
	assert.Equal(t, uint64(1), underruns)
}

func TestTryReadBatchSilenceOnContention(t *testing.T) {
	b := New(16, 4)
	b.Append(seq(1, 8))

	b.mu.Lock()
	out := []float32{9, 9, 9, 9}
	assert.False(t, b.TryReadBatch(out))
	b.mu.Unlock()

	assert.Equal(t, []float32{0, 0, 0, 0}, out)
	assert.Equal(t, 8, b.Len())

	assert.True(t, b.TryReadBatch(out))
	assert.Equal(t, seq(1, 4), out)
}

func TestScenarioTenFramesTwoTicks(t *testing.T) {
	b := New(512*8, 512)
	for i := 0; i < 10; i++ {
		b.Append(seq(i*128, 128))
	}
	out := make([]float32, 512)
	assert.True(t, b.ReadBatch(out))
	assert.Equal(t, seq(0, 512), out)
	assert.True(t, b.ReadBatch(out))
	assert.Equal(t, seq(512, 512), out)
	assert.Equal(t, 256, b.Len())
}
