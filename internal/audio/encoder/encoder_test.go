package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteio/internal/wire"
)

func samples(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i)
	}
	return s
}

func TestRawChunking(t *testing.T) {
	msgs, err := NewRaw(16).Encode(samples(10))
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	var got []float32
	for _, m := range msgs {
		assert.LessOrEqual(t, len(m), 16)
		s, err := wire.DecodeSamples(m)
		require.NoError(t, err)
		got = append(got, s...)
	}
	assert.Equal(t, samples(10), got)
}

func TestEnvelopeFitsLimit(t *testing.T) {
	const limit = 64
	enc := New(true, "desk", limit)
	msgs, err := enc.Encode(samples(40))
	require.NoError(t, err)

	var got []float32
	for _, m := range msgs {
		assert.LessOrEqual(t, len(m), limit)
		msg, err := wire.Decode(m)
		require.NoError(t, err)
		data := msg.(wire.Data)
		assert.Equal(t, "desk", data.Alias)
		got = append(got, data.Samples...)
	}
	assert.Equal(t, samples(40), got)
}

func TestUnlimited(t *testing.T) {
	msgs, err := New(false, "", 0).Encode(samples(5000))
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
