package convert

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBigEndianLayout(t *testing.T) {
	b := AppendFloat32BE(nil, []float32{1.0})
	// 1.0 = 0x3f800000
	assert.Equal(t, []byte{0x3f, 0x80, 0x00, 0x00}, b)

	out := Float32FromBE(AppendFloat32BE(nil, []float32{0.5, -0.25, float32(math.Inf(1))}))
	assert.Equal(t, []float32{0.5, -0.25, float32(math.Inf(1))}, out)

	assert.Equal(t, []float32{}, Float32FromBE(nil))
}

func TestHostOrderConversion(t *testing.T) {
	src := []float32{0.1, -0.9, 0}
	buf := make([]byte, len(src)*4)
	require.Equal(t, 3, Float32ToBytes(buf, src))

	dst := make([]float32, 3)
	require.Equal(t, 3, BytesToFloat32(dst, buf))
	assert.Equal(t, src, dst)

	// partial trailing sample is ignored
	assert.Equal(t, 1, BytesToFloat32(dst, buf[:6]))
}

func TestIntScaling(t *testing.T) {
	assert.InDelta(t, 1.0, IntToFloat32(32767, 16), 1e-6)
	assert.InDelta(t, 0.0, IntToFloat32(128, 8), 1e-6)
	assert.Equal(t, 32767, Float32ToInt(2, 16))
	assert.Equal(t, -32767, Float32ToInt(-1, 16))
	assert.Equal(t, []int16{32767, 0}, Float32ToInt16([]float32{1.5, 0}))
}
