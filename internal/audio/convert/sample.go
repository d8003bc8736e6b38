package convert

import (
	"encoding/binary"
	"math"
)

func Float32ToInt16(src []float32) []int16 {
	dst := make([]int16, len(src))
	for i, v := range src {
		dst[i] = int16(clamp(v) * 32767)
	}
	return dst
}

func Int16ToFloat32(src []int16) []float32 {
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = float32(v) / 32767.0
	}
	return dst
}

// IntToFloat32 scales a PCM integer of the given bit depth into [-1, 1].
func IntToFloat32(v, bitDepth int) float32 {
	if bitDepth <= 0 || bitDepth > 32 {
		return 0
	}
	if bitDepth == 8 {
		// 8-bit wav samples are unsigned
		return float32(v-128) / 127.0
	}
	max := float32(int64(1)<<(bitDepth-1) - 1)
	return float32(v) / max
}

// Float32ToInt scales a float sample into a PCM integer of the given bit depth.
func Float32ToInt(v float32, bitDepth int) int {
	if bitDepth == 8 {
		return int(clamp(v)*127) + 128
	}
	max := float32(int64(1)<<(bitDepth-1) - 1)
	return int(clamp(v) * max)
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	} else if v < -1 {
		return -1
	}
	return v
}

// BytesToFloat32 decodes host order (little endian) f32 samples into dst and returns
// the number of samples written. Trailing partial samples are ignored.
func BytesToFloat32(dst []float32, src []byte) int {
	n := min(len(dst), len(src)/4)
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return n
}

// Float32ToBytes encodes samples into dst in host order (little endian) and returns
// the number of samples written.
func Float32ToBytes(dst []byte, src []float32) int {
	n := min(len(src), len(dst)/4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(src[i]))
	}
	return n
}

// AppendFloat32BE appends samples in network order (big endian IEEE-754).
func AppendFloat32BE(dst []byte, src []float32) []byte {
	for _, f := range src {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst
}

// Float32FromBE decodes big endian samples. len(src) must be a multiple of 4.
// The result is never nil.
func Float32FromBE(src []byte) []float32 {
	dst := make([]float32, len(src)/4)
	for i := range dst {
		dst[i] = math.Float32frombits(binary.BigEndian.Uint32(src[i*4:]))
	}
	return dst
}
