package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultChannels   = 2
	DefaultSampleRate = 48000
	DefaultFrameSize  = 1024

	// StreamFrameSize is the fixed frame size a client announces in its Config message.
	StreamFrameSize = 4096
	// PacketFrameSize is the playback batch used by the alias-multiplexed datagram server.
	PacketFrameSize = 512

	// BridgeLatency is the target latency of a local device bridge.
	BridgeLatency = 150 * time.Millisecond

	// JitterBatches is the default JitterBuffer capacity in playback batches.
	JitterBatches = 8
)

var ErrInvalidConfig = errors.New("invalid stream config")

// StreamConfig describes the shape of an audio stream. Samples are interleaved float32.
type StreamConfig struct {
	Channels   uint16 `json:"channels"`
	SampleRate uint32 `json:"sample_rate"`
	FrameSize  uint32 `json:"frame_size"`
}

func Default() StreamConfig {
	return StreamConfig{
		Channels:   DefaultChannels,
		SampleRate: DefaultSampleRate,
		FrameSize:  DefaultFrameSize,
	}
}

func (c StreamConfig) Validate() error {
	switch {
	case c.Channels == 0:
		return fmt.Errorf("%w: zero channels", ErrInvalidConfig)
	case c.SampleRate == 0:
		return fmt.Errorf("%w: zero sample rate", ErrInvalidConfig)
	case c.FrameSize == 0:
		return fmt.Errorf("%w: zero frame size", ErrInvalidConfig)
	}
	return nil
}

// BatchSamples is the number of interleaved samples in one frame period.
func (c StreamConfig) BatchSamples() int {
	return int(c.FrameSize) * int(c.Channels)
}

// LatencySamples converts a duration into an interleaved sample count.
func (c StreamConfig) LatencySamples(d time.Duration) int {
	return int(d.Seconds() * float64(c.SampleRate) * float64(c.Channels))
}

// FramePeriod is the wall-clock duration of one frame.
func (c StreamConfig) FramePeriod() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.FrameSize) * time.Second / time.Duration(c.SampleRate)
}

// WithFrameSize returns a copy with the frame size replaced.
func (c StreamConfig) WithFrameSize(n uint32) StreamConfig {
	c.FrameSize = n
	return c
}

func (c StreamConfig) String() string {
	return fmt.Sprintf("%dch/%dHz/%d", c.Channels, c.SampleRate, c.FrameSize)
}
