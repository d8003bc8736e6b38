package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencySamples(t *testing.T) {
	cfg := StreamConfig{Channels: 2, SampleRate: 48000, FrameSize: 1024}
	assert.Equal(t, 14400, cfg.LatencySamples(BridgeLatency))
	assert.Equal(t, 2048, cfg.BatchSamples())
	assert.Equal(t, 1024*time.Second/48000, cfg.FramePeriod())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  StreamConfig
		ok   bool
	}{
		{"default", Default(), true},
		{"no channels", StreamConfig{SampleRate: 1, FrameSize: 1}, false},
		{"no rate", StreamConfig{Channels: 1, FrameSize: 1}, false},
		{"no frame", StreamConfig{Channels: 1, SampleRate: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
