package playback

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/convert"
	"remoteio/internal/audio/device"
)

// MalgoPlayback is an f32 playback stream on one malgo device.
type MalgoPlayback struct {
	device *malgo.Device
	mu     sync.Mutex
	closed bool
}

// NewMalgoPlayback opens a paused playback stream. id may be nil for the backend's
// default device.
func NewMalgoPlayback(ctx malgo.Context, id unsafe.Pointer, cfg config.StreamConfig, cb device.OutputCallback) (*MalgoPlayback, error) {
	playCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	playCfg.Playback.Format = malgo.FormatF32
	playCfg.Playback.Channels = uint32(cfg.Channels)
	playCfg.Playback.DeviceID = id
	playCfg.SampleRate = cfg.SampleRate
	playCfg.PeriodSizeInFrames = cfg.FrameSize

	if runtime.GOOS == "linux" {
		playCfg.Alsa.NoMMap = 1
	}

	channels := int(cfg.Channels)
	samples := make([]float32, cfg.BatchSamples())
	onPlay := func(pOutputSamples, _ []byte, frameCount uint32) {
		n := int(frameCount) * channels
		if n > cap(samples) {
			samples = make([]float32, n)
		}
		cb(samples[:n])
		written := convert.Float32ToBytes(pOutputSamples, samples[:n])

		// Fill remaining buffer with silence if needed
		clear(pOutputSamples[written*4:])
	}

	dev, err := malgo.InitDevice(ctx, playCfg, malgo.DeviceCallbacks{Data: onPlay})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open playback device: %w", device.ErrDevice, err)
	}
	return &MalgoPlayback{device: dev}, nil
}

func (mp *MalgoPlayback) Play() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.closed {
		return fmt.Errorf("%w: playback stream closed", device.ErrDevice)
	}
	if err := mp.device.Start(); err != nil {
		return fmt.Errorf("%w: failed to start playback device: %w", device.ErrDevice, err)
	}
	return nil
}

func (mp *MalgoPlayback) Pause() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.closed || !mp.device.IsStarted() {
		return nil
	}
	if err := mp.device.Stop(); err != nil {
		return fmt.Errorf("%w: failed to stop playback device: %w", device.ErrDevice, err)
	}
	return nil
}

func (mp *MalgoPlayback) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.closed {
		return nil
	}
	mp.closed = true
	mp.device.Uninit()
	return nil
}
