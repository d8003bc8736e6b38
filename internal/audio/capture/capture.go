package capture

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

// MalgoCapture is an f32 capture stream on one malgo device.
type MalgoCapture struct {
	device *malgo.Device
	cfg    config.StreamConfig
	mu     sync.Mutex
	closed bool
}

// NewMalgoCapture opens a paused capture stream. id may be nil for the backend's
// default device.
func NewMalgoCapture(ctx malgo.Context, id unsafe.Pointer, cfg config.StreamConfig, cb device.InputCallback) (*MalgoCapture, error) {
	capCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	capCfg.Capture.Format = malgo.FormatF32
	capCfg.Capture.Channels = uint32(cfg.Channels)
	capCfg.Capture.DeviceID = id
	capCfg.SampleRate = cfg.SampleRate
	capCfg.PeriodSizeInFrames = cfg.FrameSize

	// alsa specific settings for linux
	if runtime.GOOS == "linux" {
		capCfg.Alsa.NoMMap = 1
	}

	channels := int(cfg.Channels)
	samples := make([]float32, cfg.BatchSamples())
	onCapture := func(_, input []byte, frameCount uint32) {
		n := int(frameCount) * channels
		if n > cap(samples) {
			samples = make([]float32, n)
		}
		n = convert.BytesToFloat32(samples[:n], input)
		cb(samples[:n])
	}

	dev, err := malgo.InitDevice(ctx, capCfg, malgo.DeviceCallbacks{Data: onCapture})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open capture device: %w", device.ErrDevice, err)
	}
	return &MalgoCapture{device: dev, cfg: cfg}, nil
}

func (mc *MalgoCapture) Play() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed {
		return fmt.Errorf("%w: capture stream closed", device.ErrDevice)
	}
	if err := mc.device.Start(); err != nil {
		return fmt.Errorf("%w: failed to start capture device: %w", device.ErrDevice, err)
	}
	return nil
}

func (mc *MalgoCapture) Pause() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed || !mc.device.IsStarted() {
		return nil
	}
	if err := mc.device.Stop(); err != nil {
		return fmt.Errorf("%w: failed to stop capture device: %w", device.ErrDevice, err)
	}
	return nil
}

func (mc *MalgoCapture) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.closed {
		return nil
	}
	mc.closed = true
	mc.device.Uninit()
	return nil
}
