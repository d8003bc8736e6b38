// Package host binds the device registry to the system audio backend through
// miniaudio.
package host

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"remoteio/internal/audio/capture"
	"remoteio/internal/audio/config"
	"remoteio/internal/audio/device"
	"remoteio/internal/audio/playback"
)

// Registry enumerates system devices. It owns one malgo context.
type Registry struct {
	ctx    *malgo.AllocatedContext
	logger zerolog.Logger

	mu  sync.Mutex
	ids map[malgo.DeviceID]unsafe.Pointer
}

func New() (*Registry, error) {
	logger := log.With().Str("component", "host").Logger()
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug().Str("msg", msg).Msg("Malgo context message")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to init malgo context: %w", device.ErrDevice, err)
	}
	return &Registry{
		ctx:    ctx,
		logger: logger,
		ids:    make(map[malgo.DeviceID]unsafe.Pointer),
	}, nil
}

func (r *Registry) Close() error {
	err := r.ctx.Uninit()
	r.ctx.Free()
	return err
}

func (r *Registry) InputDevices() ([]device.Device, error) {
	return r.devices(malgo.Capture, device.Input)
}

func (r *Registry) OutputDevices() ([]device.Device, error) {
	return r.devices(malgo.Playback, device.Output)
}

func (r *Registry) devices(kind malgo.DeviceType, dir device.Direction) ([]device.Device, error) {
	infos, err := r.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate %s devices: %w", device.ErrDevice, dir, err)
	}
	devs := make([]device.Device, 0, len(infos))
	for _, info := range infos {
		devs = append(devs, device.Device{
			Name:      info.Name(),
			Direction: dir,
			Default:   info.IsDefault != 0,
			Handle:    info.ID,
		})
	}
	return devs, nil
}

func (r *Registry) DefaultInput() (device.Device, error) {
	return r.defaultDevice(r.InputDevices)
}

func (r *Registry) DefaultOutput() (device.Device, error) {
	return r.defaultDevice(r.OutputDevices)
}

func (r *Registry) defaultDevice(list func() ([]device.Device, error)) (device.Device, error) {
	devs, err := list()
	if err != nil {
		return device.Device{}, err
	}
	for _, d := range devs {
		if d.Default {
			return d, nil
		}
	}
	if len(devs) == 0 {
		return device.Device{}, fmt.Errorf("%w: no devices", device.ErrNotFound)
	}
	return devs[0], nil
}

func (r *Registry) DefaultInputConfig(d device.Device) (config.StreamConfig, error) {
	return r.defaultConfig(malgo.Capture, d)
}

func (r *Registry) DefaultOutputConfig(d device.Device) (config.StreamConfig, error) {
	return r.defaultConfig(malgo.Playback, d)
}

// defaultConfig picks the device's first native format. Backends that report no
// formats get the package defaults, which miniaudio converts as needed.
func (r *Registry) defaultConfig(kind malgo.DeviceType, d device.Device) (config.StreamConfig, error) {
	id, ok := d.Handle.(malgo.DeviceID)
	if !ok {
		return config.StreamConfig{}, fmt.Errorf("%w: %q is not a host device", device.ErrDevice, d.Name)
	}
	info, err := r.ctx.DeviceInfo(kind, id, malgo.Shared)
	if err != nil {
		return config.StreamConfig{}, fmt.Errorf("%w: query %q: %w", device.ErrDevice, d.Name, err)
	}

	cfg := config.Default()
	for _, f := range info.Formats {
		if f.Channels == 0 || f.SampleRate == 0 {
			continue
		}
		cfg.Channels = uint16(f.Channels)
		cfg.SampleRate = f.SampleRate
		break
	}
	return cfg, nil
}

func (r *Registry) BuildInputStream(d device.Device, cfg config.StreamConfig, cb device.InputCallback) (device.Stream, error) {
	id, err := r.pointer(d)
	if err != nil {
		return nil, err
	}
	s, err := capture.NewMalgoCapture(r.ctx.Context, id, cfg, cb)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("device", d.Name).Str("config", cfg.String()).Msg("Capture stream built")
	return s, nil
}

func (r *Registry) BuildOutputStream(d device.Device, cfg config.StreamConfig, cb device.OutputCallback) (device.Stream, error) {
	id, err := r.pointer(d)
	if err != nil {
		return nil, err
	}
	s, err := playback.NewMalgoPlayback(r.ctx.Context, id, cfg, cb)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("device", d.Name).Str("config", cfg.String()).Msg("Playback stream built")
	return s, nil
}

// pointer returns a C copy of the device id. Copies are cached for the lifetime
// of the registry.
func (r *Registry) pointer(d device.Device) (unsafe.Pointer, error) {
	id, ok := d.Handle.(malgo.DeviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a host device", device.ErrDevice, d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ids[id]
	if !ok {
		p = id.Pointer()
		r.ids[id] = p
	}
	return p, nil
}
