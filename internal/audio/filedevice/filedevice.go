// Package filedevice is a device registry backed by WAV files. Every *.wav file in
// a directory is an input device that loops its contents; every configured sink
// is an output device that records to <dir>/<sink>.wav, or to <dir>/<sink>-<n>.wav
// when that file already exists. Streams are clocked by the frame period, so a
// host without sound hardware behaves like one with it.
package filedevice

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/convert"
	"remoteio/internal/audio/device"
)

const (
	sinkBitDepth = 16
	wavPCM       = 1
	maxSinkFiles = 10000
)

type Options struct {
	Dir   string
	Sinks []string
	// SinkConfig is the default config of every sink.
	SinkConfig config.StreamConfig
	// FrameSize is reported in input default configs.
	FrameSize uint32
}

type Registry struct {
	opts   Options
	logger zerolog.Logger
}

func New(opts Options) *Registry {
	if opts.SinkConfig.Validate() != nil {
		opts.SinkConfig = config.Default()
	}
	if opts.FrameSize == 0 {
		opts.FrameSize = config.DefaultFrameSize
	}
	return &Registry{
		opts:   opts,
		logger: log.With().Str("component", "filedevice").Str("dir", opts.Dir).Logger(),
	}
}

func (r *Registry) InputDevices() ([]device.Device, error) {
	paths, err := filepath.Glob(filepath.Join(r.opts.Dir, "*.wav"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrDevice, err)
	}
	sort.Strings(paths)
	devs := make([]device.Device, 0, len(paths))
	for i, p := range paths {
		devs = append(devs, device.Device{
			Name:      strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)),
			Direction: device.Input,
			Default:   i == 0,
			Handle:    p,
		})
	}
	return devs, nil
}

func (r *Registry) OutputDevices() ([]device.Device, error) {
	devs := make([]device.Device, 0, len(r.opts.Sinks))
	for i, name := range r.opts.Sinks {
		devs = append(devs, device.Device{
			Name:      name,
			Direction: device.Output,
			Default:   i == 0,
			Handle:    filepath.Join(r.opts.Dir, name+".wav"),
		})
	}
	return devs, nil
}

func (r *Registry) DefaultInput() (device.Device, error) {
	devs, err := r.InputDevices()
	if err != nil {
		return device.Device{}, err
	}
	if len(devs) == 0 {
		return device.Device{}, fmt.Errorf("%w: no wav files in %s", device.ErrNotFound, r.opts.Dir)
	}
	return devs[0], nil
}

func (r *Registry) DefaultOutput() (device.Device, error) {
	devs, _ := r.OutputDevices()
	if len(devs) == 0 {
		return device.Device{}, fmt.Errorf("%w: no sinks configured", device.ErrNotFound)
	}
	return devs[0], nil
}

func (r *Registry) DefaultInputConfig(d device.Device) (config.StreamConfig, error) {
	path, err := handle(d)
	if err != nil {
		return config.StreamConfig{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return config.StreamConfig{}, fmt.Errorf("%w: %w", device.ErrNotFound, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return config.StreamConfig{}, fmt.Errorf("%w: %s is not a valid wav file", device.ErrDevice, path)
	}
	return config.StreamConfig{
		Channels:   dec.NumChans,
		SampleRate: dec.SampleRate,
		FrameSize:  r.opts.FrameSize,
	}, nil
}

func (r *Registry) DefaultOutputConfig(d device.Device) (config.StreamConfig, error) {
	if _, err := handle(d); err != nil {
		return config.StreamConfig{}, err
	}
	cfg := r.opts.SinkConfig
	return cfg, nil
}

func handle(d device.Device) (string, error) {
	p, ok := d.Handle.(string)
	if !ok || p == "" {
		return "", fmt.Errorf("%w: %q is not a file device", device.ErrDevice, d.Name)
	}
	return p, nil
}

// BuildInputStream loads the whole file and replays it in a loop, one frame per
// period. The requested channels and sample rate must match the file.
func (r *Registry) BuildInputStream(d device.Device, cfg config.StreamConfig, cb device.InputCallback) (device.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrDevice, err)
	}
	path, err := handle(d)
	if err != nil {
		return nil, err
	}
	samples, native, err := load(path)
	if err != nil {
		return nil, err
	}
	if native.Channels != cfg.Channels || native.SampleRate != cfg.SampleRate {
		return nil, fmt.Errorf("%w: %s is %dch/%dHz, requested %s", device.ErrDevice,
			path, native.Channels, native.SampleRate, cfg)
	}

	frame := make([]float32, cfg.BatchSamples())
	pos := 0
	tick := func() {
		for i := range frame {
			frame[i] = samples[pos]
			pos = (pos + 1) % len(samples)
		}
		cb(frame)
	}
	r.logger.Debug().Str("device", d.Name).Int("samples", len(samples)).Msg("Loaded audio file")
	return newClocked(cfg.FramePeriod(), tick, nil), nil
}

func load(path string) ([]float32, config.StreamConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, config.StreamConfig{}, fmt.Errorf("%w: %w", device.ErrNotFound, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, config.StreamConfig{}, fmt.Errorf("%w: %s is not a valid wav file", device.ErrDevice, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, config.StreamConfig{}, fmt.Errorf("%w: decode %s: %w", device.ErrDevice, path, err)
	}
	if len(buf.Data) == 0 {
		return nil, config.StreamConfig{}, fmt.Errorf("%w: %s has no samples", device.ErrDevice, path)
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = convert.IntToFloat32(v, int(dec.BitDepth))
	}
	return samples, config.StreamConfig{Channels: dec.NumChans, SampleRate: dec.SampleRate}, nil
}

// BuildOutputStream records 16-bit PCM to a new file for the sink. Existing files
// are never truncated, so every stream on a sink gets its own recording. The file
// is finalized when the stream is closed.
func (r *Registry) BuildOutputStream(d device.Device, cfg config.StreamConfig, cb device.OutputCallback) (device.Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrDevice, err)
	}
	path, err := handle(d)
	if err != nil {
		return nil, err
	}
	f, path, err := createRecording(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrDevice, err)
	}
	enc := wav.NewEncoder(f, int(cfg.SampleRate), sinkBitDepth, int(cfg.Channels), wavPCM)

	frame := make([]float32, cfg.BatchSamples())
	ibuf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: int(cfg.Channels), SampleRate: int(cfg.SampleRate)},
		Data:           make([]int, len(frame)),
		SourceBitDepth: sinkBitDepth,
	}
	logger := r.logger.With().Str("device", d.Name).Str("file", path).Logger()
	logger.Debug().Msg("Recording sink")
	tick := func() {
		cb(frame)
		for i, v := range frame {
			ibuf.Data[i] = convert.Float32ToInt(v, sinkBitDepth)
		}
		if err := enc.Write(ibuf); err != nil {
			logger.Error().Err(err).Msg("Writing sink file")
		}
	}
	finalize := func() error {
		if err := enc.Close(); err != nil {
			_ = f.Close()
			return fmt.Errorf("%w: finalize %s: %w", device.ErrDevice, path, err)
		}
		return f.Close()
	}
	return newClocked(cfg.FramePeriod(), tick, finalize), nil
}

// createRecording exclusively creates path, or the first free <base>-<n>.wav next
// to it, and returns the file with its name.
func createRecording(path string) (*os.File, string, error) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for n := 0; n < maxSinkFiles; n++ {
		p := path
		if n > 0 {
			p = fmt.Sprintf("%s-%d.wav", base, n)
		}
		f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, p, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free recording name for %s", path)
}

// clocked runs tick once per period while playing.
type clocked struct {
	period   time.Duration
	tick     func()
	finalize func() error

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func newClocked(period time.Duration, tick func(), finalize func() error) *clocked {
	if period <= 0 {
		period = time.Millisecond
	}
	return &clocked{period: period, tick: tick, finalize: finalize}
}

func (c *clocked) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: stream closed", device.ErrDevice)
	}
	if c.stop != nil {
		return nil
	}
	c.stop, c.done = make(chan struct{}), make(chan struct{})
	go c.run(c.stop, c.done)
	return nil
}

func (c *clocked) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *clocked) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseLocked()
	return nil
}

func (c *clocked) pauseLocked() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}

func (c *clocked) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.pauseLocked()
	c.closed = true
	if c.finalize != nil {
		return c.finalize()
	}
	return nil
}
