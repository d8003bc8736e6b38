package device

import (
	"fmt"
	"sync"

	"remoteio/internal/audio/config"
)

// Virtual is an in-memory Registry. Input streams are driven with Feed and output
// streams with Pull, which makes it usable wherever no hardware is present.
type Virtual struct {
	mu      sync.Mutex
	inputs  []Device
	outputs []Device
	configs map[string]config.StreamConfig
	fail    map[string]error
	streams []*virtualStream
}

func NewVirtual() *Virtual {
	return &Virtual{
		configs: make(map[string]config.StreamConfig),
		fail:    make(map[string]error),
	}
}

func virtualKey(dir Direction, name string) string {
	return dir.String() + ":" + Normalize(name)
}

// AddInput registers an input device. The first input added is the default.
func (v *Virtual) AddInput(name string, cfg config.StreamConfig) Device {
	v.mu.Lock()
	defer v.mu.Unlock()
	d := Device{Name: name, Direction: Input, Default: len(v.inputs) == 0, Handle: name}
	v.inputs = append(v.inputs, d)
	v.configs[virtualKey(Input, name)] = cfg
	return d
}

// AddOutput registers an output device. The first output added is the default.
func (v *Virtual) AddOutput(name string, cfg config.StreamConfig) Device {
	v.mu.Lock()
	defer v.mu.Unlock()
	d := Device{Name: name, Direction: Output, Default: len(v.outputs) == 0, Handle: name}
	v.outputs = append(v.outputs, d)
	v.configs[virtualKey(Output, name)] = cfg
	return d
}

// FailBuild makes every later stream build on the named device return err.
// A nil err clears the failure.
func (v *Virtual) FailBuild(name string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.fail, Normalize(name))
		return
	}
	v.fail[Normalize(name)] = err
}

func (v *Virtual) InputDevices() ([]Device, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Device(nil), v.inputs...), nil
}

func (v *Virtual) OutputDevices() ([]Device, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Device(nil), v.outputs...), nil
}

func (v *Virtual) DefaultInput() (Device, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.inputs) == 0 {
		return Device{}, fmt.Errorf("%w: no default input", ErrNotFound)
	}
	return v.inputs[0], nil
}

func (v *Virtual) DefaultOutput() (Device, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.outputs) == 0 {
		return Device{}, fmt.Errorf("%w: no default output", ErrNotFound)
	}
	return v.outputs[0], nil
}

func (v *Virtual) DefaultInputConfig(d Device) (config.StreamConfig, error) {
	return v.defaultConfig(Input, d)
}

func (v *Virtual) DefaultOutputConfig(d Device) (config.StreamConfig, error) {
	return v.defaultConfig(Output, d)
}

func (v *Virtual) defaultConfig(dir Direction, d Device) (config.StreamConfig, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cfg, ok := v.configs[virtualKey(dir, d.Name)]
	if !ok {
		return config.StreamConfig{}, fmt.Errorf("%w: %s %q", ErrNotFound, dir, d.Name)
	}
	return cfg, nil
}

func (v *Virtual) BuildInputStream(d Device, cfg config.StreamConfig, cb InputCallback) (Stream, error) {
	return v.build(Input, d, cfg, cb, nil)
}

func (v *Virtual) BuildOutputStream(d Device, cfg config.StreamConfig, cb OutputCallback) (Stream, error) {
	return v.build(Output, d, cfg, nil, cb)
}

func (v *Virtual) build(dir Direction, d Device, cfg config.StreamConfig, in InputCallback, out OutputCallback) (Stream, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.configs[virtualKey(dir, d.Name)]; !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, dir, d.Name)
	}
	if err := v.fail[d.Key()]; err != nil {
		return nil, fmt.Errorf("%w: build %s stream on %q: %w", ErrDevice, dir, d.Name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDevice, err)
	}
	s := &virtualStream{owner: v, key: virtualKey(dir, d.Name), cfg: cfg, in: in, out: out}
	v.streams = append(v.streams, s)
	return s, nil
}

// Feed delivers samples to every playing input stream of the named device and
// reports how many streams received them.
func (v *Virtual) Feed(name string, samples []float32) int {
	var targets []*virtualStream
	v.mu.Lock()
	key := virtualKey(Input, name)
	for _, s := range v.streams {
		if s.key == key && s.playing && !s.closed {
			targets = append(targets, s)
		}
	}
	v.mu.Unlock()

	for _, s := range targets {
		buf := append([]float32(nil), samples...)
		s.in(buf)
	}
	return len(targets)
}

// Pull asks every playing output stream of the named device for n samples and
// returns what each produced, in build order.
func (v *Virtual) Pull(name string, n int) [][]float32 {
	var targets []*virtualStream
	v.mu.Lock()
	key := virtualKey(Output, name)
	for _, s := range v.streams {
		if s.key == key && s.playing && !s.closed {
			targets = append(targets, s)
		}
	}
	v.mu.Unlock()

	res := make([][]float32, 0, len(targets))
	for _, s := range targets {
		buf := make([]float32, n)
		s.out(buf)
		res = append(res, buf)
	}
	return res
}

// LiveStreams counts streams on the named device that have not been closed.
func (v *Virtual) LiveStreams(name string) int {
	return v.count(name, func(s *virtualStream) bool { return !s.closed })
}

// PlayingStreams counts streams on the named device that are currently playing.
func (v *Virtual) PlayingStreams(name string) int {
	return v.count(name, func(s *virtualStream) bool { return s.playing && !s.closed })
}

// StreamConfigs returns the configs of the live streams on the named device.
func (v *Virtual) StreamConfigs(name string) []config.StreamConfig {
	v.mu.Lock()
	defer v.mu.Unlock()
	var res []config.StreamConfig
	for _, s := range v.streams {
		if !s.closed && (s.key == virtualKey(Input, name) || s.key == virtualKey(Output, name)) {
			res = append(res, s.cfg)
		}
	}
	return res
}

func (v *Virtual) count(name string, pred func(*virtualStream) bool) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, s := range v.streams {
		if (s.key == virtualKey(Input, name) || s.key == virtualKey(Output, name)) && pred(s) {
			n++
		}
	}
	return n
}

type virtualStream struct {
	owner   *Virtual
	key     string
	cfg     config.StreamConfig
	in      InputCallback
	out     OutputCallback
	playing bool
	closed  bool
}

func (s *virtualStream) Play() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: stream closed", ErrDevice)
	}
	s.playing = true
	return nil
}

func (s *virtualStream) Pause() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	s.playing = false
	return nil
}

func (s *virtualStream) Close() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	s.playing = false
	s.closed = true
	return nil
}
