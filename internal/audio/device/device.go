// Package device models audio endpoints and the backends that enumerate them.
package device

import (
	"errors"
	"fmt"
	"strings"

	"remoteio/internal/audio/config"
)

var (
	ErrDevice   = errors.New("device error")
	ErrNotFound = fmt.Errorf("%w: no such device", ErrDevice)
)

type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Device is a named audio endpoint. Two devices are the same device when their
// normalized names match.
type Device struct {
	Name      string    `json:"name"`
	Direction Direction `json:"-"`
	Default   bool      `json:"default"`
	// Handle is backend specific (malgo device id, file path, ...).
	Handle any `json:"-"`
}

func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (d Device) Key() string { return Normalize(d.Name) }

func (d Device) Equal(o Device) bool { return d.Key() == o.Key() }

func (d Device) IsZero() bool { return d.Name == "" }

func (d Device) String() string { return d.Name }

// InputCallback receives interleaved samples captured by an input stream. It runs on
// the realtime audio thread and must not block. samples is only valid for the
// duration of the call.
type InputCallback func(samples []float32)

// OutputCallback fills out with interleaved samples. It runs on the realtime audio
// thread and must not block.
type OutputCallback func(out []float32)

// Stream is a running or paused device stream. Streams are built paused.
type Stream interface {
	Play() error
	Pause() error
	// Close releases the stream. It implies Pause and is safe to call twice.
	Close() error
}

// Registry enumerates devices and builds streams against them.
type Registry interface {
	InputDevices() ([]Device, error)
	OutputDevices() ([]Device, error)
	DefaultInput() (Device, error)
	DefaultOutput() (Device, error)
	DefaultInputConfig(d Device) (config.StreamConfig, error)
	DefaultOutputConfig(d Device) (config.StreamConfig, error)
	BuildInputStream(d Device, cfg config.StreamConfig, cb InputCallback) (Stream, error)
	BuildOutputStream(d Device, cfg config.StreamConfig, cb OutputCallback) (Stream, error)
}

// FindInput resolves an input device by case-insensitive name.
func FindInput(reg Registry, name string) (Device, error) {
	devs, err := reg.InputDevices()
	if err != nil {
		return Device{}, err
	}
	return NewTable(devs).Lookup(name)
}

// FindOutput resolves an output device by case-insensitive name.
func FindOutput(reg Registry, name string) (Device, error) {
	devs, err := reg.OutputDevices()
	if err != nil {
		return Device{}, err
	}
	return NewTable(devs).Lookup(name)
}

// ResolveInput returns the named input, or the default input when name is empty.
func ResolveInput(reg Registry, name string) (Device, error) {
	if strings.TrimSpace(name) == "" {
		return reg.DefaultInput()
	}
	return FindInput(reg, name)
}

// ResolveOutput returns the named output, or the default output when name is empty.
func ResolveOutput(reg Registry, name string) (Device, error) {
	if strings.TrimSpace(name) == "" {
		return reg.DefaultOutput()
	}
	return FindOutput(reg, name)
}
