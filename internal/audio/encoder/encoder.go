// Package encoder turns captured sample chunks into transport messages.
package encoder

import (
	"remoteio/internal/wire"
)

type Encoder interface {
	// Encode splits samples into one or more messages that each fit the transport.
	Encode(samples []float32) ([][]byte, error)
}

// New returns the encoder for a client mode: raw frames when alias framing is off,
// Data envelopes otherwise. maxMessage is the transport message limit in bytes,
// zero meaning unlimited.
func New(enveloped bool, alias string, maxMessage int) Encoder {
	if enveloped {
		return NewEnvelope(alias, maxMessage)
	}
	return NewRaw(maxMessage)
}

// Raw emits headerless big endian frames.
type Raw struct {
	maxSamples int
}

func NewRaw(maxMessage int) *Raw {
	return &Raw{maxSamples: maxMessage / 4}
}

func (e *Raw) Encode(samples []float32) ([][]byte, error) {
	chunks := split(samples, e.maxSamples)
	out := make([][]byte, len(chunks))
	for i, c := range chunks {
		out[i] = wire.EncodeSamples(c)
	}
	return out, nil
}

// Envelope emits alias-tagged Data messages.
type Envelope struct {
	alias      string
	maxSamples int
}

func NewEnvelope(alias string, maxMessage int) *Envelope {
	max := 0
	if maxMessage > 0 {
		max = (maxMessage - wire.DataOverhead(alias)) / 4
		if max < 1 {
			max = 1
		}
	}
	return &Envelope{alias: alias, maxSamples: max}
}

func (e *Envelope) Encode(samples []float32) ([][]byte, error) {
	chunks := split(samples, e.maxSamples)
	out := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		b, err := wire.Encode(wire.Data{Alias: e.alias, Samples: c})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func split(samples []float32, max int) [][]float32 {
	if max <= 0 || len(samples) <= max {
		return [][]float32{samples}
	}
	chunks := make([][]float32, 0, (len(samples)+max-1)/max)
	for len(samples) > max {
		chunks = append(chunks, samples[:max])
		samples = samples[max:]
	}
	return append(chunks, samples)
}
