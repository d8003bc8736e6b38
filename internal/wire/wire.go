// Package wire encodes the messages exchanged between stream clients and servers.
//
// Envelope layout (all integers big endian):
//
//	kind u8 | aliasLen u16 | alias | body
//
//	Hello:  empty body
//	Config: channels u16 | sampleRate u32 | frameSize u32
//	Data:   count u32 | count x f32
//
// Point-to-point streams send one Config envelope and then raw frames: concatenated
// big endian IEEE-754 float32 samples with no header.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/convert"
)

var (
	ErrProtocol    = errors.New("protocol error")
	ErrShortBuffer = fmt.Errorf("%w: short buffer", ErrProtocol)
	ErrUnknownKind = fmt.Errorf("%w: unknown message kind", ErrProtocol)
	ErrTrailing    = fmt.Errorf("%w: trailing bytes", ErrProtocol)
	ErrFrameLength = fmt.Errorf("%w: frame length is not a multiple of 4", ErrProtocol)
	ErrAliasLength = fmt.Errorf("%w: alias too long", ErrProtocol)
)

type Kind uint8

const (
	KindHello Kind = iota + 1
	KindConfig
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindConfig:
		return "config"
	case KindData:
		return "data"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

const (
	headerSize = 1 + 2
	configSize = 2 + 4 + 4
	MaxAlias   = math.MaxUint16
)

// Message is one of Hello, Config or Data.
type Message interface {
	Kind() Kind
	ClientAlias() string
}

// Hello announces a client. It resets any state the server holds for the alias.
type Hello struct {
	Alias string
}

// Config announces the stream parameters for the samples that follow.
type Config struct {
	Alias      string
	Channels   uint16
	SampleRate uint32
	FrameSize  uint32
}

// Data carries interleaved samples for an alias.
type Data struct {
	Alias   string
	Samples []float32
}

func (Hello) Kind() Kind  { return KindHello }
func (Config) Kind() Kind { return KindConfig }
func (Data) Kind() Kind   { return KindData }

func (m Hello) ClientAlias() string  { return m.Alias }
func (m Config) ClientAlias() string { return m.Alias }
func (m Data) ClientAlias() string   { return m.Alias }

// NewConfig builds a Config message from a stream config.
func NewConfig(alias string, c config.StreamConfig) Config {
	return Config{Alias: alias, Channels: c.Channels, SampleRate: c.SampleRate, FrameSize: c.FrameSize}
}

func (m Config) StreamConfig() config.StreamConfig {
	return config.StreamConfig{Channels: m.Channels, SampleRate: m.SampleRate, FrameSize: m.FrameSize}
}

// Encode serializes m into a new buffer.
func Encode(m Message) ([]byte, error) {
	return AppendEncode(nil, m)
}

// AppendEncode appends the encoding of m to dst.
func AppendEncode(dst []byte, m Message) ([]byte, error) {
	alias := m.ClientAlias()
	if len(alias) > MaxAlias {
		return dst, ErrAliasLength
	}
	dst = append(dst, byte(m.Kind()))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(alias)))
	dst = append(dst, alias...)

	switch m := m.(type) {
	case Hello:
	case Config:
		dst = binary.BigEndian.AppendUint16(dst, m.Channels)
		dst = binary.BigEndian.AppendUint32(dst, m.SampleRate)
		dst = binary.BigEndian.AppendUint32(dst, m.FrameSize)
	case Data:
		if uint64(len(m.Samples)) > math.MaxUint32 {
			return dst, fmt.Errorf("%w: too many samples", ErrProtocol)
		}
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.Samples)))
		dst = convert.AppendFloat32BE(dst, m.Samples)
	default:
		return dst, fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}
	return dst, nil
}

// PeekAlias returns the kind and alias of an envelope without decoding the body.
// It lets a receiver attribute a malformed body to its sender.
func PeekAlias(b []byte) (Kind, string, error) {
	if len(b) < headerSize {
		return 0, "", ErrShortBuffer
	}
	kind := Kind(b[0])
	n := int(binary.BigEndian.Uint16(b[1:3]))
	if len(b) < headerSize+n {
		return kind, "", ErrShortBuffer
	}
	return kind, string(b[headerSize : headerSize+n]), nil
}

// Decode parses one envelope. The whole buffer must be consumed.
func Decode(b []byte) (Message, error) {
	kind, alias, err := PeekAlias(b)
	if err != nil {
		return nil, err
	}
	body := b[headerSize+len(alias):]

	switch kind {
	case KindHello:
		if len(body) != 0 {
			return nil, ErrTrailing
		}
		return Hello{Alias: alias}, nil

	case KindConfig:
		if len(body) < configSize {
			return nil, ErrShortBuffer
		}
		if len(body) > configSize {
			return nil, ErrTrailing
		}
		return Config{
			Alias:      alias,
			Channels:   binary.BigEndian.Uint16(body[0:2]),
			SampleRate: binary.BigEndian.Uint32(body[2:6]),
			FrameSize:  binary.BigEndian.Uint32(body[6:10]),
		}, nil

	case KindData:
		if len(body) < 4 {
			return nil, ErrShortBuffer
		}
		count := uint64(binary.BigEndian.Uint32(body[0:4]))
		payload := body[4:]
		switch {
		case uint64(len(payload)) < count*4:
			return nil, ErrShortBuffer
		case uint64(len(payload)) > count*4:
			return nil, ErrTrailing
		}
		return Data{Alias: alias, Samples: convert.Float32FromBE(payload)}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(kind))
}

// EncodeSamples serializes a raw point-to-point frame.
func EncodeSamples(samples []float32) []byte {
	return convert.AppendFloat32BE(make([]byte, 0, len(samples)*4), samples)
}

// DecodeSamples parses a raw point-to-point frame.
func DecodeSamples(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, ErrFrameLength
	}
	return convert.Float32FromBE(b), nil
}

// DataOverhead is the envelope size of a Data message for alias, excluding samples.
func DataOverhead(alias string) int {
	return headerSize + len(alias) + 4
}
