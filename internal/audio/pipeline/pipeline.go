// Package pipeline hands captured audio from a realtime callback to a network
// writer goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"remoteio/internal/audio/encoder"
	"remoteio/internal/metrics"
)

var (
	ErrEncoderNil = errors.New("encoder cannot be nil")
	ErrStopped    = errors.New("sender stopped")
)

// Writer is the sending half of a transport connection.
type Writer interface {
	Send(ctx context.Context, msg []byte) error
}

type item struct {
	samples []float32
	control []byte
}

// Sender owns the bounded queue between an input callback and the transport.
// Offer never blocks; everything that can block runs on the Run goroutine.
type Sender struct {
	w       Writer
	enc     encoder.Encoder
	queue   chan item
	alive   atomic.Bool
	quit    chan struct{}
	once    sync.Once
	logger  zerolog.Logger
	sampled zerolog.Logger
}

func NewSender(w Writer, enc encoder.Encoder, depth int, logger zerolog.Logger) (*Sender, error) {
	if enc == nil {
		return nil, ErrEncoderNil
	}
	if depth < 1 {
		depth = 1
	}
	s := &Sender{
		w:       w,
		enc:     enc,
		queue:   make(chan item, depth),
		quit:    make(chan struct{}),
		logger:  logger,
		sampled: logger.Sample(&zerolog.BurstSampler{Burst: 1, Period: time.Second}),
	}
	s.alive.Store(true)
	return s, nil
}

// Alive reports whether every send so far has succeeded.
func (s *Sender) Alive() bool { return s.alive.Load() }

// Offer copies samples into the queue. It returns false when the queue is full
// and the chunk was dropped.
func (s *Sender) Offer(samples []float32) bool {
	if len(samples) == 0 {
		return true
	}
	buf := append([]float32(nil), samples...)

	select {
	case s.queue <- item{samples: buf}:
		return true
	default:
		metrics.SendQueueDrops.Inc()
		s.sampled.Warn().Int("samples", len(samples)).Msg("Send queue full, dropping chunk")
		return false
	}
}

// Control queues an already encoded message behind any pending audio. Unlike
// Offer it waits for room.
func (s *Sender) Control(ctx context.Context, msg []byte) error {
	select {
	case s.queue <- item{control: msg}:
		return nil
	case <-s.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run sends queued chunks until ctx is cancelled or Stop is called. A failed send
// marks the sender dead; later chunks are discarded without sending.
func (s *Sender) Run(ctx context.Context) {
	defer s.logger.Debug().Msg("Sending pipeline stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case it := <-s.queue:
			s.handle(ctx, it)
		}
	}
}

func (s *Sender) handle(ctx context.Context, it item) {
	if !s.alive.Load() {
		return
	}

	msgs := [][]byte{it.control}
	if it.control == nil {
		var err error
		msgs, err = s.enc.Encode(it.samples)
		if err != nil {
			s.sampled.Error().Err(err).Msg("Encode failed")
			return
		}
	}

	for _, m := range msgs {
		if err := s.w.Send(ctx, m); err != nil {
			metrics.SendFailures.Inc()
			s.MarkDead(err)
			return
		}
	}
	if it.samples != nil {
		metrics.SentSamples.Add(float64(len(it.samples)))
	}
}

// MarkDead flips the sender to dead. It cannot be revived.
func (s *Sender) MarkDead(err error) {
	if s.alive.CompareAndSwap(true, false) {
		s.logger.Error().Err(err).Msg("Connection marked dead")
	}
}

// Stop ends Run. Queued chunks are discarded.
func (s *Sender) Stop() {
	s.once.Do(func() { close(s.quit) })
}

func (s *Sender) String() string {
	return fmt.Sprintf("sender(queued=%d/%d alive=%t)", len(s.queue), cap(s.queue), s.Alive())
}
