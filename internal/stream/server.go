package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/device"
	"remoteio/internal/metrics"
	"remoteio/internal/transport"
	"remoteio/internal/wire"
)

type ServerOptions struct {
	// Output is the playback device. The registry default is used when zero.
	Output device.Device
	// JitterBatches is the jitter buffer capacity in playback batches.
	JitterBatches int
	// PacketFrameSize is the playback batch for aliases announced by Hello.
	PacketFrameSize uint32
	// IdleTimeout marks datagram aliases dead after this much silence. Zero disables it.
	IdleTimeout time.Duration
	Logger      *zerolog.Logger
}

// Server plays every connected client on one output device.
type Server struct {
	registry device.Registry
	opts     ServerOptions
	table    *table
	logger   zerolog.Logger
	sampled  zerolog.Logger

	mu     sync.Mutex
	output device.Device

	wg sync.WaitGroup
}

func NewServer(reg device.Registry, opts ServerOptions) (*Server, error) {
	if opts.JitterBatches <= 0 {
		opts.JitterBatches = config.JitterBatches
	}
	if opts.PacketFrameSize == 0 {
		opts.PacketFrameSize = config.PacketFrameSize
	}
	logger := log.With().Str("component", "server").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	out := opts.Output
	if out.IsZero() {
		var err error
		if out, err = reg.DefaultOutput(); err != nil {
			return nil, fmt.Errorf("default output: %w", err)
		}
	}

	return &Server{
		registry: reg,
		opts:     opts,
		table:    newTable(),
		logger:   logger,
		sampled:  logger.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Second}),
		output:   out,
	}, nil
}

func (s *Server) OutputDevice() device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// ServeListener accepts point-to-point connections until ctx is done or the
// listener is closed.
func (s *Server) ServeListener(ctx context.Context, ln transport.Listener) error {
	s.logger.Info().Str("addr", ln.Addr()).Msg("Accepting stream connections")
	for {
		c, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, c)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, c transport.Conn) {
	remote := c.RemoteAddr()
	logger := s.logger.With().Str("remote", remote).Logger()

	cfg, alias, err := s.handshake(ctx, c)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejecting connection")
		_ = c.Close()
		return
	}

	conn := newConnection(remote, alias, remote, c, s.logger)
	if err := conn.bind(s.registry, s.OutputDevice(), cfg, s.opts.JitterBatches, false); err != nil {
		logger.Error().Err(err).Msg("Failed to open output stream")
		_ = c.Close()
		return
	}
	s.register(conn)

	for {
		msg, err := c.Receive(ctx)
		if err != nil {
			conn.markDead(err)
			return
		}
		samples, err := wire.DecodeSamples(msg)
		if err != nil {
			metrics.DecodeErrors.Inc()
			conn.markDead(err)
			_ = c.Close()
			return
		}
		conn.push(samples)
	}
}

// handshake reads the first message, which must be a Config.
func (s *Server) handshake(ctx context.Context, c transport.Conn) (config.StreamConfig, string, error) {
	msg, err := c.Receive(ctx)
	if err != nil {
		return config.StreamConfig{}, "", err
	}
	m, err := wire.Decode(msg)
	if err != nil {
		metrics.DecodeErrors.Inc()
		return config.StreamConfig{}, "", err
	}
	cm, ok := m.(wire.Config)
	if !ok {
		return config.StreamConfig{}, "", fmt.Errorf("%w: first message is %s", ErrUnexpectedMessage, m.Kind())
	}
	cfg := cm.StreamConfig()
	if err := cfg.Validate(); err != nil {
		return config.StreamConfig{}, "", fmt.Errorf("%w: %w", wire.ErrProtocol, err)
	}
	return cfg, cm.Alias, nil
}

func (s *Server) register(c *Connection) {
	if old := s.table.put(c); old != nil && old != c {
		old.markDead(errors.New("replaced"))
		old.teardown()
	}
	metrics.ConnectionsActive.Set(float64(s.table.len()))
	c.logger.Info().Str("remote", c.Info().Remote).Msg("Client connected")
}

// ServePackets reads alias-tagged envelopes until ctx is done or pl is closed.
func (s *Server) ServePackets(ctx context.Context, pl transport.PacketListener) error {
	s.logger.Info().Str("addr", pl.Addr()).Msg("Accepting datagrams")
	for {
		msg, from, err := pl.ReadFrom(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		s.handlePacket(msg, from)
	}
}

func (s *Server) handlePacket(msg []byte, from string) {
	m, err := wire.Decode(msg)
	if err != nil {
		metrics.DecodeErrors.Inc()
		if _, alias, perr := wire.PeekAlias(msg); perr == nil {
			if c, ok := s.table.get(alias); ok {
				c.markDead(err)
			}
		}
		s.sampled.Warn().Err(err).Str("from", from).Msg("Dropping malformed datagram")
		return
	}

	alias := m.ClientAlias()
	switch m := m.(type) {
	case wire.Hello:
		cfg, err := s.registry.DefaultOutputConfig(s.OutputDevice())
		if err != nil {
			s.logger.Error().Err(err).Str("alias", alias).Msg("Output config unavailable")
			return
		}
		s.open(alias, from, cfg.WithFrameSize(s.opts.PacketFrameSize))

	case wire.Config:
		cfg := m.StreamConfig()
		if err := cfg.Validate(); err != nil {
			metrics.DecodeErrors.Inc()
			s.sampled.Warn().Err(err).Str("alias", alias).Msg("Dropping invalid config")
			return
		}
		c, ok := s.table.get(alias)
		if !ok || !c.Alive() {
			s.open(alias, from, cfg)
			return
		}
		c.setRemote(from)
		c.touch()
		err := c.bind(s.registry, s.OutputDevice(), cfg, s.opts.JitterBatches, false)
		switch {
		case errors.Is(err, errConnectionDead):
			s.sampled.Warn().Str("alias", alias).Msg("Config for a removed alias")
		case err != nil:
			s.logger.Error().Err(err).Str("alias", alias).Msg("Failed to rebuild output stream")
			c.markDead(err)
		}

	case wire.Data:
		c, ok := s.table.get(alias)
		if !ok {
			s.sampled.Warn().Err(ErrUnknownConnection).Str("alias", alias).Str("from", from).
				Msg("Dropping data")
			return
		}
		if !c.Alive() {
			return
		}
		c.push(m.Samples)
	}
}

func (s *Server) open(alias, from string, cfg config.StreamConfig) {
	conn := newConnection(alias, alias, from, nil, s.logger)
	if err := conn.bind(s.registry, s.OutputDevice(), cfg, s.opts.JitterBatches, false); err != nil {
		s.logger.Error().Err(err).Str("alias", alias).Msg("Failed to open output stream")
		return
	}
	s.register(conn)
}

// ListClients returns a snapshot of every connection, dead ones included until
// the next sweep.
func (s *Server) ListClients() []ClientInfo {
	conns := s.table.snapshot()
	infos := make([]ClientInfo, len(conns))
	for i, c := range conns {
		infos[i] = c.Info()
	}
	return infos
}

// DisconnectClient pauses the client's stream, closes its transport and removes it.
func (s *Server) DisconnectClient(key string) (ClientInfo, error) {
	c, ok := s.table.remove(key)
	if !ok {
		return ClientInfo{}, fmt.Errorf("%w: %q", ErrUnknownConnection, key)
	}
	c.markDead(errors.New("disconnected"))
	c.teardown()
	metrics.ConnectionsActive.Set(float64(s.table.len()))
	s.logger.Info().Str("client", key).Msg("Client disconnected")
	return c.Info(), nil
}

// ChangeOutputDevice moves every live connection to dev. Buffered audio and
// stream configs are kept. A connection that cannot be rebound is marked dead;
// one that died meanwhile is skipped.
func (s *Server) ChangeOutputDevice(dev device.Device) error {
	s.mu.Lock()
	s.output = dev
	s.mu.Unlock()

	var errs []error
	for _, c := range s.table.snapshot() {
		c.mu.Lock()
		cfg := c.cfg
		c.mu.Unlock()
		err := c.bind(s.registry, dev, cfg, s.opts.JitterBatches, true)
		if errors.Is(err, errConnectionDead) {
			continue
		}
		if err != nil {
			c.markDead(err)
			errs = append(errs, fmt.Errorf("client %q: %w", c.key, err))
		}
	}
	s.logger.Info().Str("output", dev.Name).Msg("Output device changed")
	return errors.Join(errs...)
}

// Sweep marks idle datagram aliases dead, then removes every dead connection and
// releases its stream. It returns the number of connections removed.
func (s *Server) Sweep() int {
	if s.opts.IdleTimeout > 0 {
		now := time.Now()
		for _, c := range s.table.snapshot() {
			if c.conn == nil && c.idleFor(now) > s.opts.IdleTimeout {
				c.markDead(errIdle)
			}
		}
	}

	dead := s.table.reap(func(c *Connection) bool { return !c.Alive() })
	for _, c := range dead {
		c.teardown()
		c.logger.Info().Msg("Connection removed")
	}
	if len(dead) > 0 {
		metrics.ConnectionsRemoved.Add(float64(len(dead)))
		metrics.ConnectionsActive.Set(float64(s.table.len()))
	}
	return len(dead)
}

// Close removes every connection and waits for connection goroutines to exit.
func (s *Server) Close() {
	for _, c := range s.table.reap(func(*Connection) bool { return true }) {
		c.markDead(errors.New("server closed"))
		c.teardown()
	}
	metrics.ConnectionsActive.Set(0)
	s.wg.Wait()
}
