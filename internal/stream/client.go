package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/device"
	"remoteio/internal/audio/encoder"
	"remoteio/internal/audio/pipeline"
	"remoteio/internal/transport"
	"remoteio/internal/wire"
)

// Mode selects the wire framing a client uses.
type Mode int

const (
	// ModeStream sends one Config then raw frames over a dedicated connection.
	ModeStream Mode = iota
	// ModeMultiplexed sends alias-tagged Hello, Config and Data envelopes.
	ModeMultiplexed
)

func (m Mode) String() string {
	if m == ModeMultiplexed {
		return "multiplexed"
	}
	return "stream"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "stream":
		return ModeStream, nil
	case "multiplexed", "packet", "alias":
		return ModeMultiplexed, nil
	}
	return ModeStream, fmt.Errorf("unknown client mode %q", s)
}

const DefaultQueueDepth = 32

type ClientOptions struct {
	Mode  Mode
	Alias string
	// FrameSize is announced in the Config message. Defaults to config.StreamFrameSize.
	FrameSize  uint32
	QueueDepth int
	Logger     *zerolog.Logger
}

type ClientState int

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "disconnected"
}

// ClientStatus is a snapshot of a client.
type ClientStatus struct {
	Name   string              `json:"name"`
	Device string              `json:"device"`
	Remote string              `json:"remote"`
	Alias  string              `json:"alias,omitempty"`
	Mode   string              `json:"mode"`
	State  string              `json:"state"`
	Alive  bool                `json:"alive"`
	Config config.StreamConfig `json:"config"`
}

// Client captures one input device and streams it to a remote server.
type Client struct {
	registry device.Registry
	dialer   transport.Dialer
	opts     ClientOptions
	logger   zerolog.Logger

	mu     sync.Mutex
	state  ClientState
	device device.Device
	remote string
	conn   transport.Conn
	sender *pipeline.Sender
	input  device.Stream
	cfg    config.StreamConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewClient(reg device.Registry, dialer transport.Dialer, dev device.Device, opts ClientOptions) *Client {
	if opts.FrameSize == 0 {
		opts.FrameSize = config.StreamFrameSize
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	logger := log.With().Str("component", "client").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		registry: reg,
		dialer:   dialer,
		opts:     opts,
		logger:   logger,
		device:   dev,
	}
}

// Connect dials remote, announces the stream and starts capturing. Dialing and
// the announcement run without holding the client lock.
func (c *Client) Connect(ctx context.Context, remote string) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case StateConnecting:
		c.mu.Unlock()
		return ErrConnecting
	case StateClosed:
		c.mu.Unlock()
		return ErrClientClosed
	}
	dev := c.device
	c.state = StateConnecting
	c.mu.Unlock()

	conn, cfg, err := c.dial(ctx, dev, remote)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClientClosed
	}
	if err != nil {
		c.state = StateDisconnected
		return err
	}
	if err := c.start(conn, cfg, remote); err != nil {
		_ = conn.Close()
		c.state = StateDisconnected
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context, dev device.Device, remote string) (transport.Conn, config.StreamConfig, error) {
	cfg, err := c.registry.DefaultInputConfig(dev)
	if err != nil {
		return nil, cfg, err
	}
	cfg = cfg.WithFrameSize(c.opts.FrameSize)

	conn, err := c.dialer.Dial(ctx, remote)
	if err != nil {
		return nil, cfg, fmt.Errorf("dial %s: %w", remote, err)
	}
	if err := c.announce(ctx, conn, cfg); err != nil {
		_ = conn.Close()
		return nil, cfg, err
	}
	return conn, cfg, nil
}

// start wires the sender and input stream to an announced conn. c.mu is held.
func (c *Client) start(conn transport.Conn, cfg config.StreamConfig, remote string) error {
	enc := encoder.New(c.opts.Mode == ModeMultiplexed, c.opts.Alias, transport.MaxMessageSize(conn))
	sender, err := pipeline.NewSender(conn, enc, c.opts.QueueDepth, c.logger)
	if err != nil {
		return err
	}

	input, err := c.startInput(c.device, cfg, sender)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		sender.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.watch(runCtx, conn, sender)
	}()

	c.conn, c.sender, c.input, c.cfg = conn, sender, input, cfg
	c.remote, c.cancel = remote, cancel
	c.state = StateConnected
	c.logger.Info().
		Str("device", c.device.Name).
		Str("remote", remote).
		Str("mode", c.opts.Mode.String()).
		Str("config", cfg.String()).
		Msg("Client connected")
	return nil
}

func (c *Client) announce(ctx context.Context, conn transport.Conn, cfg config.StreamConfig) error {
	var msgs []wire.Message
	if c.opts.Mode == ModeMultiplexed {
		msgs = append(msgs, wire.Hello{Alias: c.opts.Alias})
	}
	msgs = append(msgs, wire.NewConfig(c.opts.Alias, cfg))

	for _, m := range msgs {
		b, err := wire.Encode(m)
		if err != nil {
			return err
		}
		if err := conn.Send(ctx, b); err != nil {
			return fmt.Errorf("send %s: %w", m.Kind(), err)
		}
	}
	return nil
}

func (c *Client) startInput(dev device.Device, cfg config.StreamConfig, sender *pipeline.Sender) (device.Stream, error) {
	input, err := c.registry.BuildInputStream(dev, cfg, func(samples []float32) {
		sender.Offer(samples)
	})
	if err != nil {
		return nil, err
	}
	if err := input.Play(); err != nil {
		_ = input.Close()
		return nil, err
	}
	return input, nil
}

// watch drains the receive side so a remote close is noticed promptly.
func (c *Client) watch(ctx context.Context, conn transport.Conn, sender *pipeline.Sender) {
	for {
		if _, err := conn.Receive(ctx); err != nil {
			if ctx.Err() == nil {
				sender.MarkDead(err)
			}
			return
		}
	}
}

// ChangeSourceDevice swaps the captured device while keeping the transport.
// In multiplexed mode the new device's default config is announced with a fresh
// Config message; in stream mode the negotiated config is kept.
func (c *Client) ChangeSourceDevice(ctx context.Context, dev device.Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ErrNotConnected
	}

	cfg := c.cfg
	if c.opts.Mode == ModeMultiplexed {
		def, err := c.registry.DefaultInputConfig(dev)
		if err != nil {
			return err
		}
		cfg = def.WithFrameSize(c.opts.FrameSize)
	}

	if c.input != nil {
		if err := c.input.Pause(); err != nil {
			c.logger.Warn().Err(err).Msg("Pausing input stream")
		}
		_ = c.input.Close()
		c.input = nil
	}

	if cfg != c.cfg {
		b, err := wire.Encode(wire.NewConfig(c.opts.Alias, cfg))
		if err != nil {
			return err
		}
		if err := c.sender.Control(ctx, b); err != nil {
			return err
		}
	}

	input, err := c.startInput(dev, cfg, c.sender)
	if err != nil {
		return err
	}
	c.input, c.device, c.cfg = input, dev, cfg
	c.logger.Info().Str("device", dev.Name).Str("config", cfg.String()).Msg("Source device changed")
	return nil
}

// IsAlive reports whether the client is connected and no send has failed.
func (c *Client) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.sender.Alive()
}

// Name identifies the client as "device:remote".
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device.Name + ":" + c.remote
}

func (c *Client) Device() device.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

func (c *Client) Config() config.StreamConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Client) Status() ClientStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientStatus{
		Name:   c.device.Name + ":" + c.remote,
		Device: c.device.Name,
		Remote: c.remote,
		Alias:  c.opts.Alias,
		Mode:   c.opts.Mode.String(),
		State:  c.state.String(),
		Alive:  c.state == StateConnected && c.sender.Alive(),
		Config: c.cfg,
	}
}

// Close stops capturing and closes the transport. It is safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	wasConnected := c.state == StateConnected
	c.state = StateClosed

	var errs []error
	if c.input != nil {
		errs = append(errs, c.input.Close())
	}
	if wasConnected {
		c.sender.Stop()
		c.cancel()
		errs = append(errs, c.conn.Close())
	}
	c.mu.Unlock()

	c.wg.Wait()
	return errors.Join(errs...)
}
