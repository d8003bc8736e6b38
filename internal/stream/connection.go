package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"remoteio/internal/audio/config"
	"remoteio/internal/audio/device"
	"remoteio/internal/audio/jitter"
	"remoteio/internal/metrics"
	"remoteio/internal/transport"
)

// ClientInfo is a snapshot of one server-side connection.
type ClientInfo struct {
	Key      string              `json:"key"`
	Alias    string              `json:"alias,omitempty"`
	Remote   string              `json:"remote"`
	Output   string              `json:"output"`
	Config   config.StreamConfig `json:"config"`
	Alive    bool                `json:"alive"`
	Buffered int                 `json:"buffered"`
	Since    time.Time           `json:"since"`
}

// Connection is the server-side state of one client: its stream config, jitter
// buffer and output stream. Liveness only moves from alive to dead.
type Connection struct {
	key     string
	alias   string
	conn    transport.Conn
	created time.Time
	logger  zerolog.Logger

	alive    atomic.Bool
	lastSeen atomic.Int64

	mu     sync.Mutex
	remote string
	cfg    config.StreamConfig
	buffer *jitter.Buffer
	stream device.Stream
	output device.Device
}

func newConnection(key, alias, remote string, conn transport.Conn, logger zerolog.Logger) *Connection {
	c := &Connection{
		key:     key,
		alias:   alias,
		conn:    conn,
		remote:  remote,
		created: time.Now(),
		logger:  logger.With().Str("client", key).Logger(),
	}
	c.alive.Store(true)
	c.touch()
	return c
}

func (c *Connection) Key() string { return c.key }

func (c *Connection) Alive() bool { return c.alive.Load() }

func (c *Connection) markDead(reason error) {
	if c.alive.CompareAndSwap(true, false) {
		c.logger.Info().AnErr("reason", reason).Msg("Connection marked dead")
	}
}

func (c *Connection) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

func (c *Connection) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}

// bind (re)opens the output stream on out. The jitter buffer is replaced unless
// keepBuffer is set and the config is unchanged. A dead connection is never
// bound: removal marks it dead before teardown takes c.mu.
func (c *Connection) bind(reg device.Registry, out device.Device, cfg config.StreamConfig, batches int, keepBuffer bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.Alive() {
		return errConnectionDead
	}

	c.closeStreamLocked()

	buf := c.buffer
	if !keepBuffer || buf == nil || cfg != c.cfg {
		buf = jitter.New(batches*cfg.BatchSamples(), cfg.BatchSamples())
	}

	stream, err := reg.BuildOutputStream(out, cfg, func(samples []float32) {
		if !buf.TryReadBatch(samples) {
			metrics.JitterUnderruns.Inc()
		}
	})
	if err != nil {
		return err
	}
	if err := stream.Play(); err != nil {
		_ = stream.Close()
		return err
	}

	c.cfg = cfg
	c.buffer = buf
	c.stream = stream
	c.output = out
	c.logger.Info().
		Str("output", out.Name).
		Str("config", cfg.String()).
		Int("capacity", buf.Cap()).
		Msg("Output stream bound")
	return nil
}

func (c *Connection) closeStreamLocked() {
	if c.stream == nil {
		return
	}
	if err := c.stream.Pause(); err != nil {
		c.logger.Warn().Err(err).Msg("Pausing output stream")
	}
	if err := c.stream.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Closing output stream")
	}
	c.stream = nil
}

func (c *Connection) push(samples []float32) {
	c.touch()
	c.mu.Lock()
	buf := c.buffer
	c.mu.Unlock()
	if buf == nil {
		return
	}
	if dropped := buf.Append(samples); dropped > 0 {
		metrics.JitterDroppedSamples.Add(float64(dropped))
	}
	metrics.ReceivedSamples.Add(float64(len(samples)))
}

func (c *Connection) setRemote(remote string) {
	c.mu.Lock()
	c.remote = remote
	c.mu.Unlock()
}

// teardown pauses the output stream and closes the transport, if any.
func (c *Connection) teardown() {
	c.mu.Lock()
	c.closeStreamLocked()
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Connection) Info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := ClientInfo{
		Key:    c.key,
		Alias:  c.alias,
		Remote: c.remote,
		Output: c.output.Name,
		Config: c.cfg,
		Alive:  c.Alive(),
		Since:  c.created,
	}
	if c.buffer != nil {
		info.Buffered = c.buffer.Len()
	}
	return info
}
