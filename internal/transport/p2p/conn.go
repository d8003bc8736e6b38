package p2p

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"

	"remoteio/internal/transport"
)

// MaxMessageSize caps one length-prefixed frame.
const MaxMessageSize = 1 << 20

// Conn frames messages over a libp2p stream as a u32 big-endian length
// followed by the payload.
type Conn struct {
	stream network.Stream
	r      *bufio.Reader
	w      *bufio.Writer
	rmu    sync.Mutex
	wmu    sync.Mutex
	once   sync.Once
}

func newConn(s network.Stream) *Conn {
	return &Conn{
		stream: s,
		r:      bufio.NewReader(s),
		w:      bufio.NewWriter(s),
	}
}

func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("%w: message of %d bytes exceeds %d", transport.ErrTransport, len(msg), MaxMessageSize)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = c.stream.SetWriteDeadline(deadline)

	if err := binary.Write(c.w, binary.BigEndian, uint32(len(msg))); err != nil {
		return wrap(err)
	}
	if _, err := c.w.Write(msg); err != nil {
		return wrap(err)
	}
	if err := c.w.Flush(); err != nil {
		return wrap(err)
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	defer c.stream.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.stream.SetReadDeadline(time.Now())
	})
	defer stop()

	var length uint32
	if err := binary.Read(c.r, binary.BigEndian, &length); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrap(err)
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", transport.ErrTransport, length, MaxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrap(err)
	}
	return payload, nil
}

func (c *Conn) RemoteAddr() string  { return c.stream.Conn().RemotePeer().String() }
func (c *Conn) MaxMessageSize() int { return MaxMessageSize }

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() { err = c.stream.Close() })
	return err
}

func wrap(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, network.ErrReset) {
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}
	return fmt.Errorf("%w: %w", transport.ErrTransport, err)
}
