// Package datagram carries transport messages as UDP datagrams, one message per packet.
package datagram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"remoteio/internal/transport"
)

// MaxMessageSize is the largest UDP payload over IPv4.
const MaxMessageSize = 65507

const readBuffer = 64 * 1024

// Listener receives datagrams from any number of senders.
type Listener struct {
	pc   net.PacketConn
	buf  []byte
	mu   sync.Mutex
	once sync.Once
}

func Listen(addr string) (*Listener, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrTransport, err)
	}
	return &Listener{pc: pc, buf: make([]byte, readBuffer)}, nil
}

// ReadFrom blocks for the next datagram. Only one goroutine should read at a time.
func (l *Listener) ReadFrom(ctx context.Context) ([]byte, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	defer l.pc.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = l.pc.SetReadDeadline(time.Now())
	})
	defer stop()

	n, from, err := l.pc.ReadFrom(l.buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", wrap(err)
	}
	return append([]byte(nil), l.buf[:n]...), from.String(), nil
}

func (l *Listener) Addr() string { return l.pc.LocalAddr().String() }

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() { err = l.pc.Close() })
	return err
}

// Conn is a connected UDP socket. Delivery and order are not guaranteed.
type Conn struct {
	uc   *net.UDPConn
	buf  []byte
	rmu  sync.Mutex
	once sync.Once
}

// Dial connects a UDP socket to addr. No packet is exchanged.
func Dial(ctx context.Context, addr string) (transport.Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", transport.ErrTransport, addr, err)
	}
	return &Conn{uc: c.(*net.UDPConn), buf: make([]byte, readBuffer)}, nil
}

// Dialer is Dial as a transport.Dialer.
var Dialer = transport.DialerFunc(Dial)

func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("%w: datagram of %d bytes exceeds %d", transport.ErrTransport, len(msg), MaxMessageSize)
	}
	deadline, _ := ctx.Deadline()
	_ = c.uc.SetWriteDeadline(deadline)
	if _, err := c.uc.Write(msg); err != nil {
		return wrap(err)
	}
	return nil
}

// Receive returns the next datagram from the connected peer. Servers that
// speak the datagram protocol never reply, so this normally blocks until
// ctx is done or the connection is closed.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	defer c.uc.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.uc.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		n, err := c.uc.Read(c.buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// ICMP port unreachable surfaces here; the peer may come up later.
			if errors.Is(err, syscall.ECONNREFUSED) {
				continue
			}
			return nil, wrap(err)
		}
		return append([]byte(nil), c.buf[:n]...), nil
	}
}

func (c *Conn) RemoteAddr() string  { return c.uc.RemoteAddr().String() }
func (c *Conn) LocalAddr() string   { return c.uc.LocalAddr().String() }
func (c *Conn) MaxMessageSize() int { return MaxMessageSize }

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() { err = c.uc.Close() })
	return err
}

func wrap(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}
	return fmt.Errorf("%w: %w", transport.ErrTransport, err)
}
