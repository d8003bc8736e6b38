package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const memoryQueue = 256

var memorySeq atomic.Uint64

type memConn struct {
	local, remote string
	in            <-chan []byte
	out           chan<- []byte
	closed        chan struct{}
	once          *sync.Once
	max           int
}

func memPipe(a, b string, max int) (*memConn, *memConn) {
	ab := make(chan []byte, memoryQueue)
	ba := make(chan []byte, memoryQueue)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &memConn{local: a, remote: b, in: ba, out: ab, closed: closed, once: once, max: max},
		&memConn{local: b, remote: a, in: ab, out: ba, closed: closed, once: once, max: max}
}

func (c *memConn) Send(ctx context.Context, msg []byte) error {
	if c.max > 0 && len(msg) > c.max {
		return fmt.Errorf("%w: message of %d bytes exceeds %d", ErrTransport, len(msg), c.max)
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.out <- append([]byte(nil), msg...):
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memConn) RemoteAddr() string  { return c.remote }
func (c *memConn) MaxMessageSize() int { return c.max }

func (c *memConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// MemoryListener is an in-process Listener and Dialer pair.
type MemoryListener struct {
	addr    string
	max     int
	pending chan Conn
	closed  chan struct{}
	once    sync.Once
}

// NewMemoryListener returns a listener whose connections cap messages at max
// bytes (zero for no limit).
func NewMemoryListener(addr string, max int) *MemoryListener {
	return &MemoryListener{
		addr:    addr,
		max:     max,
		pending: make(chan Conn, 16),
		closed:  make(chan struct{}),
	}
}

func (l *MemoryListener) Dial(ctx context.Context, addr string) (Conn, error) {
	if addr != l.addr {
		return nil, fmt.Errorf("%w: no listener at %q", ErrTransport, addr)
	}
	local := fmt.Sprintf("mem-%d", memorySeq.Add(1))
	client, server := memPipe(local, l.addr, l.max)
	server.local, server.remote = l.addr, local
	select {
	case l.pending <- server:
		return client, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *MemoryListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.pending:
		return c, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *MemoryListener) Addr() string { return l.addr }

func (l *MemoryListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

type packet struct {
	msg  []byte
	from string
}

// PacketPipe is an in-process PacketListener. Dial returns connections whose
// sends arrive at ReadFrom tagged with the connection's address.
type PacketPipe struct {
	addr    string
	max     int
	packets chan packet
	closed  chan struct{}
	once    sync.Once
}

func NewPacketPipe(addr string, max int) *PacketPipe {
	return &PacketPipe{
		addr:    addr,
		max:     max,
		packets: make(chan packet, memoryQueue),
		closed:  make(chan struct{}),
	}
}

func (p *PacketPipe) ReadFrom(ctx context.Context) ([]byte, string, error) {
	select {
	case pkt := <-p.packets:
		return pkt.msg, pkt.from, nil
	case <-p.closed:
		return nil, "", ErrClosed
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (p *PacketPipe) Addr() string { return p.addr }

func (p *PacketPipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *PacketPipe) Dial(_ context.Context, addr string) (Conn, error) {
	if addr != p.addr {
		return nil, fmt.Errorf("%w: no listener at %q", ErrTransport, addr)
	}
	return &packetConn{pipe: p, local: fmt.Sprintf("mem-%d", memorySeq.Add(1)), closed: make(chan struct{})}, nil
}

type packetConn struct {
	pipe   *PacketPipe
	local  string
	closed chan struct{}
	once   sync.Once
}

func (c *packetConn) Send(ctx context.Context, msg []byte) error {
	if c.pipe.max > 0 && len(msg) > c.pipe.max {
		return fmt.Errorf("%w: message of %d bytes exceeds %d", ErrTransport, len(msg), c.pipe.max)
	}
	select {
	case <-c.closed:
		return ErrClosed
	case <-c.pipe.closed:
		return ErrClosed
	default:
	}
	select {
	case c.pipe.packets <- packet{msg: append([]byte(nil), msg...), from: c.local}:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until the connection is closed; the packet path is one way.
func (c *packetConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *packetConn) RemoteAddr() string  { return c.pipe.addr }
func (c *packetConn) LocalAddr() string   { return c.local }
func (c *packetConn) MaxMessageSize() int { return c.pipe.max }

func (c *packetConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
