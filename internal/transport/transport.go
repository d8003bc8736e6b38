// Package transport defines the message-framed connections stream clients and
// servers talk over. Each sub-package binds one network stack.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTransport = errors.New("transport error")
	ErrClosed    = fmt.Errorf("%w: connection closed", ErrTransport)
)

// Conn is an ordered, message-framed connection.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	RemoteAddr() string
	Close() error
}

type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// PacketListener receives unconnected messages tagged with the sender address.
type PacketListener interface {
	ReadFrom(ctx context.Context) (msg []byte, from string, err error)
	Addr() string
	Close() error
}

// Sized is implemented by connections that cap the size of a single message.
type Sized interface {
	MaxMessageSize() int
}

// MaxMessageSize returns the message limit of c, or zero when it has none.
func MaxMessageSize(c Conn) int {
	if s, ok := c.(Sized); ok {
		return s.MaxMessageSize()
	}
	return 0
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Conn, error) { return f(ctx, addr) }
