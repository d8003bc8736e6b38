package datagram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteio/internal/transport"
)

func TestSendReadFrom(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	conn, err := Dialer.Dial(ctx, ln.Addr())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, MaxMessageSize, transport.MaxMessageSize(conn))

	require.NoError(t, conn.Send(ctx, []byte("hello")))
	msg, from, err := ln.ReadFrom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg))
	assert.Equal(t, conn.(*Conn).LocalAddr(), from)
}

func TestOversizedDatagram(t *testing.T) {
	ctx := context.Background()
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	conn, err := Dial(ctx, ln.Addr())
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Send(ctx, make([]byte, MaxMessageSize+1))
	require.ErrorIs(t, err, transport.ErrTransport)
}

func TestReadFromHonoursContext(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = ln.ReadFrom(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The listener stays usable after a cancelled read.
	conn, err := Dial(context.Background(), ln.Addr())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Send(context.Background(), []byte{7}))

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	msg, _, err := ln.ReadFrom(ctx2)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, msg)
}

func TestClosedListener(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())
	_, _, err = ln.ReadFrom(context.Background())
	require.ErrorIs(t, err, transport.ErrClosed)
}
