package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryListenerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ln := NewMemoryListener("srv", 0)
	client, err := ln.Dial(ctx, "srv")
	require.NoError(t, err)
	server, err := ln.Accept(ctx)
	require.NoError(t, err)
	assert.Equal(t, client.(*memConn).local, server.RemoteAddr())

	require.NoError(t, client.Send(ctx, []byte("a")))
	require.NoError(t, client.Send(ctx, []byte("b")))
	for _, want := range []string{"a", "b"} {
		msg, err := server.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(msg))
	}

	require.NoError(t, client.Close())
	_, err = server.Receive(ctx)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, server.Send(ctx, []byte("x")), ErrTransport)
}

func TestMemoryMessageLimit(t *testing.T) {
	ctx := context.Background()
	ln := NewMemoryListener("srv", 4)
	client, err := ln.Dial(ctx, "srv")
	require.NoError(t, err)
	assert.Equal(t, 4, MaxMessageSize(client))
	require.ErrorIs(t, client.Send(ctx, []byte("12345")), ErrTransport)
}

func TestPacketPipe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p := NewPacketPipe("udp", 0)
	a, err := p.Dial(ctx, "udp")
	require.NoError(t, err)
	b, err := p.Dial(ctx, "udp")
	require.NoError(t, err)

	require.NoError(t, a.Send(ctx, []byte("from a")))
	require.NoError(t, b.Send(ctx, []byte("from b")))

	msg, from, err := p.ReadFrom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from a", string(msg))
	assert.Equal(t, a.(*packetConn).LocalAddr(), from)

	_, from2, err := p.ReadFrom(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, from, from2)

	require.NoError(t, p.Close())
	_, _, err = p.ReadFrom(ctx)
	require.ErrorIs(t, err, ErrClosed)
}
