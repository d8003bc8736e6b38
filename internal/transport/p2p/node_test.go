package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteio/internal/transport"
)

func newLoopbackNode(t *testing.T, accept bool) *Node {
	t.Helper()
	n, err := New(context.Background(), Options{ListenHost: "127.0.0.1", Accept: accept})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestDialByMultiaddr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := newLoopbackNode(t, true)
	client := newLoopbackNode(t, false)

	conn, err := client.Dial(ctx, server.Addr())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, MaxMessageSize, transport.MaxMessageSize(conn))

	// Streams open lazily; the first frame makes the server see it.
	require.NoError(t, conn.Send(ctx, []byte("first")))
	require.NoError(t, conn.Send(ctx, []byte{}))

	accepted, err := server.Accept(ctx)
	require.NoError(t, err)
	defer accepted.Close()
	assert.Equal(t, client.host.ID().String(), accepted.RemoteAddr())

	msg, err := accepted.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", string(msg))
	msg, err = accepted.Receive(ctx)
	require.NoError(t, err)
	assert.Empty(t, msg)

	require.NoError(t, accepted.Send(ctx, []byte("back")))
	msg, err = conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "back", string(msg))

	require.NoError(t, conn.Close())
	_, err = accepted.Receive(ctx)
	require.ErrorIs(t, err, transport.ErrClosed)
}

func TestNonAcceptingNodeRefusesStreams(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := newLoopbackNode(t, false)
	b := newLoopbackNode(t, false)

	_, err := a.Accept(ctx)
	require.ErrorIs(t, err, transport.ErrTransport)

	_, err = b.Dial(ctx, a.Addr())
	require.ErrorIs(t, err, transport.ErrTransport)
}

func TestDialWithoutRendezvous(t *testing.T) {
	n := newLoopbackNode(t, false)
	_, err := n.Dial(context.Background(), "")
	require.ErrorIs(t, err, transport.ErrTransport)

	_, err = n.Dial(context.Background(), "/not/a/multiaddr")
	require.ErrorIs(t, err, transport.ErrTransport)
}
