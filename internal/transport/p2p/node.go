// Package p2p carries transport messages over libp2p streams. Peers are
// dialed by full /p2p/ multiaddr or found by rendezvous, first over mDNS and
// then over the Kademlia DHT.
package p2p

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"remoteio/internal/transport"
)

var (
	DefaultProtocolID = "/remoteio/stream/1.0.0"
	DefaultRendezvous = "remoteio-5f0c6a52-0b7e-4a0e-9d1c-3c2f8e41a7b9"
	DefaultMDNSWait   = 10 * time.Second
)

const (
	acceptQueue   = 16
	findPeersWait = 5 * time.Second
)

// Options configures a Node.
type Options struct {
	ListenHost string
	ListenPort int
	ProtocolID string
	// Rendezvous is the mDNS service name and DHT namespace. Empty disables discovery.
	Rendezvous string
	// Accept registers the stream handler and advertises the node. Only
	// accepting nodes can be dialed.
	Accept bool
	// DHT enables the Kademlia fallback after mDNS finds nothing.
	DHT            bool
	BootstrapPeers []multiaddr.Multiaddr
	MDNSWait       time.Duration
}

func (o Options) withDefaults() Options {
	if o.ListenHost == "" {
		o.ListenHost = "0.0.0.0"
	}
	if o.ProtocolID == "" {
		o.ProtocolID = DefaultProtocolID
	}
	if o.BootstrapPeers == nil {
		o.BootstrapPeers = dht.DefaultBootstrapPeers
	}
	if o.MDNSWait <= 0 {
		o.MDNSWait = DefaultMDNSWait
	}
	return o
}

// Node is a libp2p host acting as a transport.Listener and transport.Dialer.
type Node struct {
	opts    Options
	host    host.Host
	mdns    mdns.Service
	routing *drouting.RoutingDiscovery
	kdht    *dht.IpfsDHT
	found   chan peer.AddrInfo
	pending chan transport.Conn
	closed  chan struct{}
	cancel  context.CancelFunc
	once    sync.Once
	logger  zerolog.Logger
}

// New starts a libp2p host. Discovery services run until Close.
func New(ctx context.Context, opts Options) (*Node, error) {
	opts = opts.withDefaults()

	prvKey, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrTransport, err)
	}
	sourceMultiAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", opts.ListenHost, opts.ListenPort))
	if err != nil {
		return nil, fmt.Errorf("%w: listen address: %w", transport.ErrTransport, err)
	}

	h, err := libp2p.New(
		libp2p.ListenAddrs(sourceMultiAddr),
		libp2p.Identity(prvKey),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrTransport, err)
	}

	nodeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n := &Node{
		opts:    opts,
		host:    h,
		found:   make(chan peer.AddrInfo, acceptQueue),
		pending: make(chan transport.Conn, acceptQueue),
		closed:  make(chan struct{}),
		cancel:  cancel,
		logger:  log.With().Str("component", "p2p").Str("host", h.ID().String()).Logger(),
	}
	n.logger.Info().Any("address", h.Addrs()).Msg("Host created.")

	if opts.Accept {
		// set function that will be called when a peer initiates a connection and starts a stream with this peer
		h.SetStreamHandler(protocol.ID(opts.ProtocolID), n.handleStream)
	}

	if opts.Rendezvous != "" {
		n.mdns = mdns.NewMdnsService(h, opts.Rendezvous, n)
		if err := n.mdns.Start(); err != nil {
			n.logger.Error().Err(err).Msg("Failed to start mDNS service")
			n.mdns = nil
		}
		if opts.DHT {
			if err := n.startDHT(nodeCtx); err != nil {
				_ = n.Close()
				return nil, err
			}
		}
	}
	return n, nil
}

func (n *Node) startDHT(ctx context.Context) error {
	bootstrapPeers, err := peer.AddrInfosFromP2pAddrs(n.opts.BootstrapPeers...)
	if err != nil {
		return fmt.Errorf("%w: bootstrap peers: %w", transport.ErrTransport, err)
	}
	kademliaDHT, err := dht.New(ctx, n.host, dht.BootstrapPeers(bootstrapPeers...))
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrTransport, err)
	}

	n.logger.Debug().Msg("Bootstrapping the DHT...")
	if err = kademliaDHT.Bootstrap(ctx); err != nil {
		_ = kademliaDHT.Close()
		return fmt.Errorf("%w: %w", transport.ErrTransport, err)
	}
	n.kdht = kademliaDHT
	n.routing = drouting.NewRoutingDiscovery(kademliaDHT)

	if n.opts.Accept {
		n.logger.Debug().Msg("Announcing presence...")
		dutil.Advertise(ctx, n.routing, n.opts.Rendezvous)
	}
	return nil
}

// HandlePeerFound receives mDNS results.
func (n *Node) HandlePeerFound(p peer.AddrInfo) {
	if p.ID == n.host.ID() {
		return
	}
	select {
	case n.found <- p:
	default:
	}
}

func (n *Node) handleStream(s network.Stream) {
	n.logger.Info().Str("peer", s.Conn().RemotePeer().String()).Msg("New stream opened")
	c := newConn(s)
	select {
	case n.pending <- c:
	case <-n.closed:
		_ = s.Reset()
	}
}

func (n *Node) Accept(ctx context.Context) (transport.Conn, error) {
	if !n.opts.Accept {
		return nil, fmt.Errorf("%w: node does not accept streams", transport.ErrTransport)
	}
	select {
	case c := <-n.pending:
		return c, nil
	case <-n.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the first full /p2p/ multiaddr of the node.
func (n *Node) Addr() string {
	addrs := n.Addrs()
	if len(addrs) == 0 {
		return "/p2p/" + n.host.ID().String()
	}
	return addrs[0]
}

// Addrs returns every dialable /p2p/ multiaddr of the node.
func (n *Node) Addrs() []string {
	out := make([]string, 0, len(n.host.Addrs()))
	for _, a := range n.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return out
}

// Dial opens a stream to addr. A multiaddr with a /p2p/ component is dialed
// directly; anything else finds the first accepting peer on the rendezvous.
func (n *Node) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	if strings.HasPrefix(addr, "/") {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", transport.ErrTransport, addr, err)
		}
		return n.open(ctx, *info)
	}
	if n.opts.Rendezvous == "" {
		return nil, fmt.Errorf("%w: %q is not a multiaddr and no rendezvous is configured", transport.ErrTransport, addr)
	}
	return n.discover(ctx)
}

func (n *Node) open(ctx context.Context, p peer.AddrInfo) (transport.Conn, error) {
	if err := n.host.Connect(ctx, p); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", transport.ErrTransport, p.ID, err)
	}
	s, err := n.host.NewStream(ctx, p.ID, protocol.ID(n.opts.ProtocolID))
	if err != nil {
		return nil, fmt.Errorf("%w: open stream to %s: %w", transport.ErrTransport, p.ID, err)
	}
	n.logger.Info().Str("peer", p.String()).Msg("Connected to peer")
	return newConn(s), nil
}

// tryPeer returns nil when p is this node or refuses the protocol.
func (n *Node) tryPeer(ctx context.Context, p peer.AddrInfo) transport.Conn {
	if p.ID == n.host.ID() {
		return nil
	}
	c, err := n.open(ctx, p)
	if err != nil {
		n.logger.Warn().Str("peer", p.String()).Err(err).Msg("Connection failed")
		return nil
	}
	return c
}

func (n *Node) discover(ctx context.Context) (transport.Conn, error) {
	mdnsCtx, cancel := context.WithTimeout(ctx, n.opts.MDNSWait)
	c, err := n.fromMDNS(mdnsCtx)
	cancel()
	if err == nil {
		return c, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if n.routing == nil {
		return nil, fmt.Errorf("%w: no peer found for %q: %w", transport.ErrTransport, n.opts.Rendezvous, err)
	}
	n.logger.Warn().Err(err).Msg("mDNS discovery failed, falling back to DHT")
	return n.fromDHT(ctx)
}

func (n *Node) fromMDNS(ctx context.Context) (transport.Conn, error) {
	if n.mdns == nil {
		return nil, errors.New("mDNS not running")
	}
	for {
		n.logger.Debug().Msg("Waiting for peers on mDNS...")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-n.closed:
			return nil, transport.ErrClosed
		case p := <-n.found:
			if c := n.tryPeer(ctx, p); c != nil {
				return c, nil
			}
		}
	}
}

func (n *Node) fromDHT(ctx context.Context) (transport.Conn, error) {
	for {
		n.logger.Info().Int("rt_size", n.kdht.RoutingTable().Size()).Msg("Searching for peers on the DHT...")
		peerChan, err := n.routing.FindPeers(ctx, n.opts.Rendezvous)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", transport.ErrTransport, err)
		}
		for p := range peerChan {
			if c := n.tryPeer(ctx, p); c != nil {
				return c, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-n.closed:
			return nil, transport.ErrClosed
		case <-time.After(findPeersWait):
		}
	}
}

func (n *Node) Close() error {
	var errs []error
	n.once.Do(func() {
		close(n.closed)
		n.cancel()
		if n.mdns != nil {
			errs = append(errs, n.mdns.Close())
		}
		if n.kdht != nil {
			errs = append(errs, n.kdht.Close())
		}
		errs = append(errs, n.host.Close())
	})
	return errors.Join(errs...)
}
