package main

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/rs/zerolog/log"

	"remoteio/internal/stream"
	"remoteio/internal/transport"
	"remoteio/internal/transport/datagram"
	"remoteio/internal/transport/p2p"
	"remoteio/internal/transport/rtc"
	"remoteio/internal/transport/websocket"
	"remoteio/pkg/config"
)

func p2pOptions(cfg config.P2PConfig, accept bool) p2p.Options {
	return p2p.Options{
		ListenPort: cfg.ListenPort,
		ProtocolID: cfg.ProtocolID,
		Rendezvous: cfg.Rendezvous,
		Accept:     accept,
		DHT:        cfg.DHT,
		MDNSWait:   cfg.MDNSWait,
	}
}

func rtcOptions(ctx context.Context, cfg config.WebRTCConfig) rtc.Options {
	if cfg.ProbeSTUN {
		cfg.ProbeICE(ctx)
	}
	return rtc.Options{ICEServers: cfg.ICEServers(), Loopback: cfg.Loopback}
}

// serve accepts clients on the configured server transport until ctx is done.
func serve(ctx context.Context, cfg *config.Config, srv *stream.Server) error {
	switch cfg.Server.Transport {
	case "datagram":
		pl, err := datagram.Listen(cfg.Server.Listen)
		if err != nil {
			return err
		}
		defer pl.Close()
		return srv.ServePackets(ctx, pl)

	case "p2p":
		opts := p2pOptions(cfg.P2P, true)
		if opts.Rendezvous == "" {
			opts.Rendezvous = p2p.DefaultRendezvous
		}
		node, err := p2p.New(ctx, opts)
		if err != nil {
			return err
		}
		defer node.Close()
		log.Info().Strs("addrs", node.Addrs()).Str("rendezvous", opts.Rendezvous).Msg("Dial one of these addresses")
		return srv.ServeListener(ctx, node)

	case "webrtc":
		ln, err := rtc.Listen(cfg.Server.Listen, rtcOptions(ctx, cfg.WebRTC))
		if err != nil {
			return err
		}
		defer ln.Close()
		return srv.ServeListener(ctx, ln)

	default:
		var tlsConfig *tls.Config
		if cfg.Server.TLS {
			var err error
			if tlsConfig, err = config.ServerTLS(); err != nil {
				return fmt.Errorf("tls: %w", err)
			}
		}
		ln, err := websocket.Listen(cfg.Server.Listen, tlsConfig)
		if err != nil {
			return err
		}
		defer ln.Close()
		return srv.ServeListener(ctx, ln)
	}
}

func newDialer(ctx context.Context, cfg *config.Config) (transport.Dialer, func(), error) {
	switch cfg.Client.Transport {
	case "datagram":
		return datagram.Dialer, func() {}, nil

	case "p2p":
		opts := p2pOptions(cfg.P2P, false)
		if opts.Rendezvous == "" {
			opts.Rendezvous = p2p.DefaultRendezvous
		}
		node, err := p2p.New(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		return node, func() { _ = node.Close() }, nil

	case "webrtc":
		return rtc.Dialer{Options: rtcOptions(ctx, cfg.WebRTC)}, func() {}, nil

	default:
		d := websocket.Dialer{}
		if cfg.Client.Insecure {
			d.TLS = &tls.Config{InsecureSkipVerify: true}
		}
		return d, func() {}, nil
	}
}
