// Package rtc carries transport messages over an ordered, reliable WebRTC
// DataChannel. Signaling is a single HTTP exchange: the dialer POSTs its
// offer to OfferPath and receives the answer, both with ICE gathering complete.
package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"remoteio/internal/transport"
)

const (
	OfferPath = "/webrtc/offer"
	// MaxMessageSize stays within what every SCTP implementation accepts.
	MaxMessageSize = 16 * 1024

	channelLabel = "remoteio"
	openTimeout  = 30 * time.Second
	inboundQueue = 256
)

// Options configures peer connections on both sides.
type Options struct {
	ICEServers []webrtc.ICEServer
	// Loopback gathers 127.0.0.1 candidates, for single-host setups.
	Loopback bool
}

func (o Options) api() *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetICETimeouts(
		time.Second*60, // Disconnected timeout upped for double NAT
		time.Second*30, // Failed timeout
		time.Second*5,  // Keepalive interval
	)
	settingEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	settingEngine.SetIncludeLoopbackCandidate(o.Loopback)
	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}

func (o Options) configuration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:    o.ICEServers,
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
	}
}

// Conn is one DataChannel. Binary messages only.
type Conn struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	remote string
	in     chan []byte
	closed chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func newConn(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, remote string, logger zerolog.Logger) *Conn {
	c := &Conn{
		pc:     pc,
		dc:     dc,
		remote: remote,
		in:     make(chan []byte, inboundQueue),
		closed: make(chan struct{}),
		logger: logger,
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			c.logger.Debug().Msg("Ignoring text message")
			return
		}
		select {
		case c.in <- msg.Data:
		case <-c.closed:
		}
	})
	dc.OnClose(c.shutdown)
	return c
}

func (c *Conn) shutdown() {
	c.once.Do(func() { close(c.closed) })
}

func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("%w: message of %d bytes exceeds %d", transport.ErrTransport, len(msg), MaxMessageSize)
	}
	if err := c.dc.Send(msg); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrTransport, err)
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) RemoteAddr() string  { return c.remote }
func (c *Conn) MaxMessageSize() int { return MaxMessageSize }

func (c *Conn) Close() error {
	c.shutdown()
	return c.pc.Close()
}

// Listener answers offers posted to OfferPath and yields each DataChannel
// once it opens.
type Listener struct {
	opts    Options
	api     *webrtc.API
	ln      net.Listener
	srv     *http.Server
	pending chan transport.Conn
	closed  chan struct{}
	once    sync.Once
	logger  zerolog.Logger
}

// Listen serves the signaling endpoint on addr.
func Listen(addr string, opts Options) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrTransport, err)
	}
	l := &Listener{
		opts:    opts,
		api:     opts.api(),
		ln:      ln,
		pending: make(chan transport.Conn, 16),
		closed:  make(chan struct{}),
		logger:  log.With().Str("component", "webrtc").Str("addr", ln.Addr().String()).Logger(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(OfferPath, l.HandleOffer)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error().Err(err).Msg("Signaling server stopped")
		}
	}()
	return l, nil
}

// HandleOffer answers one SDP offer.
func (l *Listener) HandleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "bad offer: "+err.Error(), http.StatusBadRequest)
		return
	}

	logger := l.logger.With().Str("remote", r.RemoteAddr).Logger()
	pc, err := l.api.NewPeerConnection(l.opts.configuration())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var opened atomic.Bool
	var conn atomic.Pointer[Conn]
	eventHandlers{logger: logger, lost: func() {
		if c := conn.Load(); c != nil {
			c.shutdown()
		}
	}}.setup(pc)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c := newConn(pc, dc, r.RemoteAddr, logger)
		dc.OnOpen(func() {
			if !opened.CompareAndSwap(false, true) {
				return
			}
			conn.Store(c)
			logger.Info().Str("label", dc.Label()).Msg("Data channel open")
			select {
			case l.pending <- c:
			case <-l.closed:
				_ = c.Close()
			}
		})
	})
	time.AfterFunc(openTimeout, func() {
		if !opened.Load() {
			logger.Warn().Msg("Data channel never opened, closing peer connection")
			_ = pc.Close()
		}
	})

	answer, err := answerOffer(r.Context(), pc, offer)
	if err != nil {
		_ = pc.Close()
		logger.Warn().Err(err).Msg("Failed to answer offer")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(answer)
}

func answerOffer(ctx context.Context, pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return pc.LocalDescription(), nil
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.pending:
		return c, nil
	case <-l.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Addr() string { return l.ln.Addr().String() }

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.srv.Close()
	})
	return err
}

// Dialer creates the offering side of a DataChannel.
type Dialer struct {
	Options
	// HTTP posts the offer; nil uses http.DefaultClient.
	HTTP *http.Client
}

// URL turns a host:port into the signaling URL. Full http(s) URLs pass through.
func (d Dialer) URL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr + OfferPath
}

func (d Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	logger := log.With().Str("component", "webrtc").Str("remote", addr).Logger()
	pc, err := d.api().NewPeerConnection(d.configuration())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrTransport, err)
	}

	isOrdered := true
	dc, err := pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{Ordered: &isOrdered})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("%w: create data channel: %w", transport.ErrTransport, err)
	}
	conn := newConn(pc, dc, addr, logger)
	eventHandlers{logger: logger, lost: conn.shutdown}.setup(pc)

	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	if err := d.signal(ctx, pc, addr); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("%w: signaling %s: %w", transport.ErrTransport, addr, err)
	}

	select {
	case <-opened:
		logger.Info().Msg("Data channel open")
		return conn, nil
	case <-conn.closed:
		_ = pc.Close()
		return nil, fmt.Errorf("%w: peer connection failed", transport.ErrTransport)
	case <-ctx.Done():
		_ = pc.Close()
		return nil, ctx.Err()
	}
}

func (d Dialer) signal(ctx context.Context, pc *webrtc.PeerConnection, addr string) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	body, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL(addr), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := d.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signaling answered %s", resp.Status)
	}

	var answer webrtc.SessionDescription
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return fmt.Errorf("bad answer: %w", err)
	}
	return pc.SetRemoteDescription(answer)
}
