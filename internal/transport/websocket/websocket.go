// Package websocket carries transport messages as binary websocket frames.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"remoteio/internal/transport"
)

const (
	Path           = "/ws"
	MaxMessageSize = 1 << 20

	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	ReadBufferSize:    1024 * 16,
	WriteBufferSize:   1024 * 16,
	EnableCompression: false, // Disable compression for audio
}

// Listener accepts websocket upgrades on Path.
type Listener struct {
	ln      net.Listener
	srv     *http.Server
	pending chan transport.Conn
	closed  chan struct{}
	once    sync.Once
	logger  zerolog.Logger
}

// Listen serves websocket upgrades on addr. A non-nil tlsCfg serves wss.
func Listen(addr string, tlsCfg *tls.Config) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrTransport, err)
	}
	l := &Listener{
		ln:      ln,
		pending: make(chan transport.Conn, 16),
		closed:  make(chan struct{}),
		logger:  log.With().Str("component", "websocket").Str("addr", ln.Addr().String()).Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, l.HandleWebsocket)
	l.srv = &http.Server{Handler: mux, TLSConfig: tlsCfg, ReadHeaderTimeout: handshakeTimeout}

	go func() {
		var err error
		if tlsCfg != nil {
			err = l.srv.ServeTLS(ln, "", "")
		} else {
			err = l.srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error().Err(err).Msg("Websocket server stopped")
		}
	}()
	return l, nil
}

// HandleWebsocket upgrades the request and queues the connection for Accept.
func (l *Listener) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}
	ws.SetReadLimit(MaxMessageSize)
	c := newConn(ws, r.RemoteAddr)

	select {
	case l.pending <- c:
	case <-l.closed:
		_ = c.Close()
	}
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

// Conn is one websocket connection. Sends are serialized; one goroutine may receive.
type Conn struct {
	ws     *websocket.Conn
	remote string
	wmu    sync.Mutex
	once   sync.Once
	logger zerolog.Logger
}

func newConn(ws *websocket.Conn, remote string) *Conn {
	return &Conn{
		ws:     ws,
		remote: remote,
		logger: log.With().Str("component", "websocket").Str("remote", remote).Logger(),
	}
}

func (c *Conn) Send(ctx context.Context, msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline, _ := ctx.Deadline()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return wrap(err)
	}
	return nil
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, wrap(err)
		}
		if messageType != websocket.BinaryMessage {
			c.logger.Debug().Int("type", messageType).Msg("Ignoring non-binary message")
			continue
		}
		return message, nil
	}
}

func (c *Conn) RemoteAddr() string  { return c.remote }
func (c *Conn) MaxMessageSize() int { return MaxMessageSize }

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}

func wrap(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}
	return fmt.Errorf("%w: %w", transport.ErrTransport, err)
}

// Dialer connects to a websocket Listener.
type Dialer struct {
	// TLS enables wss. Set InsecureSkipVerify to accept self-signed servers.
	TLS *tls.Config
}

// URL turns a host:port into a websocket URL. Full ws:// or wss:// URLs pass through.
func (d Dialer) URL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	scheme := "ws://"
	if d.TLS != nil {
		scheme = "wss://"
	}
	return scheme + addr + Path
}

func (d Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  d.TLS,
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   1024 * 16,
		WriteBufferSize:  1024 * 16,
	}
	url := d.URL(addr)
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", transport.ErrTransport, url, err)
	}
	ws.SetReadLimit(MaxMessageSize)
	return newConn(ws, addr), nil
}
