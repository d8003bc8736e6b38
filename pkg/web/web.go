package web

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"remoteio/pkg/system"
)

const shutdownTimeout = 5 * time.Second

// Serve runs handler on addr until ctx is done, then shuts the server down.
// A non-nil tlsConfig serves HTTPS.
func Serve(ctx context.Context, addr string, handler http.Handler, tlsConfig *tls.Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, handler, tlsConfig)
}

func ServeListener(ctx context.Context, ln net.Listener, handler http.Handler, tlsConfig *tls.Config) error {
	server := &http.Server{
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheme := "http"
	if tlsConfig != nil {
		scheme = "https"
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	event := log.Info().Str("component", "web").Str("local", scheme+"://localhost:"+port)
	if localIP := system.GetLocalIP(); localIP != "" {
		event = event.Str("lan", scheme+"://"+net.JoinHostPort(localIP, port))
	}
	event.Msg("Control plane listening")

	errCh := make(chan error, 1)
	go func() {
		if tlsConfig != nil {
			errCh <- server.ServeTLS(ln, "", "")
		} else {
			errCh <- server.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
