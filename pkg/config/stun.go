package config

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun"
	"github.com/rs/zerolog/log"
)

const stunTimeout = 5 * time.Second

// ProbeSTUN sends a binding request to a stun: URL and returns the mapped
// address the server reports.
func ProbeSTUN(ctx context.Context, stunURL string) (string, error) {
	address, ok := strings.CutPrefix(stunURL, "stun:")
	if !ok {
		return "", fmt.Errorf("%w: not a stun url: %q", ErrConfig, stunURL)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(stunTimeout)
	}
	_ = conn.SetDeadline(deadline)

	m := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err = conn.Write(m.Raw); err != nil {
		return "", err
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}

	var response stun.Message
	response.Raw = buf[:n]
	if err = response.Decode(); err != nil {
		return "", err
	}
	if response.Type != stun.BindingSuccess {
		return "", fmt.Errorf("unexpected stun response %s", response.Type)
	}
	if response.TransactionID != m.TransactionID {
		return "", fmt.Errorf("stun transaction id mismatch")
	}

	var mapped stun.XORMappedAddress
	if err := mapped.GetFrom(&response); err != nil {
		return "", err
	}
	return mapped.String(), nil
}

// ProbeICE logs the reachability of every configured STUN server.
func (c WebRTCConfig) ProbeICE(ctx context.Context) {
	for _, url := range getServersFromString(c.STUNServers) {
		probeCtx, cancel := context.WithTimeout(ctx, stunTimeout)
		mapped, err := ProbeSTUN(probeCtx, url)
		cancel()
		if err != nil {
			log.Warn().Str("server", url).Err(err).Msg("STUN server is not available")
			continue
		}
		log.Info().Str("server", url).Str("mapped", mapped).Msg("STUN server is available")
	}
}
