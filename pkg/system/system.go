package system

import (
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
)

// GetLocalIP returns the first non-loopback IPv4 address, or "" when there is none.
func GetLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// DefaultAlias names a datagram client when none is configured: the
// hostname plus a short random suffix, so two clients on one host differ.
func DefaultAlias() string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "client-" + suffix
	}
	return host + "-" + suffix
}

// GenerateSessionID returns a random id for correlating log lines.
func GenerateSessionID() string {
	return uuid.NewString()
}
