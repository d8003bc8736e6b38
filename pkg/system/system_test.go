package system

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAliasIsUnique(t *testing.T) {
	a, b := DefaultAlias(), DefaultAlias()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, len(a), 255)
}

func TestGetLocalIP(t *testing.T) {
	ip := GetLocalIP()
	if ip == "" {
		t.Skip("no non-loopback IPv4 interface")
	}
	parsed := net.ParseIP(ip)
	require.NotNil(t, parsed)
	assert.False(t, parsed.IsLoopback())
}
