package cliopts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBindAddrAcceptsHostPort(t *testing.T) {
	addr, err := ResolveBindAddr("127.0.0.1:4433")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr.IP.String())
	assert.Equal(t, 4433, addr.Port)
}

func TestResolveBindAddrDefaultsEmptyHost(t *testing.T) {
	addr, err := ResolveBindAddr(":0")
	require.NoError(t, err)
	assert.Equal(t, 0, addr.Port)
}

func TestResolveBindAddrRejectsUnknownInterface(t *testing.T) {
	_, err := ResolveBindAddr("definitely-not-a-real-interface-name")
	require.Error(t, err)
}
