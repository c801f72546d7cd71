package driver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryTokenRoundTrip(t *testing.T) {
	issuer, err := NewRetryIssuer()
	require.NoError(t, err)

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5555}
	dcid := []byte{1, 2, 3, 4}
	now := time.Now()

	token := issuer.Issue(addr, dcid, now)
	assert.True(t, issuer.Validate(token, addr, dcid, now.Add(time.Second)))
}

func TestRetryTokenRejectsWrongAddr(t *testing.T) {
	issuer, err := NewRetryIssuer()
	require.NoError(t, err)

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5555}
	other := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5555}
	dcid := []byte{1, 2, 3, 4}
	now := time.Now()

	token := issuer.Issue(addr, dcid, now)
	assert.False(t, issuer.Validate(token, other, dcid, now))
}

func TestRetryTokenRejectsExpired(t *testing.T) {
	issuer, err := NewRetryIssuer()
	require.NoError(t, err)

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5555}
	dcid := []byte{1, 2, 3, 4}
	now := time.Now()

	token := issuer.Issue(addr, dcid, now)
	assert.False(t, issuer.Validate(token, addr, dcid, now.Add(time.Hour)))
}

func TestRetryTokenRejectsMalformed(t *testing.T) {
	issuer, err := NewRetryIssuer()
	require.NoError(t, err)

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5555}
	assert.False(t, issuer.Validate([]byte{1, 2, 3}, addr, []byte{1}, time.Now()))
}
