// Package protocol implements the application layer of spec section 4.6: a
// JSON TestConfig/Ack handshake over QUIC stream 0, followed by either a
// bulk transfer or a bitrate-paced transfer, gated by test duration.
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

func marshalConfig(tc TestConfig) ([]byte, error) {
	return json.Marshal(tc)
}

var errConfigMismatch = errors.New("protocol: local_addrs and peer_addrs must have the same length")

// testALPN is the ALPN set the wire format advertises (spec section 6).
var testALPN = []string{"quicheperf", "quicheperf-00"}

// TestALPN returns the ALPN identifiers a handshake must offer/accept.
func TestALPN() []string { return append([]string(nil), testALPN...) }

// Duration mirrors the wire {secs, nanos} pair so JSON round-trips exactly
// byte-for-byte regardless of host Duration formatting (spec section 8:
// "Config round-trip... byte-for-byte after JSON canonicalization").
type Duration struct {
	Secs  uint64 `json:"secs"`
	Nanos uint32 `json:"nanos"`
}

func DurationFromGo(d time.Duration) Duration {
	return Duration{Secs: uint64(d / time.Second), Nanos: uint32(d % time.Second)}
}

func (d Duration) ToGo() time.Duration {
	return time.Duration(d.Secs)*time.Second + time.Duration(d.Nanos)
}

// TestConfig is the client->server request of spec section 3/6.
type TestConfig struct {
	LocalAddrs     []string `json:"local_addrs"`
	PeerAddrs      []string `json:"peer_addrs"`
	Password       *string  `json:"password,omitempty"`
	ClientSending  bool     `json:"client_sending"`
	Duration       Duration `json:"duration"`
	BitrateTarget  *uint64  `json:"bitrate_target,omitempty"`
}

// Validate enforces the invariant from spec section 3: one peer address per
// local address.
func (c TestConfig) Validate() error {
	if len(c.LocalAddrs) != len(c.PeerAddrs) {
		return errConfigMismatch
	}
	return nil
}

// Ack is the server->client response of spec section 6.
type Ack struct {
	Error *string `json:"error"`
}
