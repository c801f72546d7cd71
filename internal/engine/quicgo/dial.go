package quicgo

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/quicperfio/quicperf/internal/protocol"
)

// handshakeTimeout bounds the initial QUIC handshake; a peer that never
// responds must still surface as a fatal startup error (spec.md section 7).
const handshakeTimeout = 10 * time.Second

// DialConfig bundles everything a client dial needs beyond the local/peer
// address pair.
type DialConfig struct {
	Local, Peer  *net.UDPAddr
	ServerName   string
	InsecureTLS  bool
	KeyLogWriter io.Writer
	QLogDir      string
}

// Dial opens a QUIC connection from a pre-bound local UDP socket to peer,
// offering the test protocol's ALPN set, and wraps the result in an Adapter
// whose initial path is (local, peer).
func Dial(ctx context.Context, pconn net.PacketConn, cfg DialConfig) (*Adapter, error) {
	tlsConf := &tls.Config{
		ServerName:         cfg.ServerName,
		NextProtos:         protocol.TestALPN(),
		InsecureSkipVerify: cfg.InsecureTLS,
		KeyLogWriter:       cfg.KeyLogWriter,
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	tr := &quic.Transport{Conn: pconn}
	conn, err := tr.Dial(dialCtx, cfg.Peer, tlsConf, quicConfig(cfg.QLogDir, "client"))
	if err != nil {
		return nil, fmt.Errorf("quicgo: dial %s: %w", cfg.Peer, err)
	}

	return New(conn, cfg.Local, cfg.Peer), nil
}

// quicConfig builds the shared quic.Config. qlogDir enables a per-connection
// qlog trace (empty disables it, matching QLOGDIR unset).
func quicConfig(qlogDir, role string) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 5 * time.Second,
		Tracer:          qlogTracer(qlogDir, role),
	}
}
