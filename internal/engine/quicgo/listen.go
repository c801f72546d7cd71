package quicgo

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/quicperfio/quicperf/internal/protocol"
)

// ListenConfig bundles a server's TLS material and the local address new
// connections should be reported under as their initial path.
type ListenConfig struct {
	Local             *net.UDPAddr
	CertFile, KeyFile string
	KeyLogWriter      io.Writer
	QLogDir           string
}

// Listener wraps a quic-go Transport/Listener pair bound to one UDP socket
// and hands back Adapter-wrapped connections as they complete their
// handshake. It owns that socket's entire read loop -- see the package doc
// for why the driver's own socketset never touches this address.
type Listener struct {
	tr *quic.Transport
	ln *quic.Listener
}

// Listen binds cfg.Local and starts accepting QUIC connections offering the
// test protocol's ALPN set.
func Listen(cfg ListenConfig) (*Listener, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("quicgo: load cert/key: %w", err)
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   protocol.TestALPN(),
		KeyLogWriter: cfg.KeyLogWriter,
	}

	pconn, err := net.ListenUDP("udp", cfg.Local)
	if err != nil {
		return nil, fmt.Errorf("quicgo: listen %s: %w", cfg.Local, err)
	}

	tr := &quic.Transport{Conn: pconn}
	ln, err := tr.Listen(tlsConf, quicConfig(cfg.QLogDir, "server"))
	if err != nil {
		pconn.Close()
		return nil, fmt.Errorf("quicgo: listen %s: %w", cfg.Local, err)
	}
	return &Listener{tr: tr, ln: ln}, nil
}

// Accept blocks for the next client and wraps it as an Adapter whose initial
// path is (local, conn's remote address). The caller is responsible for
// waiting out the handshake (engine.Connection.IsEstablished) before relying
// on ALPN/stream state -- handshakeTimeout bounds how long that may take.
func (l *Listener) Accept(ctx context.Context) (*Adapter, error) {
	acceptCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, err := l.ln.Accept(acceptCtx)
	if err != nil {
		return nil, fmt.Errorf("quicgo: accept: %w", err)
	}
	local := conn.LocalAddr()
	peer := conn.RemoteAddr()
	return New(conn, local, peer), nil
}

func (l *Listener) Close() error {
	return l.ln.Close()
}
