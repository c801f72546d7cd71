//go:build !linux

package socketset

import (
	"log/slog"
	"net"
	"time"
)

// gsoOther is the portable fallback: one WriteTo per segment. Non-Linux
// platforms have no UDP_SEGMENT equivalent reachable from Go, so the burst
// is always split, matching tools/twamp/pkg/udp's non-Linux dialer fallback.
type gsoOther struct {
	conn *net.UDPConn
}

func newGSOWriter(conn *net.UDPConn, _ *slog.Logger) gsoWriter {
	return &gsoOther{conn: conn}
}

func (g *gsoOther) WriteBurst(buf []byte, to net.Addr, segSize int, _ time.Time) (int, error) {
	return writePerSegment(g.conn, buf, to, segSize)
}

func writePerSegment(conn *net.UDPConn, buf []byte, to net.Addr, segSize int) (int, error) {
	total := 0
	for off := 0; off < len(buf); off += segSize {
		end := off + segSize
		if end > len(buf) {
			end = len(buf)
		}
		n, err := conn.WriteTo(buf[off:end], to)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
