//go:build linux

package socketset

import (
	"log/slog"
	"net"
	"time"
	"unsafe"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// gsoLinux batches a send burst into a single sendmmsg-style syscall using
// UDP_SEGMENT ancillary data. If the very first attempt is rejected (old
// kernel, non-UDP socket, etc) it falls back permanently to one WriteTo per
// segment; a rejection after an earlier success falls back for that burst
// only. Grounded on golang.org/x/net/ipv4.PacketConn.WriteBatch, the same
// batched-datagram primitive tools/twamp reaches for on Linux.
type gsoLinux struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	log     *slog.Logger
	checked bool
	ok      bool
}

func newGSOWriter(conn *net.UDPConn, log *slog.Logger) gsoWriter {
	return &gsoLinux{conn: conn, pconn: ipv4.NewPacketConn(conn), log: log}
}

func (g *gsoLinux) WriteBurst(buf []byte, to net.Addr, segSize int, txAt time.Time) (int, error) {
	if g.checked && !g.ok {
		return writePerSegment(g.conn, buf, to, segSize)
	}

	msg := ipv4.Message{
		Buffers: [][]byte{buf},
		Addr:    to,
		OOB:     udpSegmentCmsg(segSize),
	}
	n, err := g.pconn.WriteBatch([]ipv4.Message{msg}, 0)
	if err != nil {
		if !g.checked {
			g.checked = true
			g.ok = false
			g.log.Warn("GSO unsupported, falling back to per-segment send", "error", err)
		}
		return writePerSegment(g.conn, buf, to, segSize)
	}
	g.checked = true
	g.ok = true
	if n != 1 {
		return 0, nil
	}
	return msg.N, nil
}

// udpSegmentCmsg builds the cmsghdr carrying UDP_SEGMENT, the GSO
// segmentation-size hint the kernel expects alongside a coalesced buffer.
func udpSegmentCmsg(segSize int) []byte {
	b := make([]byte, unix.CmsgSpace(2))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = unix.SOL_UDP
	h.Type = unix.UDP_SEGMENT
	h.SetLen(unix.CmsgLen(2))
	*(*uint16)(unsafe.Pointer(&b[unix.CmsgSpace(0)])) = uint16(segSize)
	return b
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
