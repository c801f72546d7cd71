//go:build linux

package socketset

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// udpBufBytes is the target SO_RCVBUF/SO_SNDBUF size from spec section 4.1.
const udpBufBytes = 10 * 1024 * 1024

// configurePlatform applies the Linux-only socket options spec section 4.1
// describes: SO_TXTIME with CLOCK_MONOTONIC, SO_RCVBUF/SO_SNDBUF sized to
// 10MB (re-read and warn, never fail, on kernel doubling/clamping), and
// SO_BINDTODEVICE when the local IP maps to a known interface. Grounded on
// tools/twamp/pkg/light/sender_linux.go's SyscallConn+SetsockoptInt pattern.
func configurePlatform(s *SocketState) error {
	raw, err := s.conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("syscall conn: %w", err)
	}

	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := raw.Control(func(fd uintptr) {
		note(setTXTime(int(fd)))
		note(setBufSize(s, int(fd), unix.SO_RCVBUF, "rcv"))
		note(setBufSize(s, int(fd), unix.SO_SNDBUF, "snd"))
		if ifname := ifnameForLocalIP(s.local.IP); ifname != "" {
			if err := unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifname); err != nil {
				note(fmt.Errorf("SO_BINDTODEVICE(%s): %w", ifname, err))
			} else {
				s.log.Info("bound socket to device", "interface", ifname)
			}
		}
	}); err != nil {
		return err
	}

	return firstErr
}

func setTXTime(fd int) error {
	cfg := unix.SockTxtime{Clockid: int32(unix.CLOCK_MONOTONIC)}
	if err := unix.SetsockoptSockTxtime(fd, unix.SOL_SOCKET, unix.SO_TXTIME, &cfg); err != nil {
		return fmt.Errorf("SO_TXTIME: %w", err)
	}
	return nil
}

func setBufSize(s *SocketState, fd, opt int, label string) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, opt, udpBufBytes); err != nil {
		return fmt.Errorf("SO_%sBUF: %w", label, err)
	}
	got, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, opt)
	if err != nil {
		return fmt.Errorf("getsockopt SO_%sBUF: %w", label, err)
	}
	// The kernel commonly doubles the requested value for bookkeeping
	// overhead, and may clamp to net.core.{r,w}mem_max. Either is fine;
	// only warn when the effective size ends up smaller than requested.
	if got < udpBufBytes {
		s.log.Warn("kernel clamped UDP buffer size below request",
			"buf", label, "requested", udpBufBytes, "effective", got)
	}
	return nil
}

// ifnameForLocalIP resolves a bound local IP to the interface that owns it,
// so the socket can additionally be pinned with SO_BINDTODEVICE. Grounded on
// github.com/vishvananda/netlink, already a dependency of the teacher for
// exactly this kind of address<->link lookup.
func ifnameForLocalIP(ip net.IP) string {
	if ip == nil || ip.IsUnspecified() {
		return ""
	}
	links, err := netlink.LinkList()
	if err != nil {
		return ""
	}
	for _, link := range links {
		addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if a.IP.Equal(ip) {
				return link.Attrs().Name
			}
		}
	}
	return ""
}
