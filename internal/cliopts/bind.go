package cliopts

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ResolveBindAddr resolves one -l/--local value, which is either a literal
// "host:port" address or a bare interface name (spec.md section 6), to a
// concrete *net.UDPAddr. An interface name binds to its first routable
// address, preferring IPv4, grounded the same way the teacher resolves
// --interface flags elsewhere in the network-tooling packages.
func ResolveBindAddr(value string) (*net.UDPAddr, error) {
	if host, port, err := net.SplitHostPort(value); err == nil {
		if _, portErr := strconv.Atoi(port); portErr == nil {
			if host == "" {
				host = "0.0.0.0"
			}
			addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
			if err != nil {
				return nil, fmt.Errorf("cliopts: resolve %q: %w", value, err)
			}
			return addr, nil
		}
	}

	ip, err := interfaceAddr(value)
	if err != nil {
		return nil, fmt.Errorf("cliopts: %q is neither a host:port address nor a known interface: %w", value, err)
	}
	return &net.UDPAddr{IP: ip, Port: 0}, nil
}

func interfaceAddr(name string) (net.IP, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}

	var v6 net.IP
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP == nil || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4, nil
		}
		if v6 == nil {
			v6 = ipNet.IP
		}
	}
	if v6 != nil {
		return v6, nil
	}
	return nil, fmt.Errorf("interface %s has no non-loopback address", strings.TrimSpace(name))
}
