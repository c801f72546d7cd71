//go:build linux

package socketset

import "net"

// fdOf extracts the raw file descriptor backing conn so it can be registered
// with epoll. The fd is not duplicated: it stays owned by conn, is closed
// when conn closes, and is valid only while conn is open.
func fdOf(conn *net.UDPConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}
