//go:build !linux

package socketset

import "net"

// fdOf has no portable meaning outside epoll; the fallbackPoller never uses
// the fd value beyond treating it as an opaque map key, so any unique int
// per socket is sufficient.
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
