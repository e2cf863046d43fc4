//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package peer

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sharesPort reports whether the registry connection can be bound to the
// FETCH listener's port on this platform.
const sharesPort = true

// reuseControl lets the FETCH listener and the outgoing registry
// connection bind the same local port, so the endpoint the registry
// observes for this peer is the one serving FETCH.
func reuseControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
