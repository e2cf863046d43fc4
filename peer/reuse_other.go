//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package peer

import "syscall"

// Without SO_REUSEPORT the registry connection uses an ephemeral port, and
// the address returned by SEARCH will not accept FETCH connections.
const sharesPort = false

func reuseControl(network, address string, c syscall.RawConn) error {
	return nil
}
