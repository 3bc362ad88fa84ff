//go:build unix

package udp

import (
	"log"
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSocket enables address reuse and requests a large receive buffer. Failing to enlarge the buffer is not fatal.
func controlSocket(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		bufErr := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, socketBufferSize)
		if bufErr != nil {
			log.Printf("cannot set receive buffer size: %v", bufErr)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
