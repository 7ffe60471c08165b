package endpoint

import (
	"net"

	"golang.org/x/sys/unix"
)

// setSendBufferSize sets SO_SNDBUF. The pipeline sizes it buffer_size + 1
// so the kind prefix never pushes a full-size payload over the kernel
// buffer ceiling.
func setSendBufferSize(conn *net.UnixConn, size int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, size)
	}); err != nil {
		return err
	}
	return sockErr
}

// setReceiveBufferSize sets SO_RCVBUF.
func setReceiveBufferSize(conn *net.UnixConn, size int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size)
	}); err != nil {
		return err
	}
	return sockErr
}
