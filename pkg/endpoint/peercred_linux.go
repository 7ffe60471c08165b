//go:build linux

package endpoint

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerPID extracts the peer process id from the connected socket's
// credentials. Returns 0 when the kernel does not report credentials for
// this socket type.
func peerPID(conn *net.UnixConn) int {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0
	}
	var pid int
	_ = raw.Control(func(fd uintptr) {
		cred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err == nil {
			pid = int(cred.Pid)
		}
	})
	return pid
}

// enableCredentialPassing turns on SO_PASSCRED so every datagram received
// on the socket carries the sender's credentials as SCM_CREDENTIALS
// ancillary data.
func enableCredentialPassing(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// readDatagram reads one datagram together with the sender's process id
// from SCM_CREDENTIALS ancillary data. The pid is 0 when the socket has no
// credential passing enabled or the kernel sent none.
func readDatagram(conn *net.UnixConn, buf, oob []byte) (n int, addr *net.UnixAddr, pid int, err error) {
	n, oobn, _, addr, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return n, addr, 0, err
	}
	if oobn > 0 {
		msgs, perr := unix.ParseSocketControlMessage(oob[:oobn])
		if perr == nil {
			for i := range msgs {
				cred, cerr := unix.ParseUnixCredentials(&msgs[i])
				if cerr == nil {
					pid = int(cred.Pid)
				}
			}
		}
	}
	return n, addr, pid, nil
}

// credentialOOBSize is the ancillary buffer size needed for one
// SCM_CREDENTIALS message.
func credentialOOBSize() int {
	return unix.CmsgSpace(unix.SizeofUcred)
}
