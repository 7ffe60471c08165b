package endpoint

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrServerPathEmpty is reported through connect_failed when the
	// socket file path resolver returns an empty path.
	ErrServerPathEmpty = errors.New("local_datagram: server socket file path is empty")

	// ErrPathOccupied is reported through bind_failed when a regular file
	// already exists at the requested bind path. The file is preserved.
	ErrPathOccupied = errors.New("local_datagram: bind path occupied by a non-socket file")

	// ErrSocketFileRemoved is reported when an endpoint's own socket file
	// disappeared from disk.
	ErrSocketFileRemoved = errors.New("local_datagram: socket file removed")

	// ErrSendDeadlineExceeded is reported when a single send did not
	// complete within the watchdog deadline.
	ErrSendDeadlineExceeded = errors.New("local_datagram: send deadline exceeded")
)

// isNoBufferSpace classifies transient backpressure: keep the connection,
// retry the entry under the budget.
func isNoBufferSpace(err error) bool {
	return errors.Is(err, unix.ENOBUFS)
}

// isMessageSize classifies a per-message fatal error: drop the entry, keep
// the connection.
func isMessageSize(err error) bool {
	return errors.Is(err, unix.EMSGSIZE)
}

// isTimeout classifies a watchdog-expired send, reported as connection
// fatal.
func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
