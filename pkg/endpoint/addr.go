package endpoint

// Addr identifies the filesystem path of a Unix-domain datagram peer. A
// datagram from a client that did not bind a return path carries an empty
// Addr; such a peer cannot be replied to or tracked.
type Addr struct {
	path string
}

// NewAddr returns an Addr for the given socket file path.
func NewAddr(path string) Addr {
	return Addr{path: path}
}

// Path returns the socket file path, or "" for an anonymous sender.
func (a Addr) Path() string {
	return a.path
}

// Empty reports whether the sender was anonymous.
func (a Addr) Empty() bool {
	return a.path == ""
}

func (a Addr) String() string {
	if a.path == "" {
		return "(anonymous)"
	}
	return a.path
}

// Datagram is a received user payload together with its sender.
type Datagram struct {
	Data   []byte
	Sender Addr

	// SenderPID is the sending process id from the datagram's
	// SCM_CREDENTIALS ancillary data; 0 when the platform passes no
	// credentials.
	SenderPID int
}
