package endpoint

import (
	"net"
	"os"
	"time"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/protocol"
	"github.com/pqrs-org/go-local-datagram/pkg/signal"
)

// ClientConfig carries the construction parameters of a client endpoint.
// All fields must be set before AsyncConnect.
type ClientConfig struct {
	// ServerPath is the server socket file to connect to.
	ServerPath string

	// ClientPath, when non-empty, is bound as this client's return address
	// so the server can send back. The file is unlinked before bind and
	// removed again on close.
	ClientPath string

	// BufferSize is the framing ceiling; SO_SNDBUF is sized BufferSize+1
	// for the kind prefix.
	BufferSize int

	// ServerCheckInterval is the period of the liveness probe. Zero
	// disables probing.
	ServerCheckInterval time.Duration

	// ClientSocketCheckInterval is the period for verifying the bound
	// return-address file still exists. Zero disables the check.
	ClientSocketCheckInterval time.Duration

	// NextHeartbeatDeadline, when non-zero, is used to judge inbound
	// heartbeats and, when ClientPath is also set, is advertised to the
	// server in a heartbeat datagram on every server check.
	NextHeartbeatDeadline time.Duration

	// PathResolver, when non-nil, re-resolves the server path at connect
	// time so a rotated socket file is picked up on reconnect.
	PathResolver func() string
}

// ClientEndpoint connects to a server socket, runs server-presence probing,
// and delivers inbound datagrams. It is the inner endpoint owned by the
// reconnect wrapper in pkg/client.
type ClientEndpoint struct {
	*base
	cfg ClientConfig

	Connected                     *signal.Signal[int]
	ConnectFailed                 *signal.Signal[error]
	Received                      *signal.Signal[Datagram]
	NextHeartbeatDeadlineExceeded *signal.Signal[Addr]

	serverCheckTimer  *dispatcher.Timer
	clientSocketTimer *dispatcher.Timer

	// heartbeats tracks the last heartbeat instant per sender, judged
	// against the client's own configured deadline.
	heartbeats map[string]*heartbeatRecord
}

type heartbeatRecord struct {
	lastAt   time.Time
	deadline time.Time
	exceeded bool
}

// NewClientEndpoint creates a client endpoint sharing the given send queue.
// Pass a nil queue for a standalone endpoint.
func NewClientEndpoint(d *dispatcher.Dispatcher, queue *SendQueue, cfg ClientConfig) *ClientEndpoint {
	c := &ClientEndpoint{
		base:                          newBase(d, queue, cfg.BufferSize, "local_datagram client"),
		cfg:                           cfg,
		Connected:                     signal.New[int](d),
		ConnectFailed:                 signal.New[error](d),
		Received:                      signal.New[Datagram](d),
		NextHeartbeatDeadlineExceeded: signal.New[Addr](d),
		heartbeats:                    make(map[string]*heartbeatRecord),
	}
	c.serverCheckTimer = dispatcher.NewTimer(d)
	c.clientSocketTimer = dispatcher.NewTimer(d)
	c.onClose = func() {
		c.serverCheckTimer.Stop()
		c.clientSocketTimer.Stop()
	}
	return c
}

// AsyncConnect opens the socket, optionally binds the return address, and
// connects to the server path. Progress is reported through the Connected
// and ConnectFailed signals. Calling it on an endpoint that already has a
// socket is a no-op.
func (c *ClientEndpoint) AsyncConnect() {
	c.post(func() {
		if c.conn != nil {
			return
		}

		path := c.cfg.ServerPath
		if c.cfg.PathResolver != nil {
			path = c.cfg.PathResolver()
		}
		if path == "" {
			c.ConnectFailed.Emit(ErrServerPathEmpty)
			return
		}

		var laddr *net.UnixAddr
		if c.cfg.ClientPath != "" {
			_ = os.Remove(c.cfg.ClientPath)
			laddr = &net.UnixAddr{Name: c.cfg.ClientPath, Net: "unixgram"}
		}

		conn, err := net.DialUnix("unixgram", laddr, &net.UnixAddr{Name: path, Net: "unixgram"})
		if err != nil {
			c.ConnectFailed.Emit(err)
			return
		}

		// A margin (1 byte) is required for the kind prefix.
		if err := setSendBufferSize(conn, c.cfg.BufferSize+1); err != nil {
			_ = conn.Close()
			c.ConnectFailed.Emit(err)
			return
		}

		c.conn = conn
		if c.cfg.ClientPath != "" {
			c.ownedPath = c.cfg.ClientPath
		}
		c.socketReady = true

		c.startServerCheck()
		c.startClientSocketCheck()
		c.startReceive(c.handleDatagram)

		c.Connected.Emit(peerPID(conn))

		// Flush entries queued while disconnected.
		c.sendLoop()
	})
}

// Terminate stops the timers and closes the socket. The send queue is left
// intact for its owner to reuse or drain.
func (c *ClientEndpoint) Terminate() {
	c.serverCheckTimer.Stop()
	c.clientSocketTimer.Stop()
	c.base.Terminate()
}

func (c *ClientEndpoint) startServerCheck() {
	if c.cfg.ServerCheckInterval <= 0 {
		return
	}
	c.serverCheckTimer.Start(func() {
		c.post(c.checkServer)
	}, c.cfg.ServerCheckInterval)
}

// checkServer enqueues the liveness probe, a heartbeat when one is due, and
// sweeps inbound heartbeat deadlines. Runs on the io goroutine.
func (c *ClientEndpoint) checkServer() {
	if c.conn == nil || !c.socketReady {
		c.serverCheckTimer.Stop()
		return
	}

	c.AsyncSend(NewSendEntry(protocol.KindServerCheck, nil, nil))

	// A bidirectional client advertises its heartbeat deadline so the
	// server can track it.
	if c.cfg.NextHeartbeatDeadline > 0 && c.cfg.ClientPath != "" {
		payload := protocol.EncodeHeartbeatDeadline(c.cfg.NextHeartbeatDeadline)
		c.AsyncSend(NewSendEntry(protocol.KindHeartbeat, payload, nil))
	}

	c.sweepHeartbeats()
}

func (c *ClientEndpoint) sweepHeartbeats() {
	if c.cfg.NextHeartbeatDeadline <= 0 {
		return
	}
	now := time.Now()
	for path, rec := range c.heartbeats {
		if !rec.exceeded && now.After(rec.deadline) {
			rec.exceeded = true
			c.NextHeartbeatDeadlineExceeded.Emit(NewAddr(path))
		}
	}
}

func (c *ClientEndpoint) startClientSocketCheck() {
	if c.cfg.ClientSocketCheckInterval <= 0 || c.cfg.ClientPath == "" {
		return
	}
	path := c.cfg.ClientPath
	c.clientSocketTimer.Start(func() {
		c.post(func() {
			if c.conn == nil || !c.socketReady {
				c.clientSocketTimer.Stop()
				return
			}
			if _, err := os.Lstat(path); err != nil {
				// Our return address vanished; the server can no longer
				// reach us.
				c.closeNow(ErrSocketFileRemoved)
			}
		})
	}, c.cfg.ClientSocketCheckInterval)
}

// handleDatagram runs on the io goroutine for every inbound datagram.
func (c *ClientEndpoint) handleDatagram(kindByte byte, payload []byte, from Addr, senderPID int) {
	if c.conn == nil || !c.socketReady {
		// Delivered after close; no signal may follow closed.
		return
	}
	kind := protocol.Kind(kindByte)

	// Any datagram that is not a socket-level probe refreshes the
	// sender's liveness record.
	if kind != protocol.KindServerCheck && !from.Empty() {
		c.refreshHeartbeat(from)
	}

	switch kind {
	case protocol.KindUserData:
		c.Received.Emit(Datagram{Data: payload, Sender: from, SenderPID: senderPID})
	case protocol.KindHeartbeat, protocol.KindResponse, protocol.KindServerCheck:
		// Not surfaced to the user.
	}
}

func (c *ClientEndpoint) refreshHeartbeat(from Addr) {
	if c.cfg.NextHeartbeatDeadline <= 0 {
		return
	}
	now := time.Now()
	rec := c.heartbeats[from.Path()]
	if rec == nil {
		rec = &heartbeatRecord{}
		c.heartbeats[from.Path()] = rec
	}
	rec.lastAt = now
	rec.deadline = now.Add(c.cfg.NextHeartbeatDeadline)
	rec.exceeded = false
}
