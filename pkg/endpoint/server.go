package endpoint

import (
	"log"
	"net"
	"os"
	"time"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/protocol"
	"github.com/pqrs-org/go-local-datagram/pkg/signal"
)

// probeBufferSize is the buffer size of the short-lived client the server
// uses to probe its own socket file.
const probeBufferSize = 32

// ServerConfig carries the construction parameters of a server endpoint.
type ServerConfig struct {
	// Path is the socket file to bind. A pre-existing regular file at this
	// path is preserved and bind fails; a stale socket file is unlinked.
	Path string

	// BufferSize is the framing ceiling; SO_RCVBUF is sized BufferSize+32.
	BufferSize int

	// ServerCheckInterval is the period of the self-probe that detects
	// removal of the bound socket file, and of the per-peer heartbeat
	// deadline sweep. Zero disables both.
	ServerCheckInterval time.Duration
}

// ServerEndpoint binds and listens on a Unix-domain datagram socket,
// tracks per-peer heartbeat deadlines, and sends to peers by path. It is
// the inner endpoint owned by the reconnect wrapper in pkg/server.
type ServerEndpoint struct {
	*base
	cfg ServerConfig

	Bound                         *signal.Signal[struct{}]
	BindFailed                    *signal.Signal[error]
	Received                      *signal.Signal[Datagram]
	NextHeartbeatDeadlineExceeded *signal.Signal[Addr]

	serverCheckTimer *dispatcher.Timer

	peers map[string]*peerRecord

	probe *ClientEndpoint
}

// peerRecord tracks liveness of one peer path. A peer that never advertised
// a heartbeat deadline has interval 0 and is not tracked.
type peerRecord struct {
	lastHeartbeatAt  time.Time
	interval         time.Duration
	nextDeadline     time.Time
	deadlineExceeded bool
}

// NewServerEndpoint creates a server endpoint sharing the given send queue.
// Pass a nil queue for a standalone endpoint.
func NewServerEndpoint(d *dispatcher.Dispatcher, queue *SendQueue, cfg ServerConfig) *ServerEndpoint {
	s := &ServerEndpoint{
		base:                          newBase(d, queue, cfg.BufferSize, "local_datagram server"),
		cfg:                           cfg,
		Bound:                         signal.New[struct{}](d),
		BindFailed:                    signal.New[error](d),
		Received:                      signal.New[Datagram](d),
		NextHeartbeatDeadlineExceeded: signal.New[Addr](d),
		peers:                         make(map[string]*peerRecord),
	}
	s.serverCheckTimer = dispatcher.NewTimer(d)
	s.onClose = func() {
		s.serverCheckTimer.Stop()
		s.dropProbe()
		s.closePeers()
	}
	return s
}

// AsyncBind opens the socket and binds the configured path. Progress is
// reported through the Bound and BindFailed signals.
func (s *ServerEndpoint) AsyncBind() {
	s.post(func() {
		if s.conn != nil {
			return
		}

		path := s.cfg.Path

		// A stale socket file from a dead server is unlinked; anything
		// else at the path is preserved and bind fails.
		if fi, err := os.Lstat(path); err == nil {
			if fi.Mode()&os.ModeSocket == 0 {
				s.BindFailed.Emit(ErrPathOccupied)
				return
			}
			_ = os.Remove(path)
		}

		conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
		if err != nil {
			s.BindFailed.Emit(err)
			return
		}
		// Closing a unixgram conn leaves the file on disk; the endpoint
		// unlinks its own socket file in closeNow.

		// A margin (32 bytes) is required to receive a payload of exactly
		// BufferSize.
		if err := setReceiveBufferSize(conn, s.cfg.BufferSize+receiveBufferMargin); err != nil {
			_ = conn.Close()
			_ = os.Remove(path)
			s.BindFailed.Emit(err)
			return
		}

		// Ask the kernel to attach sender credentials to every inbound
		// datagram; the peer manager verifies against them. Datagrams
		// carry pid 0 where the platform cannot provide this.
		if err := enableCredentialPassing(conn); err != nil {
			log.Printf("local_datagram server: credential passing: %v", err)
		}

		s.conn = conn
		s.ownedPath = path
		s.socketReady = true

		s.startServerCheck()

		s.Bound.Emit(struct{}{})

		s.startReceive(s.handleDatagram)

		// Flush entries queued while unbound.
		s.sendLoop()
	})
}

// AsyncSendTo enqueues a user datagram addressed to the given peer path.
func (s *ServerEndpoint) AsyncSendTo(data []byte, destination Addr, processed func()) {
	s.AsyncSend(NewSendEntryTo(protocol.KindUserData, data, destination, processed))
}

// Terminate stops the timers, drops the probe, and closes the socket. The
// send queue is left intact for its owner to reuse or drain.
func (s *ServerEndpoint) Terminate() {
	s.serverCheckTimer.Stop()
	s.post(s.dropProbe)
	s.base.Terminate()
}

func (s *ServerEndpoint) startServerCheck() {
	if s.cfg.ServerCheckInterval <= 0 {
		return
	}
	s.serverCheckTimer.Start(func() {
		s.post(s.checkServer)
	}, s.cfg.ServerCheckInterval)
}

// checkServer sweeps peer heartbeat deadlines and probes the on-disk
// socket entry with a short-lived client. Runs on the io goroutine.
func (s *ServerEndpoint) checkServer() {
	if s.conn == nil || !s.socketReady {
		s.serverCheckTimer.Stop()
		return
	}

	s.sweepPeers()

	if s.probe != nil {
		return
	}

	probe := NewClientEndpoint(s.d, nil, ClientConfig{
		ServerPath: s.cfg.Path,
		BufferSize: probeBufferSize,
	})
	s.probe = probe

	probe.Connected.Connect(func(int) {
		s.post(func() {
			if s.probe == probe {
				s.dropProbe()
			}
		})
	})
	probe.ConnectFailed.Connect(func(error) {
		// The socket file was removed out from under us. The probe is
		// dropped on its own io goroutine before the close of this
		// endpoint is posted.
		s.post(func() {
			if s.probe == probe {
				s.dropProbe()
				s.closeNow(ErrSocketFileRemoved)
			}
		})
	})

	probe.AsyncConnect()
}

func (s *ServerEndpoint) dropProbe() {
	if s.probe == nil {
		return
	}
	probe := s.probe
	s.probe = nil
	probe.Terminate()
}

// sweepPeers emits next_heartbeat_deadline_exceeded once per deadline miss;
// the flag resets when the peer is next heard from.
func (s *ServerEndpoint) sweepPeers() {
	now := time.Now()
	for path, rec := range s.peers {
		if rec.interval <= 0 {
			continue
		}
		if !rec.deadlineExceeded && now.After(rec.nextDeadline) {
			rec.deadlineExceeded = true
			s.NextHeartbeatDeadlineExceeded.Emit(NewAddr(path))
		}
	}
}

// handleDatagram runs on the io goroutine for every inbound datagram.
func (s *ServerEndpoint) handleDatagram(kindByte byte, payload []byte, from Addr, senderPID int) {
	if s.conn == nil || !s.socketReady {
		// Delivered after close; no signal may follow closed.
		return
	}
	kind := protocol.Kind(kindByte)

	// Any datagram that is not a socket-level probe refreshes the peer's
	// liveness record.
	if kind != protocol.KindServerCheck && !from.Empty() {
		rec := s.peers[from.Path()]
		if rec == nil {
			rec = &peerRecord{}
			s.peers[from.Path()] = rec
		}
		now := time.Now()
		rec.lastHeartbeatAt = now
		if kind == protocol.KindHeartbeat {
			if interval, ok := protocol.DecodeHeartbeatDeadline(payload); ok {
				rec.interval = interval
			}
		}
		if rec.interval > 0 {
			rec.nextDeadline = now.Add(rec.interval)
			rec.deadlineExceeded = false
		}
	}

	switch kind {
	case protocol.KindUserData:
		s.Received.Emit(Datagram{Data: payload, Sender: from, SenderPID: senderPID})
	case protocol.KindServerCheck, protocol.KindHeartbeat, protocol.KindResponse:
		// Not surfaced to the user.
	}
}

// closePeers clears the peer table. Runs on the io goroutine.
func (s *ServerEndpoint) closePeers() {
	s.peers = make(map[string]*peerRecord)
}
