// Package server provides the user-facing local_datagram server: an outer
// lifecycle wrapper that owns an inner server endpoint, forwards its
// signals on the dispatcher, and rebinds on failure or close at a
// configured interval.
package server

import (
	"time"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/endpoint"
	"github.com/pqrs-org/go-local-datagram/pkg/protocol"
	"github.com/pqrs-org/go-local-datagram/pkg/signal"
)

// Server binds a Unix-domain datagram socket file and keeps it bound
// across socket-file loss. All signals fire on the dispatcher thread.
//
// The setters must be called before AsyncStart.
type Server struct {
	d *dispatcher.Dispatcher

	path       string
	bufferSize int

	serverCheckInterval time.Duration
	// reconnectInterval of zero disables rebind.
	reconnectInterval time.Duration

	// queue is shared with every inner endpoint so replies queued across
	// a rebind cycle are flushed afterwards.
	queue *endpoint.SendQueue

	inner            *endpoint.ServerEndpoint
	reconnectEnabled bool

	Bound                         *signal.Signal[struct{}]
	BindFailed                    *signal.Signal[error]
	Closed                        *signal.Signal[struct{}]
	ErrorOccurred                 *signal.Signal[error]
	Received                      *signal.Signal[endpoint.Datagram]
	NextHeartbeatDeadlineExceeded *signal.Signal[endpoint.Addr]
}

// New creates a Server for the given socket file path.
func New(d *dispatcher.Dispatcher, path string, bufferSize int) *Server {
	return &Server{
		d:                             d,
		path:                          path,
		bufferSize:                    bufferSize,
		queue:                         endpoint.NewSendQueue(),
		Bound:                         signal.New[struct{}](d),
		BindFailed:                    signal.New[error](d),
		Closed:                        signal.New[struct{}](d),
		ErrorOccurred:                 signal.New[error](d),
		Received:                      signal.New[endpoint.Datagram](d),
		NextHeartbeatDeadlineExceeded: signal.New[endpoint.Addr](d),
	}
}

// SetServerCheckInterval configures the self-probe and heartbeat sweep
// period.
func (s *Server) SetServerCheckInterval(d time.Duration) {
	s.serverCheckInterval = d
}

// SetReconnectInterval configures the backoff between bind attempts. Zero
// disables rebind.
func (s *Server) SetReconnectInterval(d time.Duration) {
	s.reconnectInterval = d
}

// AsyncStart enables rebind and begins binding.
func (s *Server) AsyncStart() {
	s.d.Enqueue(func() {
		s.reconnectEnabled = true
		s.bind()
	})
}

// AsyncStop disables rebind, tears down the inner endpoint, and drains
// pending send entries. Rebind is disabled before teardown so the inner's
// closed signal cannot schedule a rebind.
func (s *Server) AsyncStop() {
	s.d.Enqueue(s.stop)
}

// AsyncSend queues a user datagram addressed to the given sender.
func (s *Server) AsyncSend(data []byte, sender endpoint.Addr) {
	s.AsyncSendProcessed(data, sender, nil)
}

// AsyncSendProcessed queues a user datagram addressed to the given sender
// with a completion callback, invoked exactly once on the dispatcher
// thread.
func (s *Server) AsyncSendProcessed(data []byte, sender endpoint.Addr, processed func()) {
	payload := make([]byte, len(data))
	copy(payload, data)
	entry := endpoint.NewSendEntryTo(protocol.KindUserData, payload, sender, processed)

	s.queue.Push(entry)
	s.d.Enqueue(func() {
		if s.inner != nil {
			s.inner.Wake()
			return
		}
		if !s.reconnectEnabled {
			s.drainQueue()
		}
	})
}

// Runs on the dispatcher thread.
func (s *Server) stop() {
	s.reconnectEnabled = false
	s.closeInner()
	s.drainQueue()
}

// Runs on the dispatcher thread.
func (s *Server) bind() {
	if s.inner != nil {
		return
	}

	inner := endpoint.NewServerEndpoint(s.d, s.queue, endpoint.ServerConfig{
		Path:                s.path,
		BufferSize:          s.bufferSize,
		ServerCheckInterval: s.serverCheckInterval,
	})
	s.inner = inner

	inner.Bound.Connect(func(struct{}) {
		s.Bound.Emit(struct{}{})
	})
	inner.BindFailed.Connect(func(err error) {
		s.BindFailed.Emit(err)
		if s.inner == inner {
			s.closeInner()
			s.enqueueReconnect()
		}
	})
	inner.Closed.Connect(func(struct{}) {
		s.Closed.Emit(struct{}{})
		if s.inner == inner {
			s.closeInner()
			s.enqueueReconnect()
		}
	})
	inner.ErrorOccurred.Connect(func(err error) {
		s.ErrorOccurred.Emit(err)
	})
	inner.Received.Connect(func(dg endpoint.Datagram) {
		s.Received.Emit(dg)
	})
	inner.NextHeartbeatDeadlineExceeded.Connect(func(addr endpoint.Addr) {
		s.NextHeartbeatDeadlineExceeded.Emit(addr)
	})

	inner.AsyncBind()
}

// Runs on the dispatcher thread.
func (s *Server) closeInner() {
	if s.inner == nil {
		return
	}
	inner := s.inner
	s.inner = nil
	inner.Terminate()
}

// Runs on the dispatcher thread.
func (s *Server) enqueueReconnect() {
	if s.reconnectInterval <= 0 {
		return
	}
	s.d.EnqueueAt(func() {
		if !s.reconnectEnabled {
			return
		}
		s.bind()
	}, s.d.WhenNow().Add(s.reconnectInterval))
}

// Runs on the dispatcher thread.
func (s *Server) drainQueue() {
	for _, e := range s.queue.TakeAll() {
		if p := e.Processed(); p != nil {
			s.d.Enqueue(p)
		}
	}
}
