// Package client provides the user-facing local_datagram client: an outer
// lifecycle wrapper that owns an inner client endpoint, forwards its
// signals on the dispatcher, and reconnects on failure or close at a
// configured interval.
package client

import (
	"time"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/endpoint"
	"github.com/pqrs-org/go-local-datagram/pkg/protocol"
	"github.com/pqrs-org/go-local-datagram/pkg/signal"
)

// Client connects to a server socket file and keeps the connection alive
// across server restarts. All signals fire on the dispatcher thread.
//
// The setters must be called before AsyncStart.
type Client struct {
	d *dispatcher.Dispatcher

	serverPath string
	clientPath string
	bufferSize int

	serverCheckInterval       time.Duration
	clientSocketCheckInterval time.Duration
	nextHeartbeatDeadline     time.Duration
	// reconnectInterval of zero disables reconnect.
	reconnectInterval time.Duration
	pathResolver      func() string

	// queue is shared with every inner endpoint so entries queued while
	// disconnected are flushed after the next successful connect.
	queue *endpoint.SendQueue

	inner            *endpoint.ClientEndpoint
	reconnectEnabled bool

	Connected                     *signal.Signal[int]
	ConnectFailed                 *signal.Signal[error]
	Closed                        *signal.Signal[struct{}]
	ErrorOccurred                 *signal.Signal[error]
	Received                      *signal.Signal[endpoint.Datagram]
	NextHeartbeatDeadlineExceeded *signal.Signal[endpoint.Addr]
}

// New creates a Client for the given server socket file. When clientPath is
// non-empty the client binds it as a return address and can receive.
func New(d *dispatcher.Dispatcher, serverPath, clientPath string, bufferSize int) *Client {
	return &Client{
		d:                             d,
		serverPath:                    serverPath,
		clientPath:                    clientPath,
		bufferSize:                    bufferSize,
		queue:                         endpoint.NewSendQueue(),
		Connected:                     signal.New[int](d),
		ConnectFailed:                 signal.New[error](d),
		Closed:                        signal.New[struct{}](d),
		ErrorOccurred:                 signal.New[error](d),
		Received:                      signal.New[endpoint.Datagram](d),
		NextHeartbeatDeadlineExceeded: signal.New[endpoint.Addr](d),
	}
}

// SetServerCheckInterval configures the liveness probe period.
func (c *Client) SetServerCheckInterval(d time.Duration) {
	c.serverCheckInterval = d
}

// SetClientSocketCheckInterval configures how often the client verifies its
// own bound socket file still exists.
func (c *Client) SetClientSocketCheckInterval(d time.Duration) {
	c.clientSocketCheckInterval = d
}

// SetNextHeartbeatDeadline configures the heartbeat deadline this client
// advertises to the server. Only a client with a return path (clientPath)
// sends heartbeats.
func (c *Client) SetNextHeartbeatDeadline(d time.Duration) {
	c.nextHeartbeatDeadline = d
}

// SetReconnectInterval configures the backoff between connect attempts.
// Zero disables reconnect.
func (c *Client) SetReconnectInterval(d time.Duration) {
	c.reconnectInterval = d
}

// SetServerSocketFilePathResolver configures a callable that re-resolves
// the server path at connect time, enabling socket file rotation.
func (c *Client) SetServerSocketFilePathResolver(fn func() string) {
	c.pathResolver = fn
}

// AsyncStart enables reconnect and begins connecting.
func (c *Client) AsyncStart() {
	c.d.Enqueue(func() {
		c.reconnectEnabled = true
		c.connect()
	})
}

// AsyncStop disables reconnect, tears down the inner endpoint, and drains
// pending send entries. Reconnect is disabled before teardown so the
// inner's closed signal cannot schedule a reconnect.
func (c *Client) AsyncStop() {
	c.d.Enqueue(c.stop)
}

// AsyncSend queues a user datagram. The entry survives reconnect cycles;
// after AsyncStop it is completed without being sent.
func (c *Client) AsyncSend(data []byte) {
	c.AsyncSendProcessed(data, nil)
}

// AsyncSendProcessed queues a user datagram with a completion callback.
// The callback is a completion notice, not a delivery guarantee; it is
// invoked exactly once, on the dispatcher thread.
func (c *Client) AsyncSendProcessed(data []byte, processed func()) {
	payload := make([]byte, len(data))
	copy(payload, data)
	entry := endpoint.NewSendEntry(protocol.KindUserData, payload, processed)

	c.queue.Push(entry)
	c.d.Enqueue(func() {
		if c.inner != nil {
			c.inner.Wake()
			return
		}
		if !c.reconnectEnabled {
			c.drainQueue()
		}
	})
}

// Runs on the dispatcher thread.
func (c *Client) stop() {
	c.reconnectEnabled = false
	c.closeInner()
	c.drainQueue()
}

// Runs on the dispatcher thread.
func (c *Client) connect() {
	if c.inner != nil {
		return
	}

	inner := endpoint.NewClientEndpoint(c.d, c.queue, endpoint.ClientConfig{
		ServerPath:                c.serverPath,
		ClientPath:                c.clientPath,
		BufferSize:                c.bufferSize,
		ServerCheckInterval:       c.serverCheckInterval,
		ClientSocketCheckInterval: c.clientSocketCheckInterval,
		NextHeartbeatDeadline:     c.nextHeartbeatDeadline,
		PathResolver:              c.pathResolver,
	})
	c.inner = inner

	inner.Connected.Connect(func(pid int) {
		c.Connected.Emit(pid)
	})
	inner.ConnectFailed.Connect(func(err error) {
		c.ConnectFailed.Emit(err)
		if c.inner == inner {
			c.closeInner()
			c.enqueueReconnect()
		}
	})
	inner.Closed.Connect(func(struct{}) {
		c.Closed.Emit(struct{}{})
		if c.inner == inner {
			c.closeInner()
			c.enqueueReconnect()
		}
	})
	inner.ErrorOccurred.Connect(func(err error) {
		c.ErrorOccurred.Emit(err)
	})
	inner.Received.Connect(func(dg endpoint.Datagram) {
		c.Received.Emit(dg)
	})
	inner.NextHeartbeatDeadlineExceeded.Connect(func(addr endpoint.Addr) {
		c.NextHeartbeatDeadlineExceeded.Emit(addr)
	})

	inner.AsyncConnect()
}

// Runs on the dispatcher thread.
func (c *Client) closeInner() {
	if c.inner == nil {
		return
	}
	inner := c.inner
	c.inner = nil
	inner.Terminate()
}

// Runs on the dispatcher thread.
func (c *Client) enqueueReconnect() {
	if c.reconnectInterval <= 0 {
		return
	}
	c.d.EnqueueAt(func() {
		if !c.reconnectEnabled {
			return
		}
		c.connect()
	}, c.d.WhenNow().Add(c.reconnectInterval))
}

// Runs on the dispatcher thread.
func (c *Client) drainQueue() {
	for _, e := range c.queue.TakeAll() {
		if p := e.Processed(); p != nil {
			c.d.Enqueue(p)
		}
	}
}
