package endpoint

import (
	"errors"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/signal"
)

const (
	// sendDeadlineTimeout is the watchdog budget for a single send. Some
	// kernels never complete a send after the peer disappears; the
	// watchdog closes the endpoint instead of waiting forever.
	sendDeadlineTimeout = 5000 * time.Millisecond

	// noBufferSpaceRetryDelay is how long the pipeline waits for kernel
	// buffer space before retrying the head entry.
	noBufferSpaceRetryDelay = 100 * time.Millisecond

	// An entry that makes no progress after noBufferSpaceRetryLimit
	// ENOBUFS results, or any entry after noBufferSpaceAbortLimit, is
	// dropped.
	noBufferSpaceRetryLimit = 10
	noBufferSpaceAbortLimit = 100

	// receiveBufferMargin pads the receive buffer so a payload of exactly
	// buffer_size fits alongside the kind prefix.
	receiveBufferMargin = 32
)

// base carries the socket, the io goroutine, the send timers, and the send
// pipeline shared by the client and server endpoints. All fields are
// mutated only on the io goroutine.
type base struct {
	d          *dispatcher.Dispatcher
	queue      *SendQueue
	bufferSize int
	logPrefix  string

	mu         sync.Mutex
	pending    []func()
	terminated bool
	cond       *sync.Cond
	loopExited chan struct{}

	conn        *net.UnixConn
	socketReady bool
	// ownedPath is the socket file this endpoint created; it is unlinked
	// on close. Never set for files the endpoint did not create.
	ownedPath string

	sendInvoker  *time.Timer
	sendWatchdog *time.Timer

	// onClose runs on the io goroutine during closeNow, before the closed
	// signal. Client and server endpoints hook their timers and tables.
	onClose func()

	Closed        *signal.Signal[struct{}]
	ErrorOccurred *signal.Signal[error]
}

func newBase(d *dispatcher.Dispatcher, queue *SendQueue, bufferSize int, logPrefix string) *base {
	if queue == nil {
		queue = NewSendQueue()
	}
	b := &base{
		d:             d,
		queue:         queue,
		bufferSize:    bufferSize,
		logPrefix:     logPrefix,
		loopExited:    make(chan struct{}),
		Closed:        signal.New[struct{}](d),
		ErrorOccurred: signal.New[error](d),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.ioLoop()
	return b
}

// ioLoop is the endpoint's io goroutine: the only goroutine that mutates
// endpoint state and dequeues send entries.
func (b *base) ioLoop() {
	defer close(b.loopExited)
	for {
		b.mu.Lock()
		for len(b.pending) == 0 && !b.terminated {
			b.cond.Wait()
		}
		if len(b.pending) == 0 && b.terminated {
			b.mu.Unlock()
			return
		}
		tasks := b.pending
		b.pending = nil
		b.mu.Unlock()

		for _, f := range tasks {
			f()
		}
	}
}

// post schedules f on the io goroutine. Posts made after termination are
// dropped; posts execute in FIFO order.
func (b *base) post(f func()) {
	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, f)
	b.cond.Signal()
	b.mu.Unlock()
}

// AsyncSend enqueues an entry and wakes the send invoker. Safe from any
// goroutine. After the endpoint is terminated the entry stays in the shared
// queue for the owner to drain.
func (b *base) AsyncSend(e *SendEntry) {
	if e == nil {
		return
	}
	b.queue.Push(e)
	b.post(b.sendLoop)
}

// AsyncClose posts a close of the socket to the io goroutine.
func (b *base) AsyncClose() {
	b.post(func() { b.closeNow(nil) })
}

// Terminate closes the endpoint and stops the io goroutine, blocking until
// it has exited. The send queue is left intact: it is shared with the
// reconnect wrapper, which either hands it to the next inner endpoint or
// drains it on stop.
func (b *base) Terminate() {
	b.post(func() { b.closeNow(nil) })

	b.mu.Lock()
	b.terminated = true
	b.cond.Signal()
	b.mu.Unlock()
	<-b.loopExited
}

// Wake kicks the send pipeline. Owners that push entries into the shared
// queue directly use this instead of AsyncSend.
func (b *base) Wake() {
	b.post(b.sendLoop)
}

// wakeSendInvoker arms the send invoker to fire after delay on the io
// goroutine. Waking is idempotent; an earlier pending wake is replaced.
func (b *base) wakeSendInvoker(delay time.Duration) {
	if b.sendInvoker != nil {
		b.sendInvoker.Stop()
		b.sendInvoker = nil
	}
	if delay <= 0 {
		b.post(b.sendLoop)
		return
	}
	b.sendInvoker = time.AfterFunc(delay, func() {
		b.post(b.sendLoop)
	})
}

// armSendWatchdog starts the per-send deadline. If the send has not
// completed when it fires, the socket deadline is forced so the blocked
// send returns, and the endpoint closes.
func (b *base) armSendWatchdog() {
	conn := b.conn
	b.sendWatchdog = time.AfterFunc(sendDeadlineTimeout, func() {
		if conn != nil {
			_ = conn.SetWriteDeadline(time.Now())
		}
		b.post(func() { b.closeNow(ErrSendDeadlineExceeded) })
	})
}

func (b *base) cancelSendWatchdog() {
	if b.sendWatchdog != nil {
		b.sendWatchdog.Stop()
		b.sendWatchdog = nil
	}
}

// sendLoop runs one step of the cooperative send pipeline on the io
// goroutine, then re-posts itself while entries remain.
func (b *base) sendLoop() {
	if b.conn == nil || !b.socketReady {
		return
	}
	e := b.queue.Front()
	if e == nil {
		return
	}

	b.armSendWatchdog()
	_ = b.conn.SetWriteDeadline(time.Now().Add(sendDeadlineTimeout + time.Second))

	var n int
	var err error
	if dest := e.Destination(); !dest.Empty() {
		n, err = b.conn.WriteToUnix(e.MakeBuffer(), &net.UnixAddr{Name: dest.Path(), Net: "unixgram"})
	} else {
		n, err = b.conn.Write(e.MakeBuffer())
	}

	b.cancelSendWatchdog()
	_ = b.conn.SetWriteDeadline(time.Time{})
	e.AddBytesTransferred(n)

	var nextDelay time.Duration
	switch {
	case err == nil:

	case isNoBufferSpace(err):
		// Transient backpressure: keep the connection, retry the entry
		// under the budget.
		e.IncrementNoBufferSpaceCount()
		count := e.NoBufferSpaceCount()
		if count > noBufferSpaceRetryLimit &&
			(e.BytesTransferred() == 0 || count > noBufferSpaceAbortLimit) {
			b.ErrorOccurred.Emit(err)
			e.markDropped()
		}
		nextDelay = noBufferSpaceRetryDelay

	case isMessageSize(err):
		// Problem of the sending data: keep the connection, drop the
		// entry.
		b.ErrorOccurred.Emit(err)
		e.markDropped()

	default:
		// Connection error (peer reset, not connected, watchdog expiry):
		// close the endpoint, keep the entry for a future reconnect.
		if isTimeout(err) {
			err = ErrSendDeadlineExceeded
		}
		b.ErrorOccurred.Emit(err)
		b.closeNow(nil)
		return
	}

	if e.TransferComplete() {
		b.queue.PopFront()
		if p := e.Processed(); p != nil {
			b.d.Enqueue(p)
		}
	}

	if b.queue.Front() != nil {
		b.wakeSendInvoker(nextDelay)
	}
}

// closeNow cancels the timers, closes and releases the socket, unlinks the
// owned socket file, and emits closed exactly once per prior
// socket_ready=true. Runs on the io goroutine. The cause, when non-nil, is
// reported through error_occurred before closed.
func (b *base) closeNow(cause error) {
	if b.conn == nil {
		return
	}

	if b.sendInvoker != nil {
		b.sendInvoker.Stop()
		b.sendInvoker = nil
	}
	b.cancelSendWatchdog()

	if cause != nil {
		b.ErrorOccurred.Emit(cause)
	}

	if err := b.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Printf("%s: close: %v", b.logPrefix, err)
	}
	b.conn = nil

	if b.ownedPath != "" {
		_ = os.Remove(b.ownedPath)
		b.ownedPath = ""
	}

	if b.onClose != nil {
		b.onClose()
	}

	if b.socketReady {
		b.socketReady = false
		b.Closed.Emit(struct{}{})
	}
}

// startReceive launches the blocking receive goroutine. Each datagram is
// copied and posted to the io goroutine, where handle runs with the kind,
// payload, sender address, and sender pid (0 when the socket passes no
// credentials). The goroutine exits when the socket closes.
func (b *base) startReceive(handle func(kind byte, payload []byte, from Addr, senderPID int)) {
	conn := b.conn
	buf := make([]byte, b.bufferSize+receiveBufferMargin)
	oob := make([]byte, credentialOOBSize())
	go func() {
		for {
			n, addr, pid, err := readDatagram(conn, buf, oob)
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				// Transient receive errors are not fatal on a datagram
				// socket; keep the loop alive.
				continue
			}
			if n == 0 {
				continue
			}
			kind := buf[0]
			payload := make([]byte, n-1)
			copy(payload, buf[1:n])
			var from Addr
			if addr != nil && addr.Name != "" {
				from = NewAddr(addr.Name)
			}
			b.post(func() {
				handle(kind, payload, from, pid)
			})
		}
	}()
}
