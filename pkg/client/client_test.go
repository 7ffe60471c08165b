package client

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/endpoint"
	"github.com/pqrs-org/go-local-datagram/pkg/server"
)

const testBufferSize = 32 * 1024

// echoServer is the test harness server: it counts received payload bytes
// and echoes every datagram back to the sender.
type echoServer struct {
	srv *server.Server

	mu            sync.Mutex
	receivedBytes int
}

func newEchoServer(t *testing.T, d *dispatcher.Dispatcher, path string) *echoServer {
	t.Helper()

	es := &echoServer{}
	es.srv = server.New(d, path, testBufferSize)
	es.srv.SetServerCheckInterval(100 * time.Millisecond)

	bound := make(chan struct{})
	es.srv.Bound.Connect(func(struct{}) { close(bound) })
	es.srv.Received.Connect(func(dg endpoint.Datagram) {
		es.mu.Lock()
		es.receivedBytes += len(dg.Data)
		es.mu.Unlock()
		if !dg.Sender.Empty() {
			es.srv.AsyncSend(dg.Data, dg.Sender)
		}
	})

	es.srv.AsyncStart()

	select {
	case <-bound:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not bind")
	}
	return es
}

func (es *echoServer) received() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.receivedBytes
}

func (es *echoServer) stop() {
	es.srv.AsyncStop()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConnectFailedRetriesUntilServerAppears(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	path := filepath.Join(t.TempDir(), "s.sock")

	c := New(d, path, "", testBufferSize)
	c.SetReconnectInterval(100 * time.Millisecond)
	defer c.AsyncStop()

	var mu sync.Mutex
	connectFailed := 0
	connectedCount := 0
	c.ConnectFailed.Connect(func(error) {
		mu.Lock()
		connectFailed++
		mu.Unlock()
	})
	c.Connected.Connect(func(int) {
		mu.Lock()
		connectedCount++
		mu.Unlock()
	})

	// Start the client before any server exists.
	c.AsyncStart()

	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	failures := connectFailed
	mu.Unlock()
	if failures < 3 {
		t.Errorf("connect_failed fired %d times in 500ms, want >= 3", failures)
	}

	es := newEchoServer(t, d, path)
	defer es.stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connectedCount == 1
	})
}

func TestEchoThroughWrapper(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	dir := t.TempDir()
	es := newEchoServer(t, d, filepath.Join(dir, "s.sock"))
	defer es.stop()

	c := New(d, filepath.Join(dir, "s.sock"), filepath.Join(dir, "c.sock"), testBufferSize)
	c.SetServerCheckInterval(100 * time.Millisecond)
	defer c.AsyncStop()

	var mu sync.Mutex
	clientReceived := 0
	c.Received.Connect(func(dg endpoint.Datagram) {
		mu.Lock()
		clientReceived += len(dg.Data)
		mu.Unlock()
	})

	connected := make(chan struct{})
	c.Connected.Connect(func(int) { close(connected) })
	c.AsyncStart()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
	}

	payload := make([]byte, 32)
	payload[0] = 10
	payload[1] = 20
	payload[2] = 30
	c.AsyncSend(payload)
	c.AsyncSend(payload)

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return clientReceived == 64
	})
	if got := es.received(); got < 64 {
		t.Errorf("server received %d bytes, want >= 64", got)
	}
}

func TestPendingSendSurvivesReconnect(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	path := filepath.Join(t.TempDir(), "s.sock")

	c := New(d, path, "", testBufferSize)
	c.SetServerCheckInterval(100 * time.Millisecond)
	c.SetReconnectInterval(100 * time.Millisecond)
	defer c.AsyncStop()

	c.AsyncStart()

	// Queue data while no server exists; it must be delivered once a
	// server appears.
	done := make(chan struct{})
	c.AsyncSendProcessed(make([]byte, 1024), func() { close(done) })

	time.Sleep(300 * time.Millisecond)

	es := newEchoServer(t, d, path)
	defer es.stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("queued entry was not sent after reconnect")
	}
	waitFor(t, 2*time.Second, func() bool { return es.received() == 1024 })
}

func TestClosedThenReconnectOnServerRestart(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	path := filepath.Join(t.TempDir(), "s.sock")
	es := newEchoServer(t, d, path)

	c := New(d, path, "", testBufferSize)
	c.SetServerCheckInterval(100 * time.Millisecond)
	c.SetReconnectInterval(100 * time.Millisecond)
	defer c.AsyncStop()

	var mu sync.Mutex
	connectedCount := 0
	closedCount := 0
	c.Connected.Connect(func(int) {
		mu.Lock()
		connectedCount++
		mu.Unlock()
	})
	c.Closed.Connect(func(struct{}) {
		mu.Lock()
		closedCount++
		mu.Unlock()
	})

	c.AsyncStart()
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connectedCount == 1
	})

	// Kill the server; the client's probe notices and the endpoint
	// closes.
	es.stop()

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closedCount == 1
	})

	// Restart the server; the client reconnects exactly once.
	es2 := newEchoServer(t, d, path)
	defer es2.stop()

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connectedCount == 2
	})
}

func TestProcessedInvokedAfterStop(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	path := filepath.Join(t.TempDir(), "s.sock")
	es := newEchoServer(t, d, path)
	defer es.stop()

	c := New(d, path, "", testBufferSize)
	c.AsyncStart()
	c.AsyncStop()

	time.Sleep(200 * time.Millisecond)

	// After stop, async_send is inert except that processed still fires.
	done := make(chan struct{})
	c.AsyncSendProcessed(make([]byte, 8), func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processed did not fire after stop")
	}
	if got := es.received(); got != 0 {
		t.Errorf("server received %d bytes from a stopped client", got)
	}
}

func TestOversizeSendReportsErrorAndCompletes(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	path := filepath.Join(t.TempDir(), "s.sock")
	es := newEchoServer(t, d, path)
	defer es.stop()

	c := New(d, path, "", testBufferSize)
	defer c.AsyncStop()

	errs := make(chan error, 8)
	c.ErrorOccurred.Connect(func(err error) { errs <- err })

	connected := make(chan struct{})
	c.Connected.Connect(func(int) { close(connected) })
	c.AsyncStart()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
	}

	// A datagram far beyond the socket buffer is a per-message error: the
	// entry is dropped, the connection stays up, and processed still
	// fires.
	done := make(chan struct{})
	c.AsyncSendProcessed(make([]byte, 4*testBufferSize), func() { close(done) })

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("processed did not fire for a dropped oversize entry")
	}
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("error_occurred did not fire for an oversize datagram")
	}

	// The connection survives: a normal send still goes through.
	c.AsyncSend(make([]byte, 128))
	waitFor(t, 3*time.Second, func() bool { return es.received() >= 128 })
}

func TestStopPreventsReconnect(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	path := filepath.Join(t.TempDir(), "absent.sock")

	c := New(d, path, "", testBufferSize)
	c.SetReconnectInterval(50 * time.Millisecond)

	var mu sync.Mutex
	failures := 0
	c.ConnectFailed.Connect(func(error) {
		mu.Lock()
		failures++
		mu.Unlock()
	})

	c.AsyncStart()
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failures >= 2
	})

	c.AsyncStop()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	after := failures
	mu.Unlock()
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	final := failures
	mu.Unlock()
	if final > after+1 {
		t.Errorf("connect attempts continued after stop: %d -> %d", after, final)
	}
}

func TestPathResolver(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	realPath := filepath.Join(t.TempDir(), "real.sock")
	es := newEchoServer(t, d, realPath)
	defer es.stop()

	c := New(d, "/nonexistent/server.sock", "", testBufferSize)
	c.SetServerSocketFilePathResolver(func() string { return realPath })
	defer c.AsyncStop()

	connected := make(chan struct{})
	c.Connected.Connect(func(int) { close(connected) })
	c.ConnectFailed.Connect(func(err error) { t.Errorf("connect_failed: %v", err) })

	c.AsyncStart()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("resolver-based connect did not complete")
	}
}

func TestClientBindFailed(t *testing.T) {
	d := dispatcher.New()
	defer d.Terminate()

	path := filepath.Join(t.TempDir(), "s.sock")
	es := newEchoServer(t, d, path)
	defer es.stop()

	c := New(d, path, "/nonexistent_dir/client.sock", testBufferSize)
	defer c.AsyncStop()

	failed := make(chan struct{})
	c.ConnectFailed.Connect(func(error) { close(failed) })
	c.Connected.Connect(func(int) { t.Error("connected fired despite bind failure") })

	c.AsyncStart()
	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("connect_failed did not fire for an unbindable client path")
	}

	if _, err := os.Lstat("/nonexistent_dir/client.sock"); !os.IsNotExist(err) {
		t.Error("client socket file unexpectedly exists")
	}
}
