package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/endpoint"
	"github.com/pqrs-org/go-local-datagram/pkg/peermanager"
	"github.com/pqrs-org/go-local-datagram/pkg/server"
)

// runPeerServer starts the configured server with a peer manager that
// accepts every peer and answers "hello" with "world".
func runPeerServer(d *dispatcher.Dispatcher) (*server.Server, error) {
	srv := server.New(d, cfg.SocketPath, cfg.BufferSize)
	srv.SetServerCheckInterval(cfg.ServerCheckInterval())
	srv.SetReconnectInterval(cfg.ReconnectInterval())

	peermanager.New(d, srv,
		func(peerPID int, peerPath string) bool {
			// Accept everyone. Real deployments verify uid/pid here;
			// without verification anyone can obtain a valid secret.
			eventf("handshake from %s (pid %d)", peerPath, peerPID)
			return true
		},
		peermanager.WithMessageHandler(func(peer endpoint.Addr, message string) string {
			eventf("message from %s: %s", peer, message)
			if message == "hello" {
				return "world"
			}
			return message
		}))

	srv.Bound.Connect(func(struct{}) { okf("bound %s", cfg.SocketPath) })
	srv.BindFailed.Connect(func(err error) { errf("bind_failed: %v", err) })
	srv.Closed.Connect(func(struct{}) { eventf("closed") })

	srv.AsyncStart()

	// Give the bind a moment so bind errors surface before the prompt.
	time.Sleep(100 * time.Millisecond)
	return srv, nil
}

func waitForInterrupt() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}
