package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/endpoint"
	"github.com/pqrs-org/go-local-datagram/pkg/server"
)

var serveEcho bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local_datagram server on the configured socket path",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := dispatcher.New()
		defer d.Terminate()

		srv := server.New(d, cfg.SocketPath, cfg.BufferSize)
		srv.SetServerCheckInterval(cfg.ServerCheckInterval())
		srv.SetReconnectInterval(cfg.ReconnectInterval())

		srv.Bound.Connect(func(struct{}) {
			okf("bound %s", cfg.SocketPath)
		})
		srv.BindFailed.Connect(func(err error) {
			errf("bind_failed: %v", err)
		})
		srv.Closed.Connect(func(struct{}) {
			eventf("closed")
		})
		srv.ErrorOccurred.Connect(func(err error) {
			errf("error_occurred: %v", err)
		})
		srv.NextHeartbeatDeadlineExceeded.Connect(func(addr endpoint.Addr) {
			eventf("next_heartbeat_deadline_exceeded: %s", addr)
		})
		srv.Received.Connect(func(dg endpoint.Datagram) {
			eventf("received %d bytes from %s", len(dg.Data), dg.Sender)
			if serveEcho && !dg.Sender.Empty() {
				srv.AsyncSend(dg.Data, dg.Sender)
			}
		})

		srv.AsyncStart()

		waitForInterrupt()

		srv.AsyncStop()
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveEcho, "echo", true, "echo received datagrams back to the sender")
	rootCmd.AddCommand(serveCmd)
}
