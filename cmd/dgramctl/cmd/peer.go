package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pqrs-org/go-local-datagram/pkg/client"
	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/endpoint"
	"github.com/pqrs-org/go-local-datagram/pkg/peermanager"
)

var (
	peerClientPath string
	peerMessage    string
	peerTimeout    time.Duration
)

// peerCmd performs the handshake against a running `dgramctl peer serve`
// (or any server with an attached peer manager): obtain a shared secret,
// then send an authenticated message with it.
var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Peer-manager handshake operations",
}

var peerHandshakeCmd = &cobra.Command{
	Use:   "handshake",
	Short: "Handshake for a shared secret, then send an authenticated message",
	RunE: func(cmd *cobra.Command, args []string) error {
		if peerClientPath == "" {
			return fmt.Errorf("--client-socket is required: the server binds the secret to it")
		}

		d := dispatcher.New()
		defer d.Terminate()

		cli := client.New(d, cfg.SocketPath, peerClientPath, cfg.BufferSize)
		defer cli.AsyncStop()

		connected := make(chan struct{})
		payloads := make(chan *peermanager.Payload, 4)

		cli.Connected.Connect(func(int) { close(connected) })
		cli.ConnectFailed.Connect(func(err error) { errf("connect_failed: %v", err) })
		cli.Received.Connect(func(dg endpoint.Datagram) {
			p, err := peermanager.DecodePayload(dg.Data)
			if err != nil {
				errf("unparseable payload: %v", err)
				return
			}
			payloads <- p
		})

		cli.AsyncStart()
		select {
		case <-connected:
		case <-time.After(peerTimeout):
			return fmt.Errorf("connect timed out after %v", peerTimeout)
		}

		send := func(p *peermanager.Payload) error {
			data, err := p.Encode()
			if err != nil {
				return err
			}
			cli.AsyncSend(data)
			return nil
		}
		recv := func() (*peermanager.Payload, error) {
			select {
			case p := <-payloads:
				return p, nil
			case <-time.After(peerTimeout):
				return nil, fmt.Errorf("no reply within %v", peerTimeout)
			}
		}

		if err := send(&peermanager.Payload{Type: peermanager.PayloadTypeHandshake}); err != nil {
			return err
		}
		shared, err := recv()
		if err != nil {
			return err
		}
		if shared.Type != peermanager.PayloadTypeSharedSecret {
			return fmt.Errorf("unexpected reply type %q", shared.Type)
		}
		okf("shared secret issued (%d bytes)", len(shared.Secret))

		if err := send(&peermanager.Payload{
			Type:    peermanager.PayloadTypeMessage,
			Message: peerMessage,
			Secret:  shared.Secret,
		}); err != nil {
			return err
		}
		resp, err := recv()
		if err != nil {
			return err
		}
		okf("message_response: %s", resp.MessageResponse)
		return nil
	},
}

var peerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a server with an attached peer manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := dispatcher.New()
		defer d.Terminate()

		srv, err := runPeerServer(d)
		if err != nil {
			return err
		}
		defer srv.AsyncStop()

		waitForInterrupt()
		return nil
	},
}

func init() {
	peerCmd.PersistentFlags().StringVar(&peerClientPath, "client-socket", "", "client return-address socket path")
	peerCmd.PersistentFlags().StringVar(&peerMessage, "message", "hello", "message to send once authenticated")
	peerCmd.PersistentFlags().DurationVar(&peerTimeout, "timeout", 5*time.Second, "per-step timeout")
	peerCmd.AddCommand(peerHandshakeCmd)
	peerCmd.AddCommand(peerServeCmd)
	rootCmd.AddCommand(peerCmd)
}
