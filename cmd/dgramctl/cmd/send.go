package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pqrs-org/go-local-datagram/pkg/client"
	"github.com/pqrs-org/go-local-datagram/pkg/dispatcher"
	"github.com/pqrs-org/go-local-datagram/pkg/endpoint"
)

var (
	sendClientPath string
	sendWaitEcho   bool
	sendTimeout    time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a datagram to the configured server socket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := dispatcher.New()
		defer d.Terminate()

		cli := client.New(d, cfg.SocketPath, sendClientPath, cfg.BufferSize)
		cli.SetServerCheckInterval(cfg.ServerCheckInterval())
		cli.SetClientSocketCheckInterval(cfg.ClientSocketCheckInterval())
		cli.SetReconnectInterval(cfg.ReconnectInterval())
		defer cli.AsyncStop()

		connected := make(chan struct{})
		failed := make(chan error, 1)
		echoed := make(chan []byte, 1)

		cli.Connected.Connect(func(pid int) {
			okf("connected (peer pid %d)", pid)
			select {
			case <-connected:
			default:
				close(connected)
			}
		})
		cli.ConnectFailed.Connect(func(err error) {
			select {
			case failed <- err:
			default:
			}
		})
		cli.ErrorOccurred.Connect(func(err error) {
			errf("error_occurred: %v", err)
		})
		cli.Received.Connect(func(dg endpoint.Datagram) {
			select {
			case echoed <- dg.Data:
			default:
			}
		})

		cli.AsyncStart()

		select {
		case <-connected:
		case err := <-failed:
			return fmt.Errorf("connect failed: %w", err)
		case <-time.After(sendTimeout):
			return fmt.Errorf("connect timed out after %v", sendTimeout)
		}

		sent := make(chan struct{})
		cli.AsyncSendProcessed([]byte(args[0]), func() { close(sent) })
		<-sent
		okf("sent %d bytes", len(args[0]))

		if sendWaitEcho && sendClientPath != "" {
			select {
			case data := <-echoed:
				okf("echo: %s", string(data))
			case <-time.After(sendTimeout):
				return fmt.Errorf("no echo within %v", sendTimeout)
			}
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendClientPath, "client-socket", "", "bind this return address to receive the echo")
	sendCmd.Flags().BoolVar(&sendWaitEcho, "wait-echo", false, "wait for the server to echo the datagram back")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Second, "connect and echo timeout")
	rootCmd.AddCommand(sendCmd)
}
