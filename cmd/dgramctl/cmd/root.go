package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pqrs-org/go-local-datagram/pkg/config"
)

var (
	// Global flags
	cfgFile    string
	socketPath string
	bufferSize int

	// Shared state set during PersistentPreRun
	cfg *config.Config

	// Styles for event output
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	eventStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// rootCmd is the base command for dgramctl.
var rootCmd = &cobra.Command{
	Use:   "dgramctl",
	Short: "local_datagram CLI — run and exercise Unix-domain datagram IPC endpoints",
	Long: `Dgramctl is the operator-facing tool for the local_datagram library.
It runs echo servers, sends datagrams, and walks through the peer-manager
handshake against a live server, reporting every endpoint signal as it
fires.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if socketPath != "" {
			cfg.SocketPath = socketPath
		}
		if bufferSize > 0 {
			cfg.BufferSize = bufferSize
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func eventf(format string, args ...any) {
	fmt.Println(eventStyle.Render(fmt.Sprintf(format, args...)))
}

func okf(format string, args ...any) {
	fmt.Println(okStyle.Render(fmt.Sprintf(format, args...)))
}

func errf(format string, args ...any) {
	fmt.Println(errStyle.Render(fmt.Sprintf(format, args...)))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.local_datagram/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "server socket file path")
	rootCmd.PersistentFlags().IntVar(&bufferSize, "buffer-size", 0, "socket buffer size in bytes")
}
