package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X github.com/pqrs-org/go-local-datagram/cmd/dgramctl/cmd.dgramctlVersion=x.y.z"
var dgramctlVersion = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the dgramctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "dgramctl version %s\n", dgramctlVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
