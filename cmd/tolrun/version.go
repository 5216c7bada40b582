package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"tolrun/internal/protocol"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tolrun %s (protocol v%d, %s)\n", Version, protocol.Version, runtime.Version())
	},
}
