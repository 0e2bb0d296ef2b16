// Package cli implements the armbridge command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "armbridge",
	Short: "Bridge between operator commands and a cyclic robot-control session",
	Long: `Armbridge connects a non-realtime command source to a hard-realtime
cyclic robot-control session. Commands arrive over NATS and are handed
to the cyclic loop through a single-slot realtime-safe buffer; state
telemetry flows back out best-effort. An HTTP API triggers connect and
disconnect and exposes status, history and metrics.`,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("armbridge version {{.Version}}\n")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
