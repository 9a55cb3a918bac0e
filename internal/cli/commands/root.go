package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl - control plane CLI for fleet-commander",
	Long: `fleetctl talks to a running fleet-commander server over its admin API.
It can trigger automations, inspect queue state, list connected agents and
push fleet-wide agent updates.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:3000", "base URL of the fleet-commander server")

	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(updateAllCmd)
}
