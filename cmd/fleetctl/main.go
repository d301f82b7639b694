// Command fleetctl is the supervisor entry point the manifest describes: a
// single CLI with start/stop/status/test/reload-config subcommands driving
// one fleet of agent processes through config loading, dependency planning,
// process supervision, the registry, and the health hub.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfigPath   string
	flagProfile      string
	flagSnapshotPath string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleetctl",
		Short: "Start, stop, and inspect a fleetmesh agent fleet",
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "fleet.yaml", "path to the fleet configuration document")
	root.PersistentFlags().StringVar(&flagProfile, "profile", "core", "profile to apply when resolving agents")
	root.PersistentFlags().StringVar(&flagSnapshotPath, "snapshot", "fleet.snapshot", "path to the registry snapshot file")

	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newTestCmd())
	root.AddCommand(newReloadConfigCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatalError)
	}
}
