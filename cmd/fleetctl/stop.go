package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetmesh/internal/config"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running fleet to shut down cooperatively in reverse startup order",
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runStop())
			return nil
		},
	}
}

func runStop() int {
	endpoint := adminEndpointFromConfig()
	if err := requestStop(endpoint); err != nil {
		fmt.Fprintln(os.Stderr, "stop failed:", err)
		return exitFatalError
	}
	fmt.Println("stop requested")
	return exitOK
}

// adminEndpointFromConfig loads the config document with config.Load to find
// the running fleet's admin endpoint. If the document no longer loads
// cleanly, or names no admin endpoint, it falls back to
// http://127.0.0.1:7100.
func adminEndpointFromConfig() string {
	manifest, err := config.Load(flagConfigPath, flagProfile)
	if err == nil && manifest.Global.AdminEndpoint != "" {
		return "http://" + stripLeadingColon(manifest.Global.AdminEndpoint)
	}
	return "http://127.0.0.1:7100"
}

func stripLeadingColon(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}
