package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetmesh/internal/config"
	"github.com/dreamware/fleetmesh/internal/depgraph"
)

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Validate the configuration document and smoke dispatch to each required capability",
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runTest())
			return nil
		},
	}
}

func runTest() int {
	manifest, err := config.Load(flagConfigPath, flagProfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfigError
	}

	if _, err := depgraph.Plan(manifest.Agents); err != nil {
		fmt.Fprintln(os.Stderr, "plan error:", err)
		return exitPlanError
	}
	fmt.Println("configuration and dependency plan are valid")

	endpoint := adminEndpointFromConfig()
	checks, err := requestSmoke(endpoint)
	if err != nil {
		fmt.Fprintln(os.Stderr, "no running fleet to smoke test against (", err, "); configuration validation alone passed")
		return exitOK
	}

	allOK := true
	for _, c := range checks {
		if c.OK {
			fmt.Printf("  capability %-20s OK\n", c.Capability)
			continue
		}
		allOK = false
		fmt.Printf("  capability %-20s FAILED: %s\n", c.Capability, c.Error)
	}
	if !allOK {
		return exitFatalError
	}
	return exitOK
}
