package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetmesh/internal/config"
)

func newReloadConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload-config",
		Short: "Re-read the config document and apply only additions and non-breaking changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runReloadConfig())
			return nil
		},
	}
}

func runReloadConfig() int {
	if _, err := config.Load(flagConfigPath, flagProfile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfigError
	}

	endpoint := adminEndpointFromConfig()
	if err := requestReload(endpoint); err != nil {
		fmt.Fprintln(os.Stderr, "reload-config rejected:", err)
		return exitConfigError
	}
	fmt.Println("reload-config applied")
	return exitOK
}
