package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Render a table of agent name, state, endpoint, uptime, and restart count",
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runStatus())
			return nil
		},
	}
}

func runStatus() int {
	endpoint := adminEndpointFromConfig()
	rows, err := fetchStatus(endpoint)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status failed:", err)
		return exitFatalError
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tENDPOINT\tUPTIME\tRESTARTS")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0fs\t%d\n", row.Name, row.State, row.Endpoint, row.UptimeSecs, row.RestartCount)
	}
	_ = tw.Flush()
	return exitOK
}
