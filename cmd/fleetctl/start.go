package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/fleetmesh/internal/config"
	"github.com/dreamware/fleetmesh/internal/depgraph"
	"github.com/dreamware/fleetmesh/internal/model"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Load configuration, compute the startup plan, and bring the fleet to Ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runStart())
			return nil
		},
	}
}

func runStart() int {
	manifest, err := config.Load(flagConfigPath, flagProfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfigError
	}

	plan, err := depgraph.Plan(manifest.Agents)
	if err != nil {
		fmt.Fprintln(os.Stderr, "plan error:", err)
		return exitPlanError
	}

	f := newFleet(manifest, flagSnapshotPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adminAddr := manifest.Global.AdminEndpoint
	if adminAddr == "" {
		adminAddr = ":7100"
	}
	stopRequested := make(chan struct{}, 1)
	adminSrv := f.serveAdmin(ctx, adminAddr, stopRequested)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	f.watchAllKnown(ctx)

	if err := f.supervisor.LaunchPlan(ctx, plan); err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		if model.IsKind(err, model.KindHealthTimeout) {
			return exitStartupTimeout
		}
		return exitFatalError
	}

	readyTimeout := manifest.Global.StartupGraceMS
	if readyTimeout <= 0 {
		readyTimeout = 30 * time.Second
	}
	if !allRequiredReady(f, manifest, readyTimeout) {
		fmt.Fprintln(os.Stderr, "startup timed out waiting for required agents to reach Ready")
		return exitStartupTimeout
	}

	f.log.Info().Msg("fleet is Ready; press Ctrl-C or run `fleetctl stop` to stop")

	interrupted := true
	select {
	case <-ctx.Done():
		f.log.Info().Msg("shutdown signal received")
	case <-stopRequested:
		f.log.Info().Msg("stop requested via admin endpoint")
		interrupted = false
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := f.supervisor.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown error:", err)
		return exitFatalError
	}
	if _, err := f.reg.Snapshot(f.store); err != nil {
		f.log.Warn().Err(err).Msg("failed to persist registry snapshot on shutdown")
	}
	if interrupted {
		return exitInterrupted
	}
	return exitOK
}

func allRequiredReady(f *fleet, manifest *config.Manifest, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allReady := true
		for _, spec := range manifest.Agents {
			if !spec.Required {
				continue
			}
			rec, ok := f.reg.Lookup(spec.Name)
			if !ok || (rec.State != model.StateReady && rec.State != model.StateDegraded) {
				allReady = false
				break
			}
		}
		if allReady {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}
