package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dreamware/fleetmesh/internal/bus"
	"github.com/dreamware/fleetmesh/internal/config"
	"github.com/dreamware/fleetmesh/internal/coordinator"
	"github.com/dreamware/fleetmesh/internal/health"
	"github.com/dreamware/fleetmesh/internal/llmrouter"
	"github.com/dreamware/fleetmesh/internal/metrics"
	"github.com/dreamware/fleetmesh/internal/registry"
	"github.com/dreamware/fleetmesh/internal/resilience"
	"github.com/dreamware/fleetmesh/internal/snapshot"
	"github.com/dreamware/fleetmesh/internal/supervisor"
)

// exit codes for fleetctl's subcommands.
const (
	exitOK             = 0
	exitConfigError    = 2
	exitPlanError      = 3
	exitStartupTimeout = 4
	exitFatalError     = 5
	exitInterrupted    = 130
)

// fleet wires every core component together around one loaded Manifest. It
// is the thing each cobra subcommand drives, replacing what would otherwise
// be a separate main body per binary with one shared construction path.
type fleet struct {
	manifest *config.Manifest
	log      zerolog.Logger

	bus        *bus.Bus
	reg        *registry.Registry
	breakers   *resilience.BreakerRegistry
	hub        *health.Hub
	supervisor *supervisor.Supervisor
	coord      *coordinator.Coordinator
	store      *snapshot.Store
	metricsReg *prometheus.Registry
}

func newFleet(manifest *config.Manifest, snapshotPath string) *fleet {
	log := newLogger(manifest.Global)

	b := bus.New()
	reg := registry.New(manifest.Agents)
	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig())

	store := snapshot.NewStore(snapshotPath)
	if err := reg.LoadSnapshot(store); err != nil {
		log.Warn().Err(err).Msg("failed to restore registry snapshot")
	}

	hubCfg := health.DefaultConfig()
	if manifest.Global.StartProbeInterval > 0 {
		hubCfg.StartProbeInterval = manifest.Global.StartProbeInterval
	}
	if manifest.Global.SteadyInterval > 0 {
		hubCfg.SteadyInterval = manifest.Global.SteadyInterval
	}
	if manifest.Global.DegradeThreshold > 0 {
		hubCfg.DegradeThreshold = manifest.Global.DegradeThreshold
	}
	if manifest.Global.UnreachableThreshold > 0 {
		hubCfg.UnreachableThreshold = manifest.Global.UnreachableThreshold
	}
	if manifest.Global.RecoveryRun > 0 {
		hubCfg.RecoveryRun = manifest.Global.RecoveryRun
	}
	if manifest.Global.ProbeBudgetMS > 0 {
		hubCfg.ProbeBudget = manifest.Global.ProbeBudgetMS
	}
	metricsReg := metrics.NewRegistry()
	hub := health.New(hubCfg, reg, breakers, b, health.HTTPProber{}, health.NewMetrics(metricsReg))

	launcher := &supervisor.ExecLauncher{}
	svCfg := supervisor.DefaultConfig()
	if manifest.Global.StartupGraceMS > 0 {
		svCfg.BatchReadyTimeout = manifest.Global.StartupGraceMS
	}
	sv := supervisor.New(reg, launcher, log, svCfg)
	hub.SetOnFailed(sv.HandleUnreachable)

	classifier := &coordinator.KeywordClassifier{}
	router := llmrouter.New(llmrouter.DefaultConfig(), breakers, nil, metrics.NewRouterMetrics(metricsReg))
	coordCfg := coordinator.DefaultConfig()
	coord := coordinator.New(coordCfg, reg, breakers, classifier, router, b, metrics.NewCoordinatorMetrics(metricsReg))

	return &fleet{
		manifest: manifest, log: log,
		bus: b, reg: reg, breakers: breakers, hub: hub,
		supervisor: sv, coord: coord, store: store, metricsReg: metricsReg,
	}
}

// watchAllKnown begins health-probing every agent the registry already
// knows an endpoint for (used after a restore, or as agents self-register
// during a live start). ctx bounds the lifetime of every probe loop started
// here; cancelling it stops them all.
func (f *fleet) watchAllKnown(ctx context.Context) {
	for _, rec := range f.reg.All() {
		if rec.Endpoint != "" {
			f.hub.Watch(ctx, rec.Spec.Name, rec.Endpoint)
		}
	}
}

func newLogger(g config.GlobalSettings) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(getenvDefault("LOG_LEVEL", "info")))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Str("component", "fleetctl").Logger()
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
