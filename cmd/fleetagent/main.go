// Command fleetagent is a minimal demo agent built on internal/agent.Runtime.
// It implements agent.Contract with an echo-style HandleRequest and serves
// as a worked example of the runtime's environment-variable contract. The
// integration tests do not launch it; they run an equivalent contract
// in-process.
package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/fleetmesh/internal/agent"
	"github.com/dreamware/fleetmesh/internal/model"
)

func main() {
	log := newLogger()

	cfg := agent.DefaultConfig(
		mustGetenv(log, "AGENT_NAME"),
		mustAtoi(log, "AGENT_PORT"),
		mustAtoi(log, "HEALTH_CHECK_PORT"),
	)
	cfg.RegistryEndpoint = os.Getenv("REGISTRY_ENDPOINT")
	cfg.ErrorBusEndpoint = os.Getenv("ERROR_BUS_ENDPOINT")
	if caps := os.Getenv("AGENT_CAPABILITIES"); caps != "" {
		cfg.Capabilities = strings.Split(caps, ",")
	}

	contract := &echoContract{name: cfg.Name, startedAt: time.Now()}
	rt := agent.New(cfg, contract, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Serve(ctx); err != nil {
		log.Fatal().Err(err).Msg("fleetagent exited with error")
	}
}

// echoContract is deliberately minimal: Initialize/Shutdown are no-ops,
// HandleRequest mirrors the payload back, and Probe always reports ok. It
// exists to give the Runtime harness and the supervisor/registry something
// real to launch and observe in tests and local smoke runs.
type echoContract struct {
	name      string
	startedAt time.Time
}

func (c *echoContract) Initialize(ctx context.Context) error { return nil }

func (c *echoContract) HandleRequest(ctx context.Context, req agent.Request) (agent.Response, error) {
	return agent.Response{Payload: req.Payload}, nil
}

func (c *echoContract) Probe(ctx context.Context) model.HealthReport {
	return model.HealthReport{
		Status:        model.HealthOK,
		Name:          c.name,
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
	}
}

func (c *echoContract) Shutdown(ctx context.Context) error { return nil }

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(getenv("LOG_LEVEL", "info")))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Str("agent", getenv("AGENT_NAME", "fleetagent")).Logger()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(log zerolog.Logger, k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatal().Msgf("missing required env %s", k)
	}
	return v
}

func mustAtoi(log zerolog.Logger, k string) int {
	v := mustGetenv(log, k)
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatal().Err(err).Msgf("env %s must be an integer, got %q", k, v)
	}
	return n
}
