package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dreamware/fleetmesh/internal/config"
	"github.com/dreamware/fleetmesh/internal/metrics"
	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/rpc"
)

// agentStatus is one row of `fleetctl status`'s table, and the wire shape
// the admin server's /status endpoint returns.
type agentStatus struct {
	Name         string  `json:"name"`
	State        string  `json:"state"`
	Endpoint     string  `json:"endpoint"`
	UptimeSecs   float64 `json:"uptime_seconds"`
	RestartCount int     `json:"restart_count"`
}

// stopRequested receives one value, sent without blocking, from the admin
// server's /stop handler and is consumed by runStart's main loop, as an alternative wake source to os.Interrupt for
// a `fleetctl stop` issued from a separate process.
func (f *fleet) serveAdmin(ctx context.Context, addr string, stopRequested chan<- struct{}) *http.Server {
	mux := chi.NewRouter()

	mux.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.statusRows())
	})

	mux.Handle("/metrics", metrics.Handler(f.metricsReg))

	mux.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
		select {
		case stopRequested <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.Post("/smoke", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(f.smokeTest(r.Context()))
	})

	mux.Post("/reload", func(w http.ResponseWriter, r *http.Request) {
		manifest, err := config.Load(flagConfigPath, flagProfile)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if err := f.applyReload(ctx, manifest); err != nil {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			f.log.Error().Err(err).Msg("admin server exited")
		}
	}()
	return srv
}

type smokeCheck struct {
	Capability string `json:"capability"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// smokeTest runs Coordinator.SmokeCapability against every capability any
// required agent declares, satisfying `fleetctl test`'s "smoke dispatch to
// each required capability" step.
func (f *fleet) smokeTest(ctx context.Context) []smokeCheck {
	caps := map[string]bool{}
	for _, spec := range f.manifest.Agents {
		if !spec.Required {
			continue
		}
		for _, c := range spec.Capabilities {
			caps[c] = true
		}
	}

	checks := make([]smokeCheck, 0, len(caps))
	for capability := range caps {
		check := smokeCheck{Capability: capability}
		if err := f.coord.SmokeCapability(ctx, capability); err != nil {
			check.Error = err.Error()
		} else {
			check.OK = true
		}
		checks = append(checks, check)
	}
	return checks
}

func (f *fleet) statusRows() []agentStatus {
	records := f.reg.All()
	rows := make([]agentStatus, 0, len(records))
	for _, rec := range records {
		uptime := 0.0
		if !rec.StartedAt.IsZero() {
			uptime = time.Since(rec.StartedAt).Seconds()
		}
		rows = append(rows, agentStatus{
			Name: rec.Spec.Name, State: string(rec.State), Endpoint: rec.Endpoint,
			UptimeSecs: uptime, RestartCount: rec.RestartCount,
		})
	}
	return rows
}

// applyReload applies a hot reload: config.Diff classifies every change
// against the currently loaded manifest as an additive on_demand spec or a
// breaking edit (port, name, or dependency change on an already-running
// agent). Any breaking issue rejects the reload outright.
func (f *fleet) applyReload(ctx context.Context, next *config.Manifest) error {
	plan := config.Diff(f.manifest, next)
	if !plan.OK() {
		msg := plan.Breaking[0].Message + " (" + plan.Breaking[0].AgentName + ")"
		return model.Wrap(model.KindConfigError, "fleetctl", "reload rejected: "+msg, nil)
	}

	f.manifest = next
	f.log.Info().Int("additions", len(plan.Additions)).Msg("reload-config applied")
	return nil
}

func fetchStatus(endpoint string) ([]agentStatus, error) {
	var rows []agentStatus
	err := rpc.GetJSON(context.Background(), endpoint+"/status", &rows)
	return rows, err
}

func requestStop(endpoint string) error {
	return rpc.PostJSON(context.Background(), endpoint+"/stop", struct{}{}, nil)
}

func requestReload(endpoint string) error {
	return rpc.PostJSON(context.Background(), endpoint+"/reload", struct{}{}, nil)
}

func requestSmoke(endpoint string) ([]smokeCheck, error) {
	var checks []smokeCheck
	err := rpc.PostJSON(context.Background(), endpoint+"/smoke", struct{}{}, &checks)
	return checks, err
}
