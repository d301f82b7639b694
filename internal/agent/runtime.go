package agent

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dreamware/fleetmesh/internal/bus"
	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/resilience"
	"github.com/dreamware/fleetmesh/internal/rpc"
)

// Config is everything Runtime needs to bind, register, and serve. Values
// should already have been resolved through config.Resolve's
// launch-arg > env > file > default precedence before reaching here.
type Config struct {
	Name             string
	Port             int
	HealthPort       int
	RegistryEndpoint string
	ErrorBusEndpoint string
	Capabilities     []string
	RegisterDeadline time.Duration
	ProbeBudget      time.Duration
	DrainTimeout     time.Duration
	LeaseRenewEvery  time.Duration
}

// DefaultConfig fills in the default timings: a 10s register deadline, a 1s
// probe budget, a 10s drain timeout and lease renewal every 5s.
func DefaultConfig(name string, port, healthPort int) Config {
	return Config{
		Name: name, Port: port, HealthPort: healthPort,
		RegisterDeadline: 10 * time.Second,
		ProbeBudget:      time.Second,
		DrainTimeout:     10 * time.Second,
		LeaseRenewEvery:  5 * time.Second,
	}
}

// Runtime is the reusable harness implementing an agent's lifecycle around a
// Contract value. One Runtime serves one agent process.
type Runtime struct {
	cfg      Config
	contract Contract
	log      zerolog.Logger
	bus      *bus.Bus
	shutdown *resilience.ShutdownGroup

	inFlight sync.WaitGroup
	stopping chan struct{}
	stopOnce sync.Once

	leaseToken string
}

// New builds a Runtime around contract, ready for Serve.
func New(cfg Config, contract Contract, log zerolog.Logger) *Runtime {
	return &Runtime{
		cfg: cfg, contract: contract, log: log,
		bus: bus.New(), shutdown: resilience.NewShutdownGroup(),
		stopping: make(chan struct{}),
	}
}

// Serve binds both sockets, registers with the registry, and blocks until
// ctx is cancelled or a termination signal arrives, then drains and exits
// cleanly. It returns the first fatal error encountered, or nil on a clean
// stop.
func (r *Runtime) Serve(ctx context.Context) error {
	if err := r.contract.Initialize(ctx); err != nil {
		return model.Wrap(model.KindFatal, r.cfg.Name, "initialize", err)
	}

	primaryLn, err := net.Listen("tcp", portAddr(r.cfg.Port))
	if err != nil {
		return model.Wrap(model.KindBindError, r.cfg.Name, "bind primary port", err)
	}
	healthLn, err := net.Listen("tcp", portAddr(r.cfg.HealthPort))
	if err != nil {
		primaryLn.Close()
		return model.Wrap(model.KindBindError, r.cfg.Name, "bind health port", err)
	}

	primarySrv := &http.Server{Handler: r.primaryHandler(), ReadHeaderTimeout: 5 * time.Second}
	healthSrv := &http.Server{Handler: r.healthHandler(), ReadHeaderTimeout: 5 * time.Second}

	// Sockets are released in reverse acquisition order.
	r.shutdown.Register("primary socket", func(ctx context.Context) error { return primarySrv.Shutdown(ctx) })
	r.shutdown.Register("health socket", func(ctx context.Context) error { return healthSrv.Shutdown(ctx) })

	go func() {
		if err := primarySrv.Serve(primaryLn); err != nil && err != http.ErrServerClosed {
			r.log.Error().Err(err).Msg("primary server exited")
		}
	}()
	go func() {
		if err := healthSrv.Serve(healthLn); err != nil && err != http.ErrServerClosed {
			r.log.Error().Err(err).Msg("health server exited")
		}
	}()

	if err := r.register(ctx); err != nil {
		return err
	}
	r.shutdown.Register("deregister", func(ctx context.Context) error { return r.deregister(ctx) })

	renewCtx, cancelRenew := context.WithCancel(ctx)
	defer cancelRenew()
	go r.renewLoop(renewCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case <-sigCh:
		r.log.Info().Msg("received termination signal, draining")
	}

	r.drain()
	cancelRenew()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
	defer cancel()
	if err := r.shutdown.Run(shutdownCtx, r.cfg.DrainTimeout); err != nil {
		r.log.Warn().Err(err).Msg("errors during shutdown")
	}
	return r.contract.Shutdown(shutdownCtx)
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

func (r *Runtime) primaryHandler() http.Handler {
	mux := chi.NewRouter()
	mux.Post("/", func(w http.ResponseWriter, httpReq *http.Request) {
		r.inFlight.Add(1)
		defer r.inFlight.Done()

		select {
		case <-r.stopping:
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": string(model.KindOverloaded)})
			return
		default:
		}

		var req Request
		if err := json.NewDecoder(httpReq.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp, err := r.contract.HandleRequest(httpReq.Context(), req)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func (r *Runtime) healthHandler() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/health", func(w http.ResponseWriter, httpReq *http.Request) {
		ctx, cancel := context.WithTimeout(httpReq.Context(), r.cfg.ProbeBudget)
		defer cancel()
		report := r.contract.Probe(ctx)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	})
	mux.Post("/control", func(w http.ResponseWriter, httpReq *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(httpReq.Body).Decode(&body)
		r.log.Debug().Interface("body", body).Msg("control message received")
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

// drain sets the stopping flag (new requests get Overloaded) and waits up
// to DrainTimeout for in-flight requests to finish.
func (r *Runtime) drain() {
	r.stopOnce.Do(func() { close(r.stopping) })

	done := make(chan struct{})
	go func() {
		r.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.DrainTimeout):
		r.log.Warn().Msg("drain timeout exceeded, proceeding with shutdown")
	}
}

type registerRequest struct {
	Name         string   `json:"name"`
	Endpoint     string   `json:"endpoint"`
	Capabilities []string `json:"capabilities"`
}

type registerResponse struct {
	Token string `json:"token"`
}

// register retries with jittered exponential backoff until RegisterDeadline
// elapses. The caller remains effectively in Starting state (as tracked by
// the Registry) the whole time.
func (r *Runtime) register(ctx context.Context) error {
	if r.cfg.RegistryEndpoint == "" {
		return nil // standalone/test mode
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.RandomizationFactor = 0.5

	deadlineCtx, cancel := context.WithTimeout(ctx, r.cfg.RegisterDeadline)
	defer cancel()

	var resp registerResponse
	err := backoff.Retry(func() error {
		req := registerRequest{
			Name:         r.cfg.Name,
			Endpoint:     localEndpoint(r.cfg.Port),
			Capabilities: r.cfg.Capabilities,
		}
		return rpc.PostJSON(deadlineCtx, r.cfg.RegistryEndpoint+"/register", req, &resp)
	}, backoff.WithContext(bo, deadlineCtx))
	if err != nil {
		return model.Wrap(model.KindRegistrationError, r.cfg.Name, "register with registry", err)
	}

	r.leaseToken = resp.Token
	return nil
}

func (r *Runtime) renewLoop(ctx context.Context) {
	if r.cfg.RegistryEndpoint == "" || r.leaseToken == "" {
		return
	}
	ticker := time.NewTicker(r.cfg.LeaseRenewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			body := map[string]string{"token": r.leaseToken}
			if err := rpc.PostJSON(ctx, r.cfg.RegistryEndpoint+"/renew", body, nil); err != nil {
				r.log.Warn().Err(err).Msg("lease renewal failed")
			}
		}
	}
}

func (r *Runtime) deregister(ctx context.Context) error {
	if r.cfg.RegistryEndpoint == "" || r.leaseToken == "" {
		return nil
	}
	body := map[string]string{"token": r.leaseToken}
	return rpc.PostJSON(ctx, r.cfg.RegistryEndpoint+"/deregister", body, nil)
}

func localEndpoint(port int) string {
	return "127.0.0.1:" + strconv.Itoa(port)
}
