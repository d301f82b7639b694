package registry

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Server exposes the Registry over HTTP: register/renew/deregister for
// agents, lookup/query for the Coordinator and Lazy Loader.
type Server struct {
	reg *Registry
	log zerolog.Logger
}

// NewServer wires reg into an http.Handler via chi, exposing register/renew/
// deregister and lookup routes over the agent-record domain.
func NewServer(reg *Registry, log zerolog.Logger) http.Handler {
	s := &Server{reg: reg, log: log}

	r := chi.NewRouter()
	r.Post("/register", s.handleRegister)
	r.Post("/renew", s.handleRenew)
	r.Post("/deregister", s.handleDeregister)
	r.Get("/agents/{name}", s.handleLookup)
	r.Get("/agents", s.handleList)
	r.Get("/capabilities/{capability}", s.handleQuery)
	return r
}

type registerRequest struct {
	Name         string   `json:"name"`
	Endpoint     string   `json:"endpoint"`
	Capabilities []string `json:"capabilities"`
}

type registerResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := s.reg.Register(req.Name, req.Endpoint, req.Capabilities)
	if err != nil {
		s.log.Warn().Err(err).Str("agent", req.Name).Msg("registration rejected")
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{Token: token})
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reg.Renew(req.Token); err != nil {
		writeError(w, http.StatusGone, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reg.Deregister(req.Token); err != nil {
		writeError(w, http.StatusGone, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, ok := s.reg.Lookup(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.All())
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	capability := chi.URLParam(r, "capability")
	writeJSON(w, http.StatusOK, s.reg.Query(capability))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
