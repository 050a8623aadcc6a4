package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/fentz26/dqmote/internal/connectors"
	"github.com/fentz26/dqmote/internal/models"
	"github.com/fentz26/dqmote/internal/store"
)

// Version is reported by the health endpoint; the build overrides it.
var Version = "0.1.0-dev"

// Server provides the HTTP API for dqmote.
type Server struct {
	service *Service
	store   *store.Store
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, st *store.Store, addr string) *Server {
	return &Server{
		service: service,
		store:   st,
		addr:    addr,
	}
}

// Router returns the API routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth)

	// Experiment endpoints
	r.HandleFunc("/experiments", s.listExperiments).Methods(http.MethodGet)
	r.HandleFunc("/experiments", s.startExperiment).Methods(http.MethodPost)
	r.HandleFunc("/experiments/{id}", s.getExperiment).Methods(http.MethodGet)
	r.HandleFunc("/experiments/{id}/stop", s.stopExperiment).Methods(http.MethodPost)
	r.HandleFunc("/experiments/{id}/stats", s.getStats).Methods(http.MethodGet)
	r.HandleFunc("/experiments/{id}/rounds", s.listRounds).Methods(http.MethodGet)
	r.HandleFunc("/experiments/{id}/events", s.listEvents).Methods(http.MethodGet)

	// Live round feed
	r.HandleFunc("/live", s.handleLive).Methods(http.MethodGet)

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
	}

	log.Printf("Starting dqmote daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and stops running experiments.
func (s *Server) Shutdown(ctx context.Context) error {
	s.service.Shutdown()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnknownSource), errors.Is(err, ErrNotAllowed):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotRunning):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// --- Experiment Handlers ---

type startRequest struct {
	Source string `json:"source"`
	connectors.Spec
}

func (s *Server) startExperiment(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		req.Source = "sim"
	}

	exp, err := s.service.StartExperiment(req.Source, req.Spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exp)
}

func (s *Server) listExperiments(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	experiments, err := s.service.ListExperiments(status)
	if err != nil {
		writeError(w, err)
		return
	}

	if experiments == nil {
		experiments = []models.Experiment{}
	}
	writeJSON(w, http.StatusOK, experiments)
}

func (s *Server) getExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := s.service.GetExperiment(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) stopExperiment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.service.GetExperiment(id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.service.StopExperiment(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.GetStats(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	rounds, err := s.service.ListRounds(mux.Vars(r)["id"], offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if rounds == nil {
		rounds = []models.Round{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.service.ListEvents(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
