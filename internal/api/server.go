// Package api exposes the sync engine's operational surface: a liveness
// probe and a read-only view of recent run history, the two endpoints
// a headless sync process actually needs.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/riverfreight/syncengine/internal/config"
	"github.com/riverfreight/syncengine/internal/entity"
	"github.com/riverfreight/syncengine/internal/queue"
	"github.com/riverfreight/syncengine/internal/runstore"
	"github.com/rs/cors"
)

// Server is the engine's status HTTP surface.
type Server struct {
	config      *config.Config
	runs        *runstore.Store
	natsManager *queue.Manager
	router      *mux.Router
}

// NewServer wires the status surface against the run store the sync
// pipeline itself writes to, so /status reflects whatever RunCoordinator
// last recorded.
func NewServer(cfg *config.Config, runs *runstore.Store, natsManager *queue.Manager) *Server {
	s := &Server{
		config:      cfg,
		runs:        runs,
		natsManager: natsManager,
		router:      mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Router returns the configured HTTP handler with CORS applied.
func (s *Server) Router() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	})
	return c.Handler(s.router)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatusOverview).Methods("GET")
	s.router.HandleFunc("/status/{entity}", s.handleStatusEntity).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatusOverview returns the most recent runs across every entity,
// newest first.
func (s *Server) handleStatusOverview(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRecent(r.Context(), 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleStatusEntity returns the latest run for one entity table.
func (s *Server) handleStatusEntity(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["entity"]
	if !entity.Valid(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown entity: " + name})
		return
	}

	run, err := s.runs.GetLatest(r.Context(), name)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if run == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entity": name, "run": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": name, "run": run})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
