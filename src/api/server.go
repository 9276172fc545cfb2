// Package api serves a read-only JSON view of the collector's state.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"build-collector/src/contracts"
	"build-collector/src/logger"
	"build-collector/src/store"
	"build-collector/src/telemetry"
)

const defaultBuildLimit = 25

// Store is the subset of persistence the API reads.
type Store interface {
	store.JobStore
	store.BuildStore
	store.CollectorStore
}

// Server wires HTTP handlers for one collector.
type Server struct {
	store         Store
	collectorName string
	logger        logger.Logger
}

// New constructs the API server.
func New(st Store, collectorName string, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Server{store: st, collectorName: collectorName, logger: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/collector", s.handleCollector)
		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/{id}/builds", s.handleBuilds)
	})
	return r
}

type jobView struct {
	contracts.Job
	Builds int `json:"builds"`
}

func (s *Server) handleCollector(w http.ResponseWriter, r *http.Request) {
	col, err := s.store.FindCollector(r.Context(), s.collectorName)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

// handleJobs lists the collector's jobs. ?enabled=true limits the list to
// jobs consumed by a component.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	onlyEnabled, _ := strconv.ParseBool(r.URL.Query().Get("enabled"))

	col, err := s.store.FindCollector(r.Context(), s.collectorName)
	if store.IsNotFound(err) {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []jobView{}})
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	jobs, err := s.store.JobsForCollectors(r.Context(), []string{col.ID})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		if onlyEnabled && !job.Enabled {
			continue
		}
		count, err := s.store.CountBuilds(r.Context(), job.ID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		views = append(views, jobView{Job: job, Builds: count})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := defaultBuildLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	builds, err := s.store.BuildsForJob(r.Context(), id, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"builds": builds})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.logger.Error("[API] Store error: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
