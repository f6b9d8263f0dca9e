// Package server exposes the read-only HTTP API: health, live stats,
// stored events, daily rollups, CSV export and the stats WebSocket.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"linetally/internal/pipeline"
	"linetally/internal/storage"
	"linetally/internal/ws"
)

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Server wires the pipeline snapshot and storage into HTTP handlers.
type Server struct {
	pipe  *pipeline.Pipeline
	store *storage.Store
	hub   *ws.Hub
	mux   *http.ServeMux
}

// New builds the handler set. store may be nil when persistence is
// disabled; the event and rollup endpoints then return 404.
func New(pipe *pipeline.Pipeline, store *storage.Store, hub *ws.Hub) *Server {
	s := &Server{pipe: pipe, store: store, hub: hub, mux: http.NewServeMux()}

	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/events", s.handleEvents)
	s.mux.HandleFunc("/rollups", s.handleRollup)
	s.mux.HandleFunc("/export", s.handleExport)
	s.mux.Handle("/ws/stats", ws.NewHandler(hub))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe runs the server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("[Server] Listening on %s", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ws_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.NotFound(w, r)
		return
	}
	day := r.URL.Query().Get("day")
	if day != "" && !dayPattern.MatchString(day) {
		http.Error(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	limit := 1000
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.store.Events(day, limit)
	if err != nil {
		log.Printf("[Server] Events query failed: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []storage.EventRecord{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleRollup(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.NotFound(w, r)
		return
	}
	day := r.URL.Query().Get("day")
	if !dayPattern.MatchString(day) {
		http.Error(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	rollup, err := s.store.GetRollup(day)
	if err != nil {
		log.Printf("[Server] Rollup query failed: %v", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if rollup == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	day := r.URL.Query().Get("day")
	if !dayPattern.MatchString(day) {
		http.Error(w, "day must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	path, err := s.store.ExportCSV(day)
	if err != nil {
		log.Printf("[Server] Export failed: %v", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Encode response failed: %v", err)
	}
}
