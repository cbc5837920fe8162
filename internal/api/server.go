// Package api is the reference backend devices sync against. It speaks the
// JSON CRUD surface pkg/remote expects: account-scoped tasks with optimistic
// row versions, and an append-only brain-state history.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"neuroflow/pkg/brainstate"
	"neuroflow/pkg/task"
)

// TaskStore is the persistence the task handlers need.
type TaskStore interface {
	List(ctx context.Context, accountID string, limit int) ([]task.Task, error)
	Get(ctx context.Context, accountID, id string) (*task.Task, error)
	Create(ctx context.Context, accountID string, t *task.Task) (*task.Task, error)
	Update(ctx context.Context, accountID string, t *task.Task) (*task.Task, error)
	Delete(ctx context.Context, accountID, id string, version int64) error
}

// StateStore is the persistence the brain-state handlers need.
type StateStore interface {
	Create(ctx context.Context, accountID string, s *brainstate.Sample) (*brainstate.Sample, error)
	Recent(ctx context.Context, accountID string, limit int) ([]brainstate.Sample, error)
}

// Server is the HTTP API server.
type Server struct {
	tasks  TaskStore
	states StateStore
	mux    *http.ServeMux
}

// New creates a new Server.
func New(tasks TaskStore, states StateStore) *Server {
	s := &Server{
		tasks:  tasks,
		states: states,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Tasks
	s.mux.HandleFunc("GET /api/tasks", s.handleTaskList)
	s.mux.HandleFunc("POST /api/tasks", s.handleTaskCreate)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleTaskGet)
	s.mux.HandleFunc("PUT /api/tasks/{id}", s.handleTaskUpdate)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleTaskDelete)

	// Brain states
	s.mux.HandleFunc("GET /api/brainstates", s.handleStateList)
	s.mux.HandleFunc("POST /api/brainstates", s.handleStateCreate)

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

// accountID pulls the authenticated account from the request. Every data
// route requires it; rows never cross accounts.
func accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-Account-ID")
	if id == "" {
		writeError(w, 400, "X-Account-ID header is required")
		return "", false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
