package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"neuroflow/pkg/task"
)

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 200)
	tasks, err := s.tasks.List(r.Context(), acct, limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, 200, tasks)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	t, err := s.tasks.Get(r.Context(), acct, r.PathValue("id"))
	if errors.Is(err, task.ErrNotFound) {
		writeError(w, 404, err.Error())
		return
	}
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, t)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	var t task.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if err := taskInput(&t).Validate(); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	result, err := s.tasks.Create(r.Context(), acct, &t)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 201, result)
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	var t task.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if err := taskInput(&t).Validate(); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	t.ID = r.PathValue("id")
	result, err := s.tasks.Update(r.Context(), acct, &t)
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, 404, err.Error())
	case errors.Is(err, task.ErrVersionConflict):
		writeError(w, 409, err.Error())
	case err != nil:
		writeError(w, 500, err.Error())
	default:
		writeJSON(w, 200, result)
	}
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	version, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil {
		writeError(w, 400, "version query parameter is required")
		return
	}
	err = s.tasks.Delete(r.Context(), acct, r.PathValue("id"), version)
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, 404, err.Error())
	case errors.Is(err, task.ErrVersionConflict):
		writeError(w, 409, err.Error())
	case err != nil:
		writeError(w, 500, err.Error())
	default:
		writeJSON(w, 200, map[string]string{"status": "deleted"})
	}
}

func taskInput(t *task.Task) task.Input {
	return task.Input{
		Title:            t.Title,
		ComplexityLevel:  t.ComplexityLevel,
		EstimatedMinutes: t.EstimatedMinutes,
	}
}
