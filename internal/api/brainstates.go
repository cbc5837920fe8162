package api

import (
	"encoding/json"
	"net/http"

	"neuroflow/pkg/brainstate"
)

func (s *Server) handleStateList(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 30)
	samples, err := s.states.Recent(r.Context(), acct, limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if samples == nil {
		samples = []brainstate.Sample{}
	}
	writeJSON(w, 200, samples)
}

func (s *Server) handleStateCreate(w http.ResponseWriter, r *http.Request) {
	acct, ok := accountID(w, r)
	if !ok {
		return
	}
	var sm brainstate.Sample
	if err := json.NewDecoder(r.Body).Decode(&sm); err != nil {
		writeError(w, 400, "invalid JSON: "+err.Error())
		return
	}
	if sm.ID == "" {
		writeError(w, 400, "id is required")
		return
	}
	in := brainstate.Input{Energy: sm.Energy, Focus: sm.Focus, Mood: sm.Mood, Notes: sm.Notes}
	if err := in.Validate(); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	result, err := s.states.Create(r.Context(), acct, &sm)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 201, result)
}
