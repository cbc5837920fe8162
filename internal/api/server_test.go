package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"neuroflow/pkg/brainstate"
	"neuroflow/pkg/task"
)

// memTasks mimics the PgStore contract in memory.
type memTasks struct {
	mu     sync.Mutex
	nextID int
	rows   map[string]map[string]*task.Task // account -> id -> row
}

func newMemTasks() *memTasks {
	return &memTasks{rows: make(map[string]map[string]*task.Task)}
}

func (m *memTasks) acct(accountID string) map[string]*task.Task {
	if m.rows[accountID] == nil {
		m.rows[accountID] = make(map[string]*task.Task)
	}
	return m.rows[accountID]
}

func (m *memTasks) List(_ context.Context, accountID string, _ int) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.acct(accountID) {
		out = append(out, *t.Clone())
	}
	return out, nil
}

func (m *memTasks) Get(_ context.Context, accountID, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.acct(accountID)[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t.Clone(), nil
}

func (m *memTasks) Create(_ context.Context, accountID string, t *task.Task) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	row := t.Clone()
	row.ID = fmt.Sprintf("srv-%d", m.nextID)
	row.RemoteID = ""
	row.Version = 1
	m.acct(accountID)[row.ID] = row
	return row.Clone(), nil
}

func (m *memTasks) Update(_ context.Context, accountID string, t *task.Task) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.acct(accountID)[t.ID]
	if !ok {
		return nil, task.ErrNotFound
	}
	if cur.Version != t.Version {
		return nil, task.ErrVersionConflict
	}
	row := t.Clone()
	row.Version = cur.Version + 1
	m.acct(accountID)[t.ID] = row
	return row.Clone(), nil
}

func (m *memTasks) Delete(_ context.Context, accountID, id string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.acct(accountID)[id]
	if !ok {
		return task.ErrNotFound
	}
	if cur.Version != version {
		return task.ErrVersionConflict
	}
	delete(m.acct(accountID), id)
	return nil
}

type memStates struct {
	mu      sync.Mutex
	samples map[string][]brainstate.Sample
}

func newMemStates() *memStates {
	return &memStates{samples: make(map[string][]brainstate.Sample)}
}

func (m *memStates) Create(_ context.Context, accountID string, s *brainstate.Sample) (*brainstate.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.samples[accountID] {
		if have.ID == s.ID {
			return s, nil
		}
	}
	m.samples[accountID] = append(m.samples[accountID], *s)
	return s, nil
}

func (m *memStates) Recent(_ context.Context, accountID string, _ int) ([]brainstate.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]brainstate.Sample(nil), m.samples[accountID]...), nil
}

func newTestServer() (*Server, *memTasks, *memStates) {
	tasks := newMemTasks()
	states := newMemStates()
	return New(tasks, states), tasks, states
}

func doJSON(t *testing.T, h http.Handler, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if account != "" {
		req.Header.Set("X-Account-ID", account)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMissingAccountHeader(t *testing.T) {
	srv, _, _ := newTestServer()
	for _, path := range []string{"/api/tasks", "/api/brainstates"} {
		if w := doJSON(t, srv, http.MethodGet, path, "", nil); w.Code != 400 {
			t.Errorf("GET %s without account: code = %d, want 400", path, w.Code)
		}
	}
}

func TestTaskCreateAssignsServerIdentity(t *testing.T) {
	srv, _, _ := newTestServer()
	in := task.Task{ID: "local-1", Title: "water plants", ComplexityLevel: 2}

	w := doJSON(t, srv, http.MethodPost, "/api/tasks", "acct-1", in)
	if w.Code != 201 {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body)
	}
	var out task.Task
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID == "" || out.ID == "local-1" {
		t.Errorf("server did not assign its own id: %q", out.ID)
	}
	if out.Version != 1 {
		t.Errorf("version = %d, want 1", out.Version)
	}
}

func TestTaskCreateValidation(t *testing.T) {
	srv, _, _ := newTestServer()
	in := task.Task{Title: "", ComplexityLevel: 2}
	if w := doJSON(t, srv, http.MethodPost, "/api/tasks", "acct-1", in); w.Code != 400 {
		t.Errorf("empty title: code = %d, want 400", w.Code)
	}
	in = task.Task{Title: "x", ComplexityLevel: 9}
	if w := doJSON(t, srv, http.MethodPost, "/api/tasks", "acct-1", in); w.Code != 400 {
		t.Errorf("complexity 9: code = %d, want 400", w.Code)
	}
}

func TestTaskUpdateStaleVersionConflicts(t *testing.T) {
	srv, tasks, _ := newTestServer()
	row, err := tasks.Create(context.Background(), "acct-1", &task.Task{Title: "x", ComplexityLevel: 1})
	if err != nil {
		t.Fatal(err)
	}

	fresh := task.Task{Title: "renamed", ComplexityLevel: 1, Version: row.Version}
	if w := doJSON(t, srv, http.MethodPut, "/api/tasks/"+row.ID, "acct-1", fresh); w.Code != 200 {
		t.Fatalf("fresh update: code = %d, body = %s", w.Code, w.Body)
	}

	stale := task.Task{Title: "too late", ComplexityLevel: 1, Version: row.Version}
	if w := doJSON(t, srv, http.MethodPut, "/api/tasks/"+row.ID, "acct-1", stale); w.Code != 409 {
		t.Errorf("stale update: code = %d, want 409", w.Code)
	}

	missing := task.Task{Title: "x", ComplexityLevel: 1, Version: 1}
	if w := doJSON(t, srv, http.MethodPut, "/api/tasks/nope", "acct-1", missing); w.Code != 404 {
		t.Errorf("missing row: code = %d, want 404", w.Code)
	}
}

func TestTaskDelete(t *testing.T) {
	srv, tasks, _ := newTestServer()
	row, err := tasks.Create(context.Background(), "acct-1", &task.Task{Title: "x", ComplexityLevel: 1})
	if err != nil {
		t.Fatal(err)
	}

	if w := doJSON(t, srv, http.MethodDelete, "/api/tasks/"+row.ID, "acct-1", nil); w.Code != 400 {
		t.Errorf("delete without version: code = %d, want 400", w.Code)
	}
	path := fmt.Sprintf("/api/tasks/%s?version=%d", row.ID, row.Version)
	if w := doJSON(t, srv, http.MethodDelete, path, "acct-1", nil); w.Code != 200 {
		t.Errorf("delete: code = %d, body = %s", w.Code, w.Body)
	}
	if w := doJSON(t, srv, http.MethodDelete, path, "acct-1", nil); w.Code != 404 {
		t.Errorf("second delete: code = %d, want 404", w.Code)
	}
}

func TestTasksScopedByAccount(t *testing.T) {
	srv, tasks, _ := newTestServer()
	if _, err := tasks.Create(context.Background(), "acct-1", &task.Task{Title: "mine", ComplexityLevel: 1}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodGet, "/api/tasks", "acct-2", nil)
	if w.Code != 200 {
		t.Fatalf("code = %d", w.Code)
	}
	var out []task.Task
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("acct-2 sees %d foreign tasks", len(out))
	}
}

func TestStateCreateAndValidation(t *testing.T) {
	srv, _, states := newTestServer()
	sm := brainstate.Sample{ID: "s1", Energy: 4, Focus: 6, Mood: 7, CapturedAt: time.Now()}

	if w := doJSON(t, srv, http.MethodPost, "/api/brainstates", "acct-1", sm); w.Code != 201 {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body)
	}
	if got := len(states.samples["acct-1"]); got != 1 {
		t.Errorf("stored %d samples, want 1", got)
	}

	bad := brainstate.Sample{ID: "s2", Energy: 0, Focus: 6, Mood: 7}
	if w := doJSON(t, srv, http.MethodPost, "/api/brainstates", "acct-1", bad); w.Code != 400 {
		t.Errorf("energy 0: code = %d, want 400", w.Code)
	}
	noID := brainstate.Sample{Energy: 4, Focus: 6, Mood: 7}
	if w := doJSON(t, srv, http.MethodPost, "/api/brainstates", "acct-1", noID); w.Code != 400 {
		t.Errorf("missing id: code = %d, want 400", w.Code)
	}
}

func TestStateCreateIdempotentPerID(t *testing.T) {
	srv, _, states := newTestServer()
	sm := brainstate.Sample{ID: "s1", Energy: 4, Focus: 6, Mood: 7, CapturedAt: time.Now()}

	doJSON(t, srv, http.MethodPost, "/api/brainstates", "acct-1", sm)
	doJSON(t, srv, http.MethodPost, "/api/brainstates", "acct-1", sm)
	if got := len(states.samples["acct-1"]); got != 1 {
		t.Errorf("retried sample stored %d times, want 1", got)
	}
}
