// Package task defines the task model shared by the reconciliation engine,
// the local cache and the remote store.
package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncState tracks where a task sits between the optimistic local copy and
// the remote store. Transitions are owned solely by the reconciliation
// engine; anything other than StateSynced means a remote operation is
// outstanding.
type SyncState string

const (
	StateSynced        SyncState = "synced"
	StatePendingCreate SyncState = "pending_create"
	StatePendingUpdate SyncState = "pending_update"
	StatePendingDelete SyncState = "pending_delete"

	// StateConflict marks a task the remote permanently rejected. The local
	// fields stay intact for the user to correct; nothing is dropped.
	StateConflict SyncState = "conflict"
)

// Task is a unit of work. Created optimistically on-device or pulled from
// the remote store.
type Task struct {
	// ID is the device-local identity and never changes; RemoteID is the
	// server-assigned row id, empty until the first successful create.
	ID               string          `json:"id"`
	RemoteID         string          `json:"remote_id,omitempty"`
	Title            string          `json:"title"`
	ComplexityLevel  int             `json:"complexity_level"` // 1..5
	EstimatedMinutes *int            `json:"estimated_minutes,omitempty"`
	IsCompleted      bool            `json:"is_completed"`
	AIBreakdown      json.RawMessage `json:"ai_breakdown,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int64           `json:"version"` // remote row version, 0 until first sync
	SyncState        SyncState       `json:"sync_state"`

	// ConflictReason carries the remote rejection message when SyncState is
	// StateConflict.
	ConflictReason string `json:"conflict_reason,omitempty"`
}

// Input is the user-supplied portion of a new task.
type Input struct {
	Title            string `json:"title"`
	ComplexityLevel  int    `json:"complexity_level"`
	EstimatedMinutes *int   `json:"estimated_minutes,omitempty"`
}

// ValidationError reports rejected task input. Returned before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the creation input.
func (in Input) Validate() error {
	if in.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if in.ComplexityLevel < 1 || in.ComplexityLevel > 5 {
		return &ValidationError{Field: "complexity_level", Reason: "must be between 1 and 5"}
	}
	if in.EstimatedMinutes != nil && *in.EstimatedMinutes <= 0 {
		return &ValidationError{Field: "estimated_minutes", Reason: "must be positive"}
	}
	return nil
}

// Pending reports whether a remote operation is outstanding for the task.
func (t *Task) Pending() bool {
	switch t.SyncState {
	case StatePendingCreate, StatePendingUpdate, StatePendingDelete:
		return true
	}
	return false
}

// Clone returns a copy safe to hand across goroutines. The breakdown blob is
// shared; it is never mutated in place.
func (t *Task) Clone() *Task {
	cp := *t
	if t.EstimatedMinutes != nil {
		v := *t.EstimatedMinutes
		cp.EstimatedMinutes = &v
	}
	return &cp
}
