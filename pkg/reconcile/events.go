package reconcile

import (
	"neuroflow/pkg/brainstate"
	"neuroflow/pkg/task"
)

// EventKind names what happened to a task.
type EventKind string

const (
	// EventCreated fires on optimistic local creation, before any remote
	// confirmation.
	EventCreated EventKind = "task.created"

	// EventUpdated fires on any optimistic local mutation.
	EventUpdated EventKind = "task.updated"

	// EventDeleted fires when a task leaves the local set.
	EventDeleted EventKind = "task.deleted"

	// EventSynced fires when the remote confirms and the local copy
	// converges.
	EventSynced EventKind = "task.synced"

	// EventConflict fires when the remote permanently rejects a mutation.
	// The task stays local, flagged, with Reason set.
	EventConflict EventKind = "task.conflict"

	// EventSavedOffline fires when the retry budget is exhausted or the
	// device is offline. The mutation is parked, never dropped.
	EventSavedOffline EventKind = "task.saved_offline"
)

// TaskEvent is published on every task state change.
type TaskEvent struct {
	Kind   EventKind `json:"kind"`
	Task   task.Task `json:"task"`
	Reason string    `json:"reason,omitempty"`
}

// StateEvent is published on brain-state changes.
type StateEvent struct {
	Kind   EventKind          `json:"kind"`
	Sample *brainstate.Sample `json:"sample,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

const (
	// EventStateSubmitted fires when a check-in lands in the local cache.
	EventStateSubmitted EventKind = "state.submitted"

	// EventStateSynced fires when the remote confirms the check-in.
	EventStateSynced EventKind = "state.synced"

	// EventStateSavedOffline fires when the check-in could not reach the
	// remote; the local copy still serves adaptations.
	EventStateSavedOffline EventKind = "state.saved_offline"
)
